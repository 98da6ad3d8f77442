package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/config"
	"github.com/zhouzirui/z-therapist/backend/internal/handler"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
	"github.com/zhouzirui/z-therapist/backend/internal/service/ai"
	"github.com/zhouzirui/z-therapist/backend/internal/service/classifier"
	"github.com/zhouzirui/z-therapist/backend/internal/service/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Warn("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	setupLogging(cfg.Log)

	m := metrics.New()

	strategy, params, err := cfg.Conditioner.Pipeline()
	if err != nil {
		logrus.WithError(err).Fatal("invalid conditioner configuration")
	}
	conditioner, err := imaging.NewConditioner(strategy, params)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create conditioner")
	}

	// Initialize chat model
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logrus.WithError(err).Warn("failed to initialize chat model, 请检查 Ark 模型相关环境变量")
			chatModel = nil
		}
	} else {
		logrus.Info("Ark 凭证未配置，回复将使用预设文案")
	}

	var responder *ai.Service
	if chatModel != nil {
		responder, err = ai.NewService(ctx, chatModel, cfg.AI.ResponseTimeout, cfg.AI.HistoryLimit)
		if err != nil {
			logrus.WithError(err).Warn("failed to initialize response generator, using fallback responses")
			responder = nil
		} else {
			logrus.Info("response generator initialized")
		}
	}

	guard := classifier.NewGuard(
		newFaceClassifier(cfg.Classifier),
		newTextClassifier(ctx, cfg, chatModel),
		cfg.Classifier.Timeout,
		m,
	)

	store := conversation.NewStore()
	registry := session.NewRegistry(m)
	registry.OnSessionClosed(store.Drop)

	orch, err := orchestrator.New(orchestrator.Deps{
		Conditioner: conditioner,
		Classifiers: guard,
		Responder:   responder,
		Store:       store,
		Registry:    registry,
		Metrics:     m,

		MaxFramePixels: cfg.Conditioner.MaxPixels,
	})
	if err != nil {
		logrus.WithError(err).Fatal("failed to create orchestrator")
	}

	router := handler.NewRouter(handler.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Store:        store,
		Registry:     registry,
		Conditioner:  conditioner,
		Metrics:      m,
	})

	startServer(ctx, cfg.Server, router)
}

func setupLogging(cfg config.LogConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.WithError(err).Warnf("invalid LOG_LEVEL %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func newFaceClassifier(cfg config.ClassifierConfig) classifier.FaceClassifier {
	if cfg.FaceURL == "" {
		logrus.Warn("FACE_CLASSIFIER_URL not set, face emotion will stay neutral")
		return nil
	}
	logrus.WithField("url", cfg.FaceURL).Info("face classifier enabled")
	return classifier.NewHTTPFace(cfg.FaceURL, nil)
}

// newTextClassifier 按配置选择文本情绪分类后端，auto 依次尝试 http、llm，最后是关键词启发式。
func newTextClassifier(ctx context.Context, cfg *config.Config, chatModel model.ChatModel) classifier.TextClassifier {
	backend := cfg.Classifier.TextBackend
	if backend == config.TextBackendAuto {
		switch {
		case cfg.Classifier.TextURL != "":
			backend = config.TextBackendHTTP
		case cfg.AI.EmotionLLMEnabled && chatModel != nil:
			backend = config.TextBackendLLM
		default:
			backend = config.TextBackendHeuristic
		}
	}

	log := logrus.WithField("backend", backend)
	switch backend {
	case config.TextBackendHTTP:
		log.Info("text classifier enabled")
		return classifier.Fallback{Primary: classifier.NewHTTPText(cfg.Classifier.TextURL, nil), Secondary: classifier.Heuristic{}}
	case config.TextBackendLLM:
		if chatModel == nil {
			log.Warn("chat model unavailable, falling back to heuristics")
			return classifier.Heuristic{}
		}
		llm, err := classifier.NewLLMText(ctx, chatModel)
		if err != nil {
			log.WithError(err).Warn("failed to initialize llm text classifier, falling back to heuristics")
			return classifier.Heuristic{}
		}
		log.Info("text classifier enabled")
		return classifier.Fallback{Primary: llm, Secondary: classifier.Heuristic{}}
	default:
		log.Info("text classifier enabled")
		return classifier.Heuristic{}
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.WithField("addr", addr).Info("Z Therapist backend listening")
	if err := runServer(ctx, srv, serverCfg.ShutdownTimeout); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
