package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig
	AI          AIConfig
	Classifier  ClassifierConfig
	Conditioner ConditionerConfig
	Realtime    RealtimeConfig
	Log         LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr
	if cfg.Server.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("invalid MAX_BODY_BYTES value: %d", cfg.Server.MaxBodyBytes)
	}

	if cfg.AI.HistoryLimit < 1 {
		cfg.AI.HistoryLimit = 1
	}
	if err := cfg.Classifier.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Realtime.validate(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.Conditioner.Pipeline(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"8388608"`
	Addr            string
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey              string        `env:"ARK_API_KEY"`
	AccessKey           string        `env:"ARK_ACCESS_KEY"`
	SecretKey           string        `env:"ARK_SECRET_KEY"`
	Model               string        `env:"ARK_MODEL"`
	BaseURL             string        `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region              string        `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature         *float64      `env:"ARK_TEMPERATURE"`
	TopP                *float64      `env:"ARK_TOP_P"`
	MaxTokens           *int          `env:"ARK_MAX_TOKENS"`
	ResponseTimeout     time.Duration `env:"AI_RESPONSE_TIMEOUT" envDefault:"20s"`
	EmotionLLMEnabled   bool          `env:"AI_EMOTION_LLM_ENABLED" envDefault:"false"`
	HistoryLimit        int           `env:"AI_HISTORY_LIMIT" envDefault:"10"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// Text classifier backends.
const (
	TextBackendAuto      = "auto"
	TextBackendHTTP      = "http"
	TextBackendLLM       = "llm"
	TextBackendHeuristic = "heuristic"
)

// ClassifierConfig 描述外部情绪分类服务。
type ClassifierConfig struct {
	FaceURL     string        `env:"FACE_CLASSIFIER_URL"`
	TextURL     string        `env:"TEXT_CLASSIFIER_URL"`
	TextBackend string        `env:"TEXT_CLASSIFIER" envDefault:"auto"`
	Timeout     time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"5s"`
}

func (c *ClassifierConfig) validate() error {
	c.TextBackend = strings.ToLower(strings.TrimSpace(c.TextBackend))
	switch c.TextBackend {
	case "":
		c.TextBackend = TextBackendAuto
	case TextBackendAuto, TextBackendLLM, TextBackendHeuristic:
	case TextBackendHTTP:
		if c.TextURL == "" {
			return fmt.Errorf("TEXT_CLASSIFIER=http requires TEXT_CLASSIFIER_URL")
		}
	default:
		return fmt.Errorf("invalid TEXT_CLASSIFIER value: %q", c.TextBackend)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid CLASSIFIER_TIMEOUT value: %s", c.Timeout)
	}
	return nil
}

// ConditionerConfig 描述图像预处理的初始参数，运行时可通过 API 修改。
type ConditionerConfig struct {
	Strategy     string  `env:"CONDITIONER_STRATEGY" envDefault:"combined"`
	TargetWidth  int     `env:"CONDITIONER_TARGET_WIDTH" envDefault:"224"`
	TargetHeight int     `env:"CONDITIONER_TARGET_HEIGHT" envDefault:"224"`
	ClipLimit    float64 `env:"CONDITIONER_CLAHE_CLIP" envDefault:"3.0"`
	TileGridX    int     `env:"CONDITIONER_CLAHE_GRID_X" envDefault:"8"`
	TileGridY    int     `env:"CONDITIONER_CLAHE_GRID_Y" envDefault:"8"`
	MaxPixels    int     `env:"CONDITIONER_MAX_FRAME_PIXELS" envDefault:"16777216"`
}

// Pipeline resolves the configured strategy and parameters.
func (c ConditionerConfig) Pipeline() (imaging.Strategy, imaging.Params, error) {
	strategy, err := imaging.ParseStrategy(c.Strategy)
	if err != nil {
		return "", imaging.Params{}, fmt.Errorf("invalid CONDITIONER_STRATEGY: %w", err)
	}
	if c.MaxPixels <= 0 {
		return "", imaging.Params{}, fmt.Errorf("invalid CONDITIONER_MAX_FRAME_PIXELS value: %d", c.MaxPixels)
	}
	if c.TargetWidth <= 0 || c.TargetHeight <= 0 {
		return "", imaging.Params{}, fmt.Errorf("invalid conditioner target size %dx%d", c.TargetWidth, c.TargetHeight)
	}
	params := imaging.DefaultParams()
	params.TargetWidth = c.TargetWidth
	params.TargetHeight = c.TargetHeight
	params.CLAHE = imaging.CLAHEParams{ClipLimit: c.ClipLimit, TileGrid: [2]int{c.TileGridX, c.TileGridY}}
	if err := params.CLAHE.Validate(); err != nil {
		return "", imaging.Params{}, fmt.Errorf("invalid CLAHE configuration: %w", err)
	}
	return strategy, params, nil
}

// RealtimeConfig 描述 WebSocket 连接参数。
type RealtimeConfig struct {
	FrameRate       float64       `env:"FRAME_RATE_LIMIT" envDefault:"10"`
	FrameBurst      int           `env:"FRAME_RATE_BURST" envDefault:"5"`
	SendBuffer      int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	PingInterval    time.Duration `env:"WS_PING_INTERVAL" envDefault:"54s"`
	ReadTimeout     time.Duration `env:"WS_READ_TIMEOUT" envDefault:"60s"`
	MaxMessageBytes int64         `env:"WS_MAX_MESSAGE_BYTES" envDefault:"8388608"`
}

func (c RealtimeConfig) validate() error {
	if c.FrameRate <= 0 || c.FrameBurst <= 0 {
		return fmt.Errorf("invalid frame rate limit %v/%d", c.FrameRate, c.FrameBurst)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("invalid WS_SEND_BUFFER value: %d", c.SendBuffer)
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval {
		return fmt.Errorf("WS_READ_TIMEOUT (%s) must exceed WS_PING_INTERVAL (%s)", c.ReadTimeout, c.PingInterval)
	}
	return nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}
