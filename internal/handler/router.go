package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-therapist/backend/internal/config"
	"github.com/zhouzirui/z-therapist/backend/internal/handler/analysis"
	"github.com/zhouzirui/z-therapist/backend/internal/handler/conditioner"
	"github.com/zhouzirui/z-therapist/backend/internal/handler/realtime"
	sessionHandler "github.com/zhouzirui/z-therapist/backend/internal/handler/session"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/z-therapist/backend/internal/middleware"
	"github.com/zhouzirui/z-therapist/backend/internal/service/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
	"github.com/zhouzirui/z-therapist/backend/pkg/utils"
)

// Deps 汇总路由需要的核心服务。
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Store        *conversation.Store
	Registry     *session.Registry
	Conditioner  *imaging.Conditioner
	Metrics      *metrics.Metrics
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Config.Server.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	realtime.New(deps.Registry, deps.Orchestrator, deps.Metrics, deps.Config.Realtime).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		analysis.New(deps.Orchestrator, deps.Store, deps.Config.Server.MaxBodyBytes).RegisterRoutes(api)
		sessionHandler.New(deps.Registry).RegisterRoutes(api)
		conditioner.New(deps.Conditioner).RegisterRoutes(api)
	})

	return r
}
