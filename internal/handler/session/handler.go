package session

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-therapist/backend/internal/session"
	"github.com/zhouzirui/z-therapist/backend/pkg/utils"
)

// Handler 会话查询的HTTP处理器
type Handler struct {
	registry *session.Registry
}

// New 创建会话处理器
func New(registry *session.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/{sessionID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.AllSessions())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	info, ok := h.registry.SessionInfo(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}
