package analysis

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	convmodel "github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/pkg/utils"
)

// Pipeline is the part of the orchestrator the HTTP surface needs.
type Pipeline interface {
	ProcessFrame(ctx context.Context, in orchestrator.FrameInput) (orchestrator.FrameResult, error)
	ProcessText(ctx context.Context, in orchestrator.TextInput) (orchestrator.TextResult, error)
	Scope(connID string) string
	Emotions(connID string) convmodel.Emotions
	SessionEmotions(sessionID string) map[string]convmodel.Emotions
}

// Handler 情绪分析与对话的HTTP处理器
type Handler struct {
	pipeline Pipeline
	store    *conversation.Store
	maxBody  int64
	log      *logrus.Entry
}

// New 创建分析处理器
func New(pipeline Pipeline, store *conversation.Store, maxBody int64) *Handler {
	return &Handler{
		pipeline: pipeline,
		store:    store,
		maxBody:  maxBody,
		log:      logrus.WithField("component", "analysis"),
	}
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/process_frame", h.handleProcessFrame)
	r.Post("/process_text", h.handleProcessText)
	r.Get("/conversation", h.handleConversation)
	r.Get("/emotions", h.handleEmotions)
}

func (h *Handler) handleProcessFrame(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.FrameInput
	if err := utils.DecodeJSON(w, r, h.maxBody, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Frame == "" {
		utils.RespondError(w, http.StatusBadRequest, "No frame data provided")
		return
	}

	result, err := h.pipeline.ProcessFrame(r.Context(), payload)
	if err != nil {
		h.respondFailure(w, err, "frame processing failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var payload orchestrator.TextInput
	if err := utils.DecodeJSON(w, r, h.maxBody, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.pipeline.ProcessText(r.Context(), payload)
	if err != nil {
		h.respondFailure(w, err, "text processing failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleConversation 返回对话记录与当前情绪；session_id 或 connection_id 选择作用域。
// 情绪按参与者保存，会话作用域下额外返回每个参与者的情绪。
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	scope := h.scope(r)
	body := map[string]any{
		"conversation":     h.store.Transcript(scope),
		"current_emotions": h.pipeline.Emotions(r.URL.Query().Get("connection_id")),
	}
	if scope != conversation.GlobalScope {
		body["participant_emotions"] = h.pipeline.SessionEmotions(scope)
	}
	utils.RespondJSON(w, http.StatusOK, body)
}

func (h *Handler) handleEmotions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.pipeline.Emotions(r.URL.Query().Get("connection_id")))
}

func (h *Handler) scope(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("session_id"); id != "" {
		return id
	}
	return h.pipeline.Scope(q.Get("connection_id"))
}

func (h *Handler) respondFailure(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, orchestrator.ErrInvalidInput) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.WithError(err).Error(fallback)
	utils.RespondError(w, http.StatusInternalServerError, fallback)
}
