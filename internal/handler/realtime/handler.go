package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/config"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

// Processor runs frames and utterances through the analysis pipeline.
type Processor interface {
	ProcessFrame(ctx context.Context, in orchestrator.FrameInput) (orchestrator.FrameResult, error)
	ProcessText(ctx context.Context, in orchestrator.TextInput) (orchestrator.TextResult, error)
}

// Handler WebSocket 实时会话处理器
type Handler struct {
	registry  *session.Registry
	processor Processor
	metrics   *metrics.Metrics
	cfg       config.RealtimeConfig
	upgrader  websocket.Upgrader
	dispatch  map[string]eventHandler
	log       *logrus.Entry
}

// New 创建实时处理器
func New(registry *session.Registry, processor Processor, m *metrics.Metrics, cfg config.RealtimeConfig) *Handler {
	h := &Handler{
		registry:  registry,
		processor: processor,
		metrics:   m,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logrus.WithField("component", "realtime"),
	}
	h.dispatch = h.eventHandlers()
	return h
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), conn, h.cfg.SendBuffer, h.cfg.FrameRate, h.cfg.FrameBurst)
	h.metrics.ConnectionOpened()
	c.log.Info("client connected")

	go c.writePump(h.cfg.PingInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		if sessionID, ok := h.registry.Leave(c.id); ok {
			c.log.WithField("session_id", sessionID).Debug("left session on disconnect")
		}
		c.close()
		h.metrics.ConnectionClosed()
		c.log.Info("client disconnected")
	}()

	c.Send(session.NewEvent(session.EventConnected, "", map[string]string{
		"status":        "success",
		"connection_id": c.id,
	}))

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		select {
		case <-c.done:
			return
		default:
		}
		h.handleMessage(ctx, c, msg)
	}
}

// handleMessage 分发单个事件；处理器中的 panic 只影响该事件。
func (h *Handler) handleMessage(ctx context.Context, c *client, msg inboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.WithField("event", msg.Type).Errorf("event handler panic: %v", rec)
			c.sendError("internal error")
		}
	}()

	handle, ok := h.dispatch[msg.Type]
	if !ok {
		c.sendError("unsupported message type: " + msg.Type)
		return
	}
	err := handle(ctx, c, msg)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotJoined):
		// 未加入会话的操作直接忽略
		c.log.WithField("event", msg.Type).Debug("event ignored: not in a session")
	default:
		c.log.WithError(err).WithField("event", msg.Type).Debug("event rejected")
		c.sendError(describe(err))
	}
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", session.ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", session.ErrInvalidPayload, err)
	}
	return nil
}
