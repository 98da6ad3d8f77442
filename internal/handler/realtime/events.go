package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

// errThrottled rejects frames beyond the per-connection rate.
var errThrottled = errors.New("frame rate limit exceeded")

type eventHandler func(ctx context.Context, c *client, msg inboundMessage) error

func (h *Handler) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		session.EventJoinSession:  h.onJoin,
		session.EventLeaveSession: h.onLeave,
		session.EventEmotion:      h.onEmotion,
		session.EventMessageSent:  h.onMessage,
		session.EventAIResponse:   h.onAIResponse,
		session.EventVideoStatus:  h.onMedia(session.MediaVideo),
		session.EventMicStatus:    h.onMedia(session.MediaMic),
		session.EventProcessFrame: h.onFrame,
		session.EventProcessText:  h.onText,
	}
}

func (h *Handler) onJoin(_ context.Context, c *client, msg inboundMessage) error {
	var payload struct {
		SessionID string `json:"session_id"`
	}
	if len(msg.Data) > 0 {
		if err := decodeData(msg.Data, &payload); err != nil {
			return err
		}
	}
	if payload.SessionID == "" {
		payload.SessionID = msg.SessionID
	}
	_, err := h.registry.Join(c, payload.SessionID)
	return err
}

func (h *Handler) onLeave(_ context.Context, c *client, _ inboundMessage) error {
	sessionID, ok := h.registry.Leave(c.id)
	if !ok {
		return nil
	}
	c.Send(session.NewEvent(session.EventSessionLeft, sessionID, map[string]string{"session_id": sessionID}))
	return nil
}

func (h *Handler) onEmotion(_ context.Context, c *client, msg inboundMessage) error {
	var patch session.EmotionPatch
	if err := decodeData(msg.Data, &patch); err != nil {
		return err
	}
	if patch.Empty() {
		return fmt.Errorf("%w: empty emotion update", session.ErrInvalidPayload)
	}
	_, err := h.registry.UpdateEmotion(c.id, patch)
	return err
}

func (h *Handler) onMessage(_ context.Context, c *client, msg inboundMessage) error {
	return h.registry.RelayMessage(c.id, msg.Data)
}

func (h *Handler) onAIResponse(_ context.Context, c *client, msg inboundMessage) error {
	return h.registry.RelayResponse(c.id, msg.Data)
}

func (h *Handler) onMedia(field session.MediaField) eventHandler {
	return func(_ context.Context, c *client, msg inboundMessage) error {
		payload := map[string]bool{}
		if err := decodeData(msg.Data, &payload); err != nil {
			return err
		}
		return h.registry.UpdateMediaStatus(c.id, field, payload[string(field)])
	}
}

func (h *Handler) onFrame(ctx context.Context, c *client, msg inboundMessage) error {
	if !c.frames.Allow() {
		h.metrics.FrameThrottled()
		return errThrottled
	}
	var in orchestrator.FrameInput
	if err := decodeData(msg.Data, &in); err != nil {
		return err
	}
	in.ConnectionID = c.id

	result, err := h.processor.ProcessFrame(ctx, in)
	if err != nil {
		return err
	}
	c.Send(session.NewEvent(session.EventFrameResult, msg.SessionID, result))
	return nil
}

func (h *Handler) onText(ctx context.Context, c *client, msg inboundMessage) error {
	var in orchestrator.TextInput
	if err := decodeData(msg.Data, &in); err != nil {
		return err
	}
	in.ConnectionID = c.id

	result, err := h.processor.ProcessText(ctx, in)
	if err != nil {
		return err
	}
	c.Send(session.NewEvent(session.EventTextResult, msg.SessionID, result))
	return nil
}

// describe turns a handler error into the message of an error event.
func describe(err error) string {
	switch {
	case errors.Is(err, errThrottled):
		return errThrottled.Error()
	case errors.Is(err, session.ErrInvalidPayload), errors.Is(err, orchestrator.ErrInvalidInput):
		return err.Error()
	default:
		return "request failed"
	}
}
