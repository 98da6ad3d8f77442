package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
	convmodel "github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/ai"
	"github.com/zhouzirui/z-therapist/backend/internal/service/classifier"
	"github.com/zhouzirui/z-therapist/backend/internal/service/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

// ErrInvalidInput 表示请求本身有问题（帧无法解码、文本为空），应返回给调用方。
var ErrInvalidInput = errors.New("invalid input")

// Responder produces the therapist's reply; it must always return one.
type Responder interface {
	Respond(ctx context.Context, req ai.Request) (reply string, fromModel bool)
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Conditioner *imaging.Conditioner
	Classifiers *classifier.Guard
	Responder   Responder
	Store       *conversation.Store
	Registry    *session.Registry
	Metrics     *metrics.Metrics

	// MaxFramePixels bounds decoded frames; <= 0 uses imaging.DefaultMaxPixels.
	MaxFramePixels int
}

// Orchestrator 串联帧与文本的完整处理流程：解码、预处理、分类、融合、生成回复与广播。
type Orchestrator struct {
	conditioner *imaging.Conditioner
	classifiers *classifier.Guard
	responder   Responder
	store       *conversation.Store
	registry    *session.Registry
	metrics     *metrics.Metrics
	maxPixels   int
	now         func() time.Time
	log         *logrus.Entry
}

// New wires an orchestrator. Conditioner, Classifiers, Store and Registry are required.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Conditioner == nil:
		return nil, errors.New("orchestrator: conditioner is required")
	case deps.Classifiers == nil:
		return nil, errors.New("orchestrator: classifiers are required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: registry is required")
	}

	responder := deps.Responder
	if responder == nil {
		responder = (*ai.Service)(nil)
	}

	return &Orchestrator{
		conditioner: deps.Conditioner,
		classifiers: deps.Classifiers,
		responder:   responder,
		store:       deps.Store,
		registry:    deps.Registry,
		metrics:     deps.Metrics,
		maxPixels:   deps.MaxFramePixels,
		now:         time.Now,
		log:         logrus.WithField("component", "orchestrator"),
	}, nil
}

// FrameInput is one encoded video frame, optionally tied to a live connection.
type FrameInput struct {
	Frame        string `json:"frame"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// FrameResult 是单帧处理的结果。
type FrameResult struct {
	FaceEmotion  emotion.Label `json:"face_emotion"`
	Confidence   float64       `json:"confidence"`
	FusedEmotion emotion.Label `json:"fused_emotion"`
	Timestamp    float64       `json:"timestamp"`
}

// TextInput is one user utterance, optionally tied to a live connection.
type TextInput struct {
	Text         string `json:"text"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// TextResult 是单条文本处理的结果。
type TextResult struct {
	AIResponse     string        `json:"ai_response"`
	TextEmotion    emotion.Label `json:"text_emotion"`
	FusedEmotion   emotion.Label `json:"fused_emotion"`
	ConversationID int           `json:"conversation_id"`
}

// Scope returns the conversation scope of a connection: its session when it
// has joined one, the global scope otherwise.
func (o *Orchestrator) Scope(connID string) string {
	if connID == "" {
		return conversation.GlobalScope
	}
	if p, ok := o.registry.Participant(connID); ok {
		return p.SessionID
	}
	return conversation.GlobalScope
}

// ProcessFrame classifies the face in one frame and fuses it with the last
// known text emotion of the same participant.
func (o *Orchestrator) ProcessFrame(ctx context.Context, in FrameInput) (FrameResult, error) {
	raw, err := decodePayload(in.Frame)
	if err != nil {
		return FrameResult{}, err
	}
	frame, err := imaging.DecodeLimited(raw, o.maxPixels)
	if err != nil {
		return FrameResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	start := time.Now()
	conditioned, settings, err := o.conditioner.Condition(frame)
	if err != nil {
		return FrameResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	o.metrics.ObserveCondition(string(settings.Strategy), time.Since(start))

	face := o.classifiers.ClassifyFace(ctx, conditioned)

	current := o.record(in.ConnectionID, session.FacePatch(face), func() convmodel.Emotions {
		return o.store.SetFace(conversation.GlobalScope, face)
	})

	return FrameResult{
		FaceEmotion:  face.Label,
		Confidence:   face.ConfidenceOr(0),
		FusedEmotion: current.Fused.Label,
		Timestamp:    float64(o.now().UnixMilli()) / 1000,
	}, nil
}

// ProcessText classifies an utterance, generates the therapist reply and
// records the exchange.
func (o *Orchestrator) ProcessText(ctx context.Context, in TextInput) (TextResult, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return TextResult{}, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	scope := o.Scope(in.ConnectionID)
	textReading := o.classifiers.ClassifyText(ctx, text)
	current := o.record(in.ConnectionID, session.TextPatch(textReading), func() convmodel.Emotions {
		return o.store.SetText(conversation.GlobalScope, textReading)
	})

	reply, fromModel := o.responder.Respond(ctx, ai.Request{
		Face:     current.Face.Label,
		Text:     current.Text.Label,
		UserText: text,
		History:  o.store.Transcript(scope),
	})
	origin := "fallback"
	if fromModel {
		origin = "model"
	}
	o.metrics.ObserveResponse(origin)

	entry, err := o.store.Append(scope, convmodel.Entry{
		UserMessage:  text,
		UserEmotion:  textReading,
		FusedEmotion: current.Fused,
		AIResponse:   reply,
	})
	if err != nil {
		return TextResult{}, fmt.Errorf("record conversation: %w", err)
	}

	result := TextResult{
		AIResponse:     reply,
		TextEmotion:    textReading.Label,
		FusedEmotion:   current.Fused.Label,
		ConversationID: entry.ConversationID,
	}

	if connID := in.ConnectionID; connID != "" {
		o.publish(connID, "message relay", func() error {
			return o.relay(connID, o.registry.RelayMessage, map[string]any{
				"connection_id": connID,
				"text":          text,
				"text_emotion":  textReading,
			})
		})
		o.publish(connID, "response relay", func() error {
			return o.relay(connID, o.registry.RelayResponse, result)
		})
	}

	return result, nil
}

// record applies one reading. A joined connection keeps its emotions in its
// own participant record, which also broadcasts the update; anything else
// falls back to the shared global emotions of the store.
func (o *Orchestrator) record(connID string, patch session.EmotionPatch, global func() convmodel.Emotions) convmodel.Emotions {
	var current convmodel.Emotions
	joined := false
	if connID != "" {
		o.publish(connID, "emotion update", func() error {
			state, err := o.registry.UpdateEmotion(connID, patch)
			if err == nil {
				current = convmodel.Emotions{Face: state.Face, Text: state.Text, Fused: state.Fused}
				joined = true
			}
			return err
		})
	}
	if !joined {
		current = global()
	}
	o.observeFusion(current)
	return current
}

// Emotions returns the latest emotions of a connection: its participant
// record when joined, the global emotions otherwise.
func (o *Orchestrator) Emotions(connID string) convmodel.Emotions {
	if connID != "" {
		if p, ok := o.registry.Participant(connID); ok {
			return emotionsOf(p.Face, p.Text)
		}
	}
	return o.store.Emotions(conversation.GlobalScope)
}

// SessionEmotions returns the emotions of every participant of a session,
// keyed by connection id.
func (o *Orchestrator) SessionEmotions(sessionID string) map[string]convmodel.Emotions {
	out := make(map[string]convmodel.Emotions)
	info, ok := o.registry.SessionInfo(sessionID)
	if !ok {
		return out
	}
	for _, p := range info.Participants {
		out[p.ConnectionID] = emotionsOf(p.Face, p.Text)
	}
	return out
}

func emotionsOf(face, text emotion.Reading) convmodel.Emotions {
	return convmodel.Emotions{Face: face, Text: text, Fused: emotion.Fuse(face, text)}
}

func (o *Orchestrator) relay(connID string, send func(string, json.RawMessage) error, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return send(connID, raw)
}

// publish runs a registry operation whose failure never fails the request.
func (o *Orchestrator) publish(connID, what string, fn func() error) {
	err := fn()
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotJoined):
		o.log.WithField("connection_id", connID).Debugf("%s skipped: not in a session", what)
	default:
		o.log.WithError(err).WithField("connection_id", connID).Warnf("%s failed", what)
	}
}

func (o *Orchestrator) observeFusion(e convmodel.Emotions) {
	fused, source := emotion.Resolve(e.Face, e.Text)
	o.metrics.ObserveFusion(string(fused.Label), string(source))
}

// decodePayload accepts a data URL ("data:image/jpeg;base64,...") or bare base64.
func decodePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: frame is required", ErrInvalidInput)
	}
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: malformed data url", ErrInvalidInput)
		}
		if !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, fmt.Errorf("%w: data url is not base64", ErrInvalidInput)
		}
		payload = payload[comma+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 frame", ErrInvalidInput)
	}
	return raw, nil
}
