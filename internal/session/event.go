package session

import (
	"time"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// 客户端发往服务端的事件名。
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
	EventEmotion      = "emotion_update"
	EventMessageSent  = "message_sent"
	EventAIResponse   = "ai_response"
	EventVideoStatus  = "video_status"
	EventMicStatus    = "mic_status"
	EventProcessFrame = "process_frame"
	EventProcessText  = "process_text"
)

// 服务端推送给客户端的事件名。
const (
	EventConnected         = "connected"
	EventSessionJoined     = "session_joined"
	EventSessionLeft       = "session_left"
	EventEmotionBroadcast  = "emotion_broadcast"
	EventMessageReceived   = "message_received"
	EventAIMessage         = "ai_message"
	EventVideoStatusUpdate = "video_status_update"
	EventMicStatusUpdate   = "mic_status_update"
	EventFrameResult       = "frame_processed"
	EventTextResult        = "text_processed"
	EventError             = "error"
)

// Event is the outbound envelope written to a participant's connection.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	From      string `json:"from,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType, sessionID string, data any) Event {
	return Event{Type: eventType, SessionID: sessionID, Data: data, Timestamp: time.Now().Unix()}
}

// Peer is a live connection able to receive events. Send must not block: it
// enqueues the event and reports false if the event was dropped.
type Peer interface {
	ID() string
	Send(Event) bool
}

// MediaField names a media toggle; the value doubles as the payload key.
type MediaField string

const (
	MediaVideo MediaField = "video_on"
	MediaMic   MediaField = "mic_on"
)

func (f MediaField) valid() bool { return f == MediaVideo || f == MediaMic }

func (f MediaField) event() string {
	if f == MediaVideo {
		return EventVideoStatusUpdate
	}
	return EventMicStatusUpdate
}

// EmotionPatch carries the fields present in an emotion_update. Setting a
// label replaces that channel's confidence with the one given (or none).
type EmotionPatch struct {
	Face           *string  `json:"face,omitempty"`
	Text           *string  `json:"text,omitempty"`
	FaceConfidence *float64 `json:"face_confidence,omitempty"`
	TextConfidence *float64 `json:"text_confidence,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EmotionPatch) Empty() bool {
	return p.Face == nil && p.Text == nil && p.FaceConfidence == nil && p.TextConfidence == nil
}

// FacePatch builds a patch for a face reading.
func FacePatch(r emotion.Reading) EmotionPatch {
	label := string(r.Label)
	return EmotionPatch{Face: &label, FaceConfidence: r.Confidence}
}

// TextPatch builds a patch for a text reading.
func TextPatch(r emotion.Reading) EmotionPatch {
	label := string(r.Label)
	return EmotionPatch{Text: &label, TextConfidence: r.Confidence}
}

func mergeReading(cur emotion.Reading, label *string, conf *float64) emotion.Reading {
	if label != nil {
		return emotion.Reading{Label: emotion.Normalize(*label), Confidence: conf}.Normalized()
	}
	if conf != nil {
		return emotion.NewReading(cur.Label, *conf)
	}
	return cur
}

// ParticipantState is a snapshot of one participant.
type ParticipantState struct {
	ConnectionID string          `json:"connection_id"`
	SessionID    string          `json:"session_id"`
	Face         emotion.Reading `json:"face"`
	Text         emotion.Reading `json:"text"`
	VideoOn      bool            `json:"video_on"`
	MicOn        bool            `json:"mic_on"`
	JoinedAt     time.Time       `json:"joined_at"`
}

// Fused is the participant's current fused emotion.
func (p ParticipantState) Fused() emotion.Reading {
	return emotion.Fuse(p.Face, p.Text)
}

// EmotionState is the payload of emotion_broadcast.
type EmotionState struct {
	ConnectionID string          `json:"connection_id"`
	Face         emotion.Reading `json:"face"`
	Text         emotion.Reading `json:"text"`
	Fused        emotion.Reading `json:"fused"`
}

// Info is a consistent snapshot of one session.
type Info struct {
	SessionID     string             `json:"session_id"`
	ActiveClients int                `json:"active_clients"`
	Clients       []string           `json:"clients"`
	Participants  []ParticipantState `json:"participants"`
	CreatedAt     time.Time          `json:"created_at"`
}
