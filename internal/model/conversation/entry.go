package conversation

import (
	"time"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// Entry is one exchange: what the client said and how the therapist replied.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID int             `json:"conversation_id"`
	SessionID      string          `json:"session_id,omitempty"`
	UserMessage    string          `json:"user_message"`
	UserEmotion    emotion.Reading `json:"user_emotion"`
	FusedEmotion   emotion.Reading `json:"fused_emotion"`
	AIResponse     string          `json:"ai_response"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Emotions holds the latest reading of each channel and their fusion.
type Emotions struct {
	Face  emotion.Reading `json:"face_emotion"`
	Text  emotion.Reading `json:"text_emotion"`
	Fused emotion.Reading `json:"fused_emotion"`
}

// NeutralEmotions is the state before anything has been observed.
func NeutralEmotions() Emotions {
	face := emotion.Reading{Label: emotion.Neutral}
	text := emotion.Reading{Label: emotion.Neutral}
	return Emotions{Face: face, Text: text, Fused: emotion.Fuse(face, text)}
}
