package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// LLMText 使用大模型判断文本情绪，要求模型只返回 JSON。
type LLMText struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewLLMText compiles the classification chain on top of chatModel.
func NewLLMText(ctx context.Context, chatModel model.BaseChatModel) (*LLMText, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is nil", ErrUnavailable)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{utterance}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile emotion classifier chain: %w", err)
	}
	return &LLMText{chain: runnable}, nil
}

// ClassifyText implements TextClassifier.
func (l *LLMText) ClassifyText(ctx context.Context, text string) (emotion.Reading, error) {
	msg, err := l.chain.Invoke(ctx, map[string]any{
		"system":    emotionSystemPrompt,
		"utterance": strings.TrimSpace(text),
	})
	if err != nil {
		return emotion.Reading{}, fmt.Errorf("%w: classifier invoke: %v", ErrUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return emotion.Reading{}, fmt.Errorf("%w: empty classifier answer", ErrUnavailable)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		return emotion.Reading{}, fmt.Errorf("%w: classifier output: %v", ErrUnavailable, err)
	}
	if !emotion.Known(payload.Emotion) {
		return emotion.Reading{}, fmt.Errorf("%w: unknown emotion %q", ErrUnavailable, payload.Emotion)
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	return emotion.NewReading(emotion.Normalize(payload.Emotion), confidence), nil
}

type classifierPayload struct {
	Emotion    string  `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// parseClassifierOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

var emotionSystemPrompt = "You label the emotion expressed in a therapy client's message. " +
	"Answer with a single JSON object and nothing else, with fields: " +
	`"emotion" (one of ` + strings.Join(labelNames(), ", ") + `), ` +
	`"confidence" (a number between 0 and 1), "reason" (one short sentence).`

func labelNames() []string {
	labels := emotion.Labels()
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}
