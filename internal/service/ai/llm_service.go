package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
)

// ErrGeneratorUnavailable 表示没有可用的大模型或模型调用失败。
var ErrGeneratorUnavailable = errors.New("response generator unavailable")

const defaultHistoryLimit = 10

// Request carries everything a therapist reply depends on.
type Request struct {
	Face     emotion.Label
	Text     emotion.Label
	UserText string
	History  []conversation.Entry
}

// Service wraps the chat model chain producing therapist replies.
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	timeout      time.Duration
	historyLimit int
	log          *logrus.Entry
}

// NewService compiles the reply chain on top of chatModel. historyLimit caps
// the transcript turns sent with each request; values below 1 use the default.
func NewService(ctx context.Context, chatModel model.BaseChatModel, timeout time.Duration, historyLimit int) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is nil", ErrGeneratorUnavailable)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if historyLimit < 1 {
		historyLimit = defaultHistoryLimit
	}
	return &Service{
		chain:        runnable,
		timeout:      timeout,
		historyLimit: historyLimit,
		log:          logrus.WithField("component", "ai"),
	}, nil
}

// Generate asks the model for a reply. A nil service, a failed call and an
// empty answer all return ErrGeneratorUnavailable.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	if s == nil {
		return "", ErrGeneratorUnavailable
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	response, err := s.chain.Invoke(ctx, buildChainInput(req, s.historyLimit))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	text := ""
	if response != nil {
		text = strings.TrimSpace(response.Content)
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty answer", ErrGeneratorUnavailable)
	}

	s.log.WithFields(logrus.Fields{"face": req.Face, "text": req.Text, "length": len(text)}).Debug("generated response")
	return text, nil
}

// Respond returns the model reply or, on any failure, the canned reply for
// the dominant emotion. fromModel reports which one was used.
func (s *Service) Respond(ctx context.Context, req Request) (reply string, fromModel bool) {
	text, err := s.Generate(ctx, req)
	if err == nil {
		return text, true
	}
	if s != nil {
		s.log.WithError(err).Warn("response generation failed, using fallback")
	}
	return FallbackResponse(req.Face, req.Text), false
}

func buildChainInput(req Request, historyLimit int) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(req.Face, req.Text),
		"history": buildHistoryMessages(req.History, historyLimit),
		"query":   req.UserText,
	}
}

func buildHistoryMessages(entries []conversation.Entry, limit int) []*schema.Message {
	if len(entries) == 0 {
		return nil
	}

	start := 0
	if len(entries) > limit {
		start = len(entries) - limit
	}

	history := make([]*schema.Message, 0, 2*(len(entries)-start))
	for _, e := range entries[start:] {
		if e.UserMessage != "" {
			history = append(history, schema.UserMessage(e.UserMessage))
		}
		if e.AIResponse != "" {
			history = append(history, schema.AssistantMessage(e.AIResponse, nil))
		}
	}
	return history
}
