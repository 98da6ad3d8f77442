package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
)

type fakeChatModel struct {
	content string
	err     error
	delay   time.Duration
	input   []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = in
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.content, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestGenerateBuildsPromptWithHistory(t *testing.T) {
	fake := &fakeChatModel{content: "  I hear you.  "}
	svc, err := NewService(context.Background(), fake, time.Second, 0)
	require.NoError(t, err)

	history := []conversation.Entry{
		{UserMessage: "first", AIResponse: "reply one"},
		{UserMessage: "second"},
	}
	got, err := svc.Generate(context.Background(), Request{
		Face:     emotion.Sadness,
		Text:     emotion.Neutral,
		UserText: "{not a placeholder}",
		History:  history,
	})
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", got)

	require.Len(t, fake.input, 5)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, "User's facial emotion: sadness")
	assert.Contains(t, fake.input[0].Content, "feeling sad")
	assert.Equal(t, "first", fake.input[1].Content)
	assert.Equal(t, schema.Assistant, fake.input[2].Role)
	assert.Equal(t, "second", fake.input[3].Content)
	assert.Equal(t, schema.User, fake.input[4].Role)
	assert.Equal(t, "{not a placeholder}", fake.input[4].Content)
}

func TestHistoryIsCapped(t *testing.T) {
	entries := make([]conversation.Entry, 15)
	for i := range entries {
		entries[i] = conversation.Entry{UserMessage: fmt.Sprintf("u%d", i), AIResponse: fmt.Sprintf("a%d", i)}
	}
	msgs := buildHistoryMessages(entries, defaultHistoryLimit)
	require.Len(t, msgs, 2*defaultHistoryLimit)
	assert.Equal(t, "u5", msgs[0].Content)
	assert.Equal(t, "a14", msgs[len(msgs)-1].Content)

	assert.Nil(t, buildHistoryMessages(nil, defaultHistoryLimit))
}

func TestGenerateFailures(t *testing.T) {
	cases := map[string]*fakeChatModel{
		"model error": {err: errors.New("rate limited")},
		"empty":       {content: " \n"},
		"timeout":     {content: "late", delay: time.Second},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			svc, err := NewService(context.Background(), fake, 20*time.Millisecond, 0)
			require.NoError(t, err)
			_, err = svc.Generate(context.Background(), Request{UserText: "hi"})
			require.ErrorIs(t, err, ErrGeneratorUnavailable)
		})
	}

	_, err := NewService(context.Background(), nil, time.Second, 0)
	require.ErrorIs(t, err, ErrGeneratorUnavailable)

	var nilSvc *Service
	_, err = nilSvc.Generate(context.Background(), Request{})
	require.ErrorIs(t, err, ErrGeneratorUnavailable)
}

func TestRespondFallsBack(t *testing.T) {
	var nilSvc *Service
	reply, fromModel := nilSvc.Respond(context.Background(), Request{Face: emotion.Neutral, Text: emotion.Grief})
	assert.False(t, fromModel)
	assert.Equal(t, guidelines[emotion.Sadness].Fallback, reply)

	svc, err := NewService(context.Background(), &fakeChatModel{err: errors.New("down")}, time.Second, 0)
	require.NoError(t, err)
	reply, fromModel = svc.Respond(context.Background(), Request{Face: emotion.Anger, Text: emotion.Joy})
	assert.False(t, fromModel)
	assert.Equal(t, guidelines[emotion.Anger].Fallback, reply)

	svc, err = NewService(context.Background(), &fakeChatModel{content: "Tell me more."}, time.Second, 0)
	require.NoError(t, err)
	reply, fromModel = svc.Respond(context.Background(), Request{UserText: "hello"})
	assert.True(t, fromModel)
	assert.Equal(t, "Tell me more.", reply)
}

func TestFallbackCoversEveryLabel(t *testing.T) {
	for _, face := range emotion.Labels() {
		for _, text := range emotion.Labels() {
			assert.NotEmpty(t, FallbackResponse(face, text))
		}
	}
	assert.Equal(t, guidelines[emotion.Neutral].Fallback, FallbackResponse("", "unknown"))
	assert.Equal(t, guidelines[emotion.Joy].Fallback, FallbackResponse("happy", emotion.Sadness))
}

func TestBuildSystemPromptNormalisesLabels(t *testing.T) {
	p := BuildSystemPrompt("Angry", "")
	assert.Contains(t, p, "User's facial emotion: anger")
	assert.Contains(t, p, "User's text emotion: neutral")
	assert.Contains(t, p, "angry or frustrated")
	assert.Contains(t, p, "- Keep responses concise")
}
