package conversation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
)

func TestAppendAssignsIndexAndCopies(t *testing.T) {
	store := NewStore()

	first, err := store.Append("s1", conversation.Entry{UserMessage: "hello", AIResponse: "hi"})
	require.NoError(t, err)
	second, err := store.Append("s1", conversation.Entry{UserMessage: "again"})
	require.NoError(t, err)

	assert.Equal(t, 0, first.ConversationID)
	assert.Equal(t, 1, second.ConversationID)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "s1", first.SessionID)
	assert.False(t, first.Timestamp.IsZero())

	transcript := store.Transcript("s1")
	require.Len(t, transcript, 2)
	transcript[0].UserMessage = "mutated"
	assert.Equal(t, "hello", store.Transcript("s1")[0].UserMessage)

	assert.Empty(t, store.Transcript("other"))
}

func TestAppendRejectsEmptyMessage(t *testing.T) {
	_, err := NewStore().Append(GlobalScope, conversation.Entry{})
	require.ErrorIs(t, err, ErrEmptyMessage)
}

func TestEmotionsDefaultNeutralAndFuse(t *testing.T) {
	store := NewStore()
	initial := store.Emotions("s")
	assert.Equal(t, emotion.Neutral, initial.Face.Label)
	assert.Equal(t, emotion.Neutral, initial.Fused.Label)

	store.SetFace("s", emotion.NewReading(emotion.Joy, 0.8))
	got := store.SetText("s", emotion.NewReading(emotion.Sadness, 0.6))
	assert.Equal(t, emotion.Joy, got.Face.Label)
	assert.Equal(t, emotion.Sadness, got.Fused.Label)
	assert.Equal(t, got, store.Emotions("s"))

	assert.Equal(t, emotion.Neutral, store.Emotions("elsewhere").Face.Label)
}

func TestScopesAreIsolated(t *testing.T) {
	store := NewStore()
	store.SetFace("a", emotion.NewReading(emotion.Anger, 1))
	_, _ = store.Append(GlobalScope, conversation.Entry{UserMessage: "x"})

	assert.Equal(t, emotion.Neutral, store.Emotions("b").Face.Label)
	assert.Equal(t, []string{GlobalScope, "a"}, store.Scopes())
}

func TestConcurrentAppends(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append("s", conversation.Entry{UserMessage: fmt.Sprintf("m%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	transcript := store.Transcript("s")
	require.Len(t, transcript, 50)
	for i, e := range transcript {
		assert.Equal(t, i, e.ConversationID)
	}
}

func TestDropForgetsScope(t *testing.T) {
	store := NewStore()
	_, err := store.Append("room", conversation.Entry{UserMessage: "hello"})
	require.NoError(t, err)
	_, err = store.Append(GlobalScope, conversation.Entry{UserMessage: "kept"})
	require.NoError(t, err)

	store.Drop("room")
	store.Drop("never-seen")

	assert.Empty(t, store.Transcript("room"))
	assert.Equal(t, []string{GlobalScope}, store.Scopes())
	assert.Len(t, store.Transcript(GlobalScope), 1)
}
