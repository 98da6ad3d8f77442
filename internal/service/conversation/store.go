package conversation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/model/conversation"
)

// GlobalScope holds exchanges made outside any realtime session.
const GlobalScope = ""

// ErrEmptyMessage rejects entries without a user message.
var ErrEmptyMessage = errors.New("user message is required")

type scopeState struct {
	entries  []conversation.Entry
	emotions conversation.Emotions
}

// Store 在内存中保存每个会话的对话记录与最新情绪，由调用方创建并显式传递。
// 会话作用域的记录随会话关闭而删除（见 Drop），全局作用域在进程内一直保留。
type Store struct {
	mu     sync.RWMutex
	scopes map[string]*scopeState
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		scopes: make(map[string]*scopeState),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) scopeLocked(scope string) *scopeState {
	st, ok := s.scopes[scope]
	if !ok {
		st = &scopeState{entries: make([]conversation.Entry, 0, 16), emotions: conversation.NeutralEmotions()}
		s.scopes[scope] = st
	}
	return st
}

// Append stores the entry, assigning its id, index and timestamp.
func (s *Store) Append(scope string, entry conversation.Entry) (conversation.Entry, error) {
	if entry.UserMessage == "" {
		return conversation.Entry{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeLocked(scope)
	entry.ID = uuid.NewString()
	entry.ConversationID = len(st.entries)
	entry.SessionID = scope
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	st.entries = append(st.entries, entry)
	return entry, nil
}

// Transcript returns a copy of the scope's entries.
func (s *Store) Transcript(scope string) []conversation.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.scopes[scope]
	if !ok {
		return []conversation.Entry{}
	}
	copied := make([]conversation.Entry, len(st.entries))
	copy(copied, st.entries)
	return copied
}

// Emotions returns the scope's latest emotions.
func (s *Store) Emotions(scope string) conversation.Emotions {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.scopes[scope]
	if !ok {
		return conversation.NeutralEmotions()
	}
	return st.emotions
}

// SetFace records a face reading and returns the updated emotions.
func (s *Store) SetFace(scope string, r emotion.Reading) conversation.Emotions {
	return s.update(scope, func(e *conversation.Emotions) { e.Face = r.Normalized() })
}

// SetText records a text reading and returns the updated emotions.
func (s *Store) SetText(scope string, r emotion.Reading) conversation.Emotions {
	return s.update(scope, func(e *conversation.Emotions) { e.Text = r.Normalized() })
}

func (s *Store) update(scope string, mutate func(*conversation.Emotions)) conversation.Emotions {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.scopeLocked(scope)
	mutate(&st.emotions)
	st.emotions.Fused = emotion.Fuse(st.emotions.Face, st.emotions.Text)
	return st.emotions
}

// Drop forgets everything recorded for the scope. Session scopes are dropped
// when their session closes.
func (s *Store) Drop(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
}

// Scopes lists every scope with stored state, sorted.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}
