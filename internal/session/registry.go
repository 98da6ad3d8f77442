// Package session tracks which live connections belong to which therapy
// session and fans events out to the other participants.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// DefaultSessionID is used when a join names no session.
const DefaultSessionID = "default"

var (
	// ErrNotJoined 表示连接当前不属于任何会话。
	ErrNotJoined = errors.New("connection has not joined a session")
	// ErrInvalidPayload 表示事件负载无法解析或缺少必填字段。
	ErrInvalidPayload = errors.New("invalid event payload")
)

// Recorder receives registry gauges and fan-out outcomes. Implemented by the
// metrics package.
type Recorder interface {
	ObserveMembership(sessions, participants int)
	ObserveBroadcast(event string, delivered, dropped int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMembership(int, int)        {}
func (nopRecorder) ObserveBroadcast(string, int, int) {}

type participant struct {
	peer  Peer
	state ParticipantState
}

type room struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	participants map[string]*participant
}

// Registry 维护会话与参与者的映射。索引由 mu 保护，每个会话另有自己的锁，
// 因此不同会话的更新互不阻塞。
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*room
	members map[string]string // connection id -> session id

	recorder Recorder
	onClosed []func(sessionID string)
	log      *logrus.Entry
	now      func() time.Time
}

// NewRegistry creates an empty registry. recorder may be nil.
func NewRegistry(recorder Recorder) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Registry{
		rooms:    make(map[string]*room),
		members:  make(map[string]string),
		recorder: recorder,
		log:      logrus.WithField("component", "session"),
		now:      time.Now,
	}
}

// OnSessionClosed registers fn to run once a session loses its last
// participant and is pruned. fn runs with the registry index locked and must
// not call back into the registry.
func (r *Registry) OnSessionClosed(fn func(sessionID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = append(r.onClosed, fn)
}

// Join adds peer to sessionID, creating the session on first join. A peer
// already in another session is moved out of it first; re-joining the same
// session resets its state. The joiner receives session_joined.
func (r *Registry) Join(peer Peer, sessionID string) (string, error) {
	if peer == nil || peer.ID() == "" {
		return "", fmt.Errorf("%w: missing connection id", ErrInvalidPayload)
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	connID := peer.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.members[connID]; ok {
		r.removeLocked(connID, prev)
	}

	rm, ok := r.rooms[sessionID]
	if !ok {
		rm = &room{id: sessionID, createdAt: r.now(), participants: make(map[string]*participant)}
		r.rooms[sessionID] = rm
	}

	rm.mu.Lock()
	rm.participants[connID] = &participant{
		peer: peer,
		state: ParticipantState{
			ConnectionID: connID,
			SessionID:    sessionID,
			Face:         emotion.Reading{Label: emotion.Neutral},
			Text:         emotion.Reading{Label: emotion.Neutral},
			JoinedAt:     r.now(),
		},
	}
	if !peer.Send(NewEvent(EventSessionJoined, sessionID, map[string]string{"session_id": sessionID})) {
		r.log.WithField("connection_id", connID).Warn("session_joined dropped")
	}
	rm.mu.Unlock()

	r.members[connID] = sessionID
	r.recorder.ObserveMembership(len(r.rooms), len(r.members))
	r.log.WithFields(logrus.Fields{"connection_id": connID, "session_id": sessionID}).Info("session joined")
	return sessionID, nil
}

// Leave removes the connection from its session. It reports the session left
// and whether the connection was a member; calling it twice is harmless.
func (r *Registry) Leave(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.members[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(connID, sessionID)
	r.recorder.ObserveMembership(len(r.rooms), len(r.members))
	r.log.WithFields(logrus.Fields{"connection_id": connID, "session_id": sessionID}).Info("session left")
	return sessionID, true
}

// removeLocked drops a member and prunes its session once empty. r.mu must be
// held for writing.
func (r *Registry) removeLocked(connID, sessionID string) {
	delete(r.members, connID)
	rm, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.participants, connID)
	empty := len(rm.participants) == 0
	rm.mu.Unlock()
	if !empty {
		return
	}
	delete(r.rooms, sessionID)
	for _, fn := range r.onClosed {
		fn(sessionID)
	}
}

// lookup finds the room the connection currently belongs to.
func (r *Registry) lookup(connID string) (*room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.members[connID]
	if !ok {
		return nil, ErrNotJoined
	}
	rm, ok := r.rooms[sessionID]
	if !ok {
		return nil, ErrNotJoined
	}
	return rm, nil
}

// withParticipant runs fn under the session lock if the connection is still
// a participant there. A leave that wins the race yields ErrNotJoined.
func (r *Registry) withParticipant(connID string, fn func(*room, *participant)) error {
	rm, err := r.lookup(connID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.participants[connID]
	if !ok {
		return ErrNotJoined
	}
	fn(rm, p)
	return nil
}

// UpdateEmotion merges the patch into the participant's readings and sends
// emotion_broadcast to every other participant of the session.
func (r *Registry) UpdateEmotion(connID string, patch EmotionPatch) (EmotionState, error) {
	var out EmotionState
	err := r.withParticipant(connID, func(rm *room, p *participant) {
		p.state.Face = mergeReading(p.state.Face, patch.Face, patch.FaceConfidence)
		p.state.Text = mergeReading(p.state.Text, patch.Text, patch.TextConfidence)
		out = EmotionState{
			ConnectionID: connID,
			Face:         p.state.Face,
			Text:         p.state.Text,
			Fused:        p.state.Fused(),
		}
		evt := NewEvent(EventEmotionBroadcast, rm.id, out)
		evt.From = connID
		r.fanOut(rm, evt, connID)
	})
	return out, err
}

// RelayMessage sends message_received with the opaque payload to every
// participant of the sender's session, sender included.
func (r *Registry) RelayMessage(connID string, payload json.RawMessage) error {
	return r.relay(connID, EventMessageReceived, payload)
}

// RelayResponse sends ai_message to every participant, sender included.
func (r *Registry) RelayResponse(connID string, payload json.RawMessage) error {
	return r.relay(connID, EventAIMessage, payload)
}

func (r *Registry) relay(connID, eventType string, payload json.RawMessage) error {
	if len(payload) == 0 || !json.Valid(payload) {
		return fmt.Errorf("%w: %s payload is not valid JSON", ErrInvalidPayload, eventType)
	}
	return r.withParticipant(connID, func(rm *room, _ *participant) {
		evt := NewEvent(eventType, rm.id, payload)
		evt.From = connID
		r.fanOut(rm, evt, "")
	})
}

// UpdateMediaStatus records a video/mic toggle and tells the others.
func (r *Registry) UpdateMediaStatus(connID string, field MediaField, on bool) error {
	if !field.valid() {
		return fmt.Errorf("%w: unknown media field %q", ErrInvalidPayload, field)
	}
	return r.withParticipant(connID, func(rm *room, p *participant) {
		if field == MediaVideo {
			p.state.VideoOn = on
		} else {
			p.state.MicOn = on
		}
		evt := NewEvent(field.event(), rm.id, map[string]any{
			"connection_id": connID,
			string(field):   on,
		})
		evt.From = connID
		r.fanOut(rm, evt, connID)
	})
}

// fanOut enqueues evt for every participant except skip. rm.mu must be held.
func (r *Registry) fanOut(rm *room, evt Event, skip string) {
	delivered, dropped := 0, 0
	for id, p := range rm.participants {
		if id == skip {
			continue
		}
		if p.peer.Send(evt) {
			delivered++
			continue
		}
		dropped++
		r.log.WithFields(logrus.Fields{"connection_id": id, "event": evt.Type}).Warn("outbound queue full, event dropped")
	}
	r.recorder.ObserveBroadcast(evt.Type, delivered, dropped)
}

// Participant returns a snapshot of the connection's state.
func (r *Registry) Participant(connID string) (ParticipantState, bool) {
	var out ParticipantState
	err := r.withParticipant(connID, func(_ *room, p *participant) { out = p.state })
	return out, err == nil
}

// SessionInfo returns a snapshot of one session.
func (r *Registry) SessionInfo(sessionID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[sessionID]
	if !ok {
		return Info{}, false
	}
	return rm.snapshot(), true
}

// AllSessions snapshots every live session. Membership cannot change while
// the snapshot is taken.
func (r *Registry) AllSessions() map[string]Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Info, len(r.rooms))
	for id, rm := range r.rooms {
		out[id] = rm.snapshot()
	}
	return out
}

func (rm *room) snapshot() Info {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	info := Info{
		SessionID:     rm.id,
		ActiveClients: len(rm.participants),
		Clients:       make([]string, 0, len(rm.participants)),
		Participants:  make([]ParticipantState, 0, len(rm.participants)),
		CreatedAt:     rm.createdAt,
	}
	for _, p := range rm.participants {
		info.Participants = append(info.Participants, p.state)
	}
	sort.Slice(info.Participants, func(i, j int) bool {
		a, b := info.Participants[i], info.Participants[j]
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ConnectionID < b.ConnectionID
	})
	for _, p := range info.Participants {
		info.Clients = append(info.Clients, p.ConnectionID)
	}
	return info
}
