package realtime

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// Session is one realtime conversation between a user and a persona. Records
// are flagged inactive on disconnect or idle timeout but never deleted, so
// the full session history stays available for reporting.
type Session struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	PersonaID    apibridge.PersonaID `json:"personaId"`
	RoomID       string              `json:"roomId"`
	StartTime    time.Time           `json:"startTime"`
	LastActivity time.Time           `json:"lastActivity"`
	MessageCount int64               `json:"messageCount"`
	IsActive     bool                `json:"isActive"`
}

// Tracker owns the in-memory session table.
type Tracker struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTracker builds an empty session tracker. now may be nil.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Register creates the session record for a freshly opened connection.
func (t *Tracker) Register(id, userID string, personaID apibridge.PersonaID) (Session, error) {
	if id == "" {
		return Session{}, fmt.Errorf("session id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[id]; exists {
		return Session{}, fmt.Errorf("session %s already registered", id)
	}
	now := t.now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		PersonaID:    personaID,
		RoomID:       fmt.Sprintf("room-%s-%s", personaID, userID),
		StartTime:    now,
		LastActivity: now,
		IsActive:     true,
	}
	t.sessions[id] = sess
	return *sess, nil
}

// Touch refreshes the session's activity timestamp. Chat frames additionally
// bump the message count.
func (t *Tracker) Touch(id string, message bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return
	}
	sess.LastActivity = t.now()
	if message {
		sess.MessageCount++
	}
}

// MarkInactive flags the session closed. The record remains.
func (t *Tracker) MarkInactive(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, ok := t.sessions[id]; ok {
		sess.IsActive = false
		sess.LastActivity = t.now()
	}
}

// Get returns a copy of one session record.
func (t *Tracker) Get(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sess, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Sessions returns copies of every record, active and inactive, ordered by
// start time then id for stable reporting.
func (t *Tracker) Sessions() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveCount returns the number of sessions still flagged active.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, sess := range t.sessions {
		if sess.IsActive {
			count++
		}
	}
	return count
}
