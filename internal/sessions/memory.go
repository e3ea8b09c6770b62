package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session          // by ID
	byKey    map[string]string                   // session key -> ID
	history  map[string][]*models.TranscriptEntry // by session ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		byKey:    make(map[string]string),
		history:  make(map[string][]*models.TranscriptEntry),
	}
}

// Get loads a session by ID without creating.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

// GetOrCreate loads or creates the session for a lookup key.
func (s *MemoryStore) GetOrCreate(ctx context.Context, key string, channel models.Channel, businessID, channelUserID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		if session, ok := s.sessions[id]; ok {
			return cloneSession(session), nil
		}
	}

	now := time.Now()
	session := &models.Session{
		ID:            uuid.NewString(),
		BusinessID:    businessID,
		Channel:       channel,
		ChannelUserID: channelUserID,
		FlowStatus:    models.FlowIdle,
		Verification:  models.Verification{Status: models.VerificationNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.sessions[session.ID] = cloneSession(session)
	s.byKey[key] = session.ID
	return session, nil
}

// Save writes the session back.
func (s *MemoryStore) Save(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cloneSession(session)
	copied.UpdatedAt = time.Now()
	s.sessions[session.ID] = copied
	return nil
}

// Append adds a transcript entry.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, entry *models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.SessionID = sessionID
	copied := *entry
	s.history[sessionID] = append(s.history[sessionID], &copied)
	return nil
}

// History returns the last limit entries in chronological order.
func (s *MemoryStore) History(ctx context.Context, sessionID string, limit int) ([]*models.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*models.TranscriptEntry, len(entries))
	for i, e := range entries {
		copied := *e
		out[i] = &copied
	}
	return RepairHistory(out), nil
}

// DeleteIdleBefore removes sessions whose UpdatedAt is before the cutoff.
func (s *MemoryStore) DeleteIdleBefore(ctx context.Context, cutoffUnix int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Unix(cutoffUnix, 0)
	removed := 0
	for id, session := range s.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.history, id)
			for key, mapped := range s.byKey {
				if mapped == id {
					delete(s.byKey, key)
				}
			}
			removed++
		}
	}
	return removed, nil
}

func cloneSession(in *models.Session) *models.Session {
	out := *in
	if in.Slots != nil {
		out.Slots = make(map[string]string, len(in.Slots))
		for k, v := range in.Slots {
			out.Slots[k] = v
		}
	}
	if in.Anchor != nil {
		anchor := *in.Anchor
		out.Anchor = &anchor
	}
	if in.LastToolAttempt != nil {
		attempt := *in.LastToolAttempt
		out.LastToolAttempt = &attempt
	}
	if in.NotFoundAt != nil {
		out.NotFoundAt = append([]time.Time{}, in.NotFoundAt...)
	}
	return &out
}
