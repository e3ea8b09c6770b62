// Package sessions persists conversation state and transcripts, and
// serializes concurrent turns against the same session.
package sessions

import (
	"context"
	"errors"

	"github.com/convoflow/convoflow/pkg/models"
)

var (
	// ErrNotFound is returned when a session does not exist. Callers passing
	// an explicit session ID get this instead of an implicit create.
	ErrNotFound = errors.New("session not found")

	// ErrLockTimeout is returned when a session lock cannot be acquired.
	ErrLockTimeout = errors.New("session lock timeout")
)

// Store is the persistence contract for sessions and transcripts. The
// persist stage is the only writer during a turn; earlier stages mutate the
// in-memory session only.
type Store interface {
	// Get loads a session by explicit ID. Missing sessions are ErrNotFound;
	// Get never creates.
	Get(ctx context.Context, id string) (*models.Session, error)

	// GetOrCreate loads the session for a (channel, business, user) key,
	// creating an idle one on first contact.
	GetOrCreate(ctx context.Context, key string, channel models.Channel, businessID, channelUserID string) (*models.Session, error)

	// Save writes the full session state.
	Save(ctx context.Context, session *models.Session) error

	// Append adds one transcript entry under the session.
	Append(ctx context.Context, sessionID string, entry *models.TranscriptEntry) error

	// History returns the most recent transcript entries in chronological
	// order, bounded by limit.
	History(ctx context.Context, sessionID string, limit int) ([]*models.TranscriptEntry, error)

	// DeleteIdleBefore removes sessions not updated since the cutoff and
	// returns how many were removed. Used by the expiry sweeper.
	DeleteIdleBefore(ctx context.Context, cutoff int64) (int, error)
}

// RepairHistory drops malformed transcript entries before they reach the
// model: empty-content entries can poison a provider request.
func RepairHistory(entries []*models.TranscriptEntry) []*models.TranscriptEntry {
	out := entries[:0]
	for _, e := range entries {
		if e == nil || e.Content == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}
