package policy

import (
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// TerminationEnumerationLock marks a session locked out for identifier
// probing.
const TerminationEnumerationLock = "enumeration_lock"

// EnumerationParams tunes the probing detector. Threshold NOT_FOUNDs inside
// Window locks the session for LockDuration.
type EnumerationParams struct {
	Threshold    int
	Window       time.Duration
	LockDuration time.Duration
}

// RecordNotFound adds a suspicious NOT_FOUND to the sliding window and locks
// the session once the threshold is crossed. Returns true when the session
// was terminated by this call.
func RecordNotFound(session *models.Session, p EnumerationParams, now time.Time) bool {
	cutoff := now.Add(-p.Window)
	kept := session.NotFoundAt[:0]
	for _, at := range session.NotFoundAt {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	session.NotFoundAt = append(kept, now)

	if p.Threshold > 0 && len(session.NotFoundAt) >= p.Threshold {
		session.Terminate(TerminationEnumerationLock, now.Add(p.LockDuration))
		return true
	}
	return false
}
