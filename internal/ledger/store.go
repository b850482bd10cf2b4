package ledger

import (
	"context"
	"time"

	"fieldclock/internal/models"
)

// Store is the persistence backend behind the Ledger. Implementations must
// make CreateOpenSession and CloseOpenSession atomic per user: either every
// row is written or none is.
type Store interface {
	// CreateOpenSession appends entry, inserts session and writes status.
	// It returns ErrAlreadyClockedIn when the user already has an open session.
	CreateOpenSession(ctx context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error
	// CloseOpenSession appends entry, stores the closed session and writes
	// status. It returns ErrNotClockedIn when session is no longer open.
	CloseOpenSession(ctx context.Context, entry *models.TimeClockEntry, session *models.TimeClockSession, status *models.TimeClockStatus) error

	// FindOpenSession returns nil, nil when the user has no open session.
	FindOpenSession(ctx context.Context, userID string) (*models.TimeClockSession, error)
	// Entries are ordered by timestamp.
	Entries(ctx context.Context, userID string) ([]models.TimeClockEntry, error)
	// Sessions are ordered by clock-in time.
	Sessions(ctx context.Context, userID string) ([]models.TimeClockSession, error)
	// SessionsBetween returns sessions whose SessionDate is within [from, to].
	SessionsBetween(ctx context.Context, userID string, from, to time.Time) ([]models.TimeClockSession, error)
}
