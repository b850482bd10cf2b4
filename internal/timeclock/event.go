package timeclock

import (
	"time"

	"fieldclock/internal/domain"
	"fieldclock/internal/models"
)

// Event is published after every successful clock transition.
type Event struct {
	Type       string                  `json:"type"`
	UserID     string                  `json:"user_id"`
	Automatic  bool                    `json:"automatic"`
	Entry      models.TimeClockEntry   `json:"entry"`
	Session    models.TimeClockSession `json:"session"`
	Status     models.TimeClockStatus  `json:"status"`
	OccurredAt time.Time               `json:"occurred_at"`
}

// ClockedIn reports whether the event left the user clocked in.
func (e Event) ClockedIn() bool {
	return e.Entry.Kind == domain.EntryClockIn
}
