package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadyClockedIn = errors.New("already clocked in")
	ErrNotClockedIn     = errors.New("not clocked in")
	ErrInvalidDuration  = errors.New("invalid session duration")
	ErrPersistence      = errors.New("persistence failure")
	ErrWrongEntryKind   = errors.New("wrong entry kind")
	ErrInvalidRange     = errors.New("range end before start")
)

// InvalidDurationError is returned when a clock-out would precede its
// clock-in. The session is left open.
type InvalidDurationError struct {
	SessionID string
	ClockIn   time.Time
	ClockOut  time.Time
}

func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("session %s: clock-out %s precedes clock-in %s",
		e.SessionID, e.ClockOut.Format(time.RFC3339Nano), e.ClockIn.Format(time.RFC3339Nano))
}

func (e *InvalidDurationError) Is(target error) bool { return target == ErrInvalidDuration }

// PersistenceError wraps a backend failure. No in-memory state changed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
