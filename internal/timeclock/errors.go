package timeclock

import (
	"errors"
	"fmt"

	"fieldclock/internal/ledger"
	"fieldclock/internal/tracker"
)

var (
	ErrUnknownWorkLocation = errors.New("unknown work location")
	// ErrNoWorkLocation means a clock-in without a work location id found
	// no site containing the user's position.
	ErrNoWorkLocation = errors.New("not inside any work location")
	// ErrStaleFix is returned for a fix older than one already applied.
	ErrStaleFix       = errors.New("stale location fix")
	ErrInvalidFix     = errors.New("invalid location fix")
	ErrUnknownCommand = errors.New("unknown command")
	// ErrFutureFix is an ErrInvalidFix dated ahead of the server clock.
	ErrFutureFix      = fmt.Errorf("%w: timestamp in the future", ErrInvalidFix)

	ErrLocationUnavailable = tracker.ErrLocationUnavailable
)

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadyClockedIn):
		return ReasonAlreadyClockedIn
	case errors.Is(err, ledger.ErrNotClockedIn):
		return ReasonNotClockedIn
	case errors.Is(err, ledger.ErrInvalidDuration):
		return ReasonInvalidDuration
	case errors.Is(err, ErrLocationUnavailable):
		return ReasonLocationUnavailable
	case errors.Is(err, ErrUnknownWorkLocation), errors.Is(err, ErrNoWorkLocation):
		return ReasonUnknownLocation
	case errors.Is(err, ErrStaleFix):
		return ReasonStaleFix
	case errors.Is(err, ErrInvalidFix):
		return ReasonInvalidFix
	case errors.Is(err, ledger.ErrPersistence):
		return ReasonPersistence
	default:
		return ReasonOther
	}
}
