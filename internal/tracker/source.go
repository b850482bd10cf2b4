// Package tracker supplies GPS fixes to the clock engine. Devices report
// fixes over HTTP; the engine pulls them through a Fetcher that bounds and
// cancels requests.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldclock/pkg/location"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrSuperseded is returned to a request that a newer one replaced.
	ErrSuperseded = fmt.Errorf("%w: superseded by a newer request", ErrLocationUnavailable)
)

// Fix is one position sample.
type Fix struct {
	location.Point
	AccuracyMeters float64   `json:"accuracy_meters"`
	Timestamp      time.Time `json:"timestamp"`
}

// Source is the collaborator that knows where a user's device is.
type Source interface {
	// LastKnown returns the most recent fix without waiting.
	LastKnown(ctx context.Context, userID string) (Fix, bool)
	// RequestUpdate waits for a fresh fix until ctx is done.
	RequestUpdate(ctx context.Context, userID string) (Fix, bool)
}
