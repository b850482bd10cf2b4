package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
)

// DefaultRequestTimeout bounds a single fresh-fix request.
const DefaultRequestTimeout = 10 * time.Second

// Fetcher obtains a fix for a user. A new request for the same user cancels
// the one in flight, and the cancelled caller gets ErrSuperseded instead of
// a stale fix.
type Fetcher struct {
	source  Source
	timeout time.Duration
	maxAge  time.Duration
	clock   quartz.Clock
	log     *logrus.Entry

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*pending
}

type pending struct {
	id     uint64
	cancel context.CancelFunc
}

type FetcherOptions struct {
	Timeout time.Duration
	// MaxAge lets a recent last-known fix answer without a new request.
	// Zero always requests a fresh fix.
	MaxAge time.Duration
	Clock  quartz.Clock
	Logger *logrus.Entry
}

func NewFetcher(source Source, opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		source:   source,
		timeout:  opts.Timeout,
		maxAge:   opts.MaxAge,
		clock:    opts.Clock,
		log:      opts.Logger,
		inflight: make(map[string]*pending),
	}
	if f.timeout <= 0 {
		f.timeout = DefaultRequestTimeout
	}
	if f.clock == nil {
		f.clock = quartz.NewReal()
	}
	if f.log == nil {
		f.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return f
}

// Fetch returns a fix or an error wrapping ErrLocationUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, userID string) (Fix, error) {
	if f.maxAge > 0 {
		if last, ok := f.source.LastKnown(ctx, userID); ok && f.clock.Since(last.Timestamp) <= f.maxAge {
			return last, nil
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	id := f.register(userID, cancel)

	fix, ok := f.source.RequestUpdate(reqCtx, userID)
	if !f.release(userID, id) {
		f.log.WithField("user_id", userID).Debug("location request superseded")
		return Fix{}, ErrSuperseded
	}
	if !ok {
		if err := reqCtx.Err(); err != nil {
			return Fix{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
		}
		return Fix{}, ErrLocationUnavailable
	}
	return fix, nil
}

func (f *Fetcher) register(userID string, cancel context.CancelFunc) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.inflight[userID]; ok {
		prev.cancel()
	}
	f.seq++
	f.inflight[userID] = &pending{id: f.seq, cancel: cancel}
	return f.seq
}

// release reports whether id was still the current request for userID.
func (f *Fetcher) release(userID string, id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.inflight[userID]
	if !ok || cur.id != id {
		return false
	}
	delete(f.inflight, userID)
	return true
}
