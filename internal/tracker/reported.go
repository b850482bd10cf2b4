package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"fieldclock/internal/models"
	"fieldclock/pkg/location"
)

// FixStore persists the last fix per user.
type FixStore interface {
	Upsert(loc *models.UserLocation) error
	GetByUserID(userID string) (*models.UserLocation, error)
}

// Pinger asks a user's device to report its position, e.g. with a silent push.
type Pinger interface {
	RequestLocation(ctx context.Context, userID string) error
}

// ReportedSource is a Source fed by devices reporting their own fixes.
// RequestUpdate waits for the next report from the user's device.
type ReportedSource struct {
	store  FixStore
	pinger Pinger
	log    *logrus.Entry

	mu      sync.Mutex
	last    map[string]Fix
	waiters map[string][]chan Fix
}

// NewReportedSource accepts nil store and pinger; fixes then live only in memory.
func NewReportedSource(store FixStore, pinger Pinger, log *logrus.Entry) *ReportedSource {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ReportedSource{
		store:   store,
		pinger:  pinger,
		log:     log,
		last:    make(map[string]Fix),
		waiters: make(map[string][]chan Fix),
	}
}

var _ Source = (*ReportedSource)(nil)

// Report records a fix and wakes pending requests for the user. The fix is
// delivered even if persisting it fails; the store error is still returned.
func (s *ReportedSource) Report(userID string, fix Fix) error {
	s.mu.Lock()
	if prev, ok := s.last[userID]; !ok || !fix.Timestamp.Before(prev.Timestamp) {
		s.last[userID] = fix
	}
	waiting := s.waiters[userID]
	delete(s.waiters, userID)
	s.mu.Unlock()

	for _, ch := range waiting {
		ch <- fix
	}

	if s.store == nil {
		return nil
	}
	err := s.store.Upsert(&models.UserLocation{
		UserID:         userID,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: fix.AccuracyMeters,
		FixedAt:        fix.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("save location: %w", err)
	}
	return nil
}

func (s *ReportedSource) LastKnown(_ context.Context, userID string) (Fix, bool) {
	s.mu.Lock()
	fix, ok := s.last[userID]
	s.mu.Unlock()
	if ok || s.store == nil {
		return fix, ok
	}
	loc, err := s.store.GetByUserID(userID)
	if err != nil || loc == nil {
		return Fix{}, false
	}
	fix = Fix{
		Point:          location.Point{Latitude: loc.Latitude, Longitude: loc.Longitude},
		AccuracyMeters: loc.AccuracyMeters,
		Timestamp:      loc.FixedAt,
	}
	s.mu.Lock()
	if _, ok := s.last[userID]; !ok {
		s.last[userID] = fix
	}
	s.mu.Unlock()
	return fix, true
}

func (s *ReportedSource) RequestUpdate(ctx context.Context, userID string) (Fix, bool) {
	ch := make(chan Fix, 1)
	s.mu.Lock()
	s.waiters[userID] = append(s.waiters[userID], ch)
	s.mu.Unlock()

	if s.pinger != nil {
		if err := s.pinger.RequestLocation(ctx, userID); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("location ping failed")
		}
	}

	select {
	case fix := <-ch:
		return fix, true
	case <-ctx.Done():
		s.removeWaiter(userID, ch)
		// A report may have raced the cancellation.
		select {
		case fix := <-ch:
			return fix, true
		default:
			return Fix{}, false
		}
	}
}

func (s *ReportedSource) removeWaiter(userID string, ch chan Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[userID]
	for i, w := range list {
		if w == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, userID)
	} else {
		s.waiters[userID] = list
	}
}

// Waiting returns the number of pending requests for userID.
func (s *ReportedSource) Waiting(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters[userID])
}
