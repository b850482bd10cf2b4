// Package ledger is the authoritative record of time clock entries and
// sessions. It enforces that a user has at most one open session.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/domain"
	"fieldclock/internal/models"
	"fieldclock/internal/syncx"
)

const msPerHour = float64(time.Hour / time.Millisecond)

// Ledger serializes mutations per user and keeps a status cache that is only
// written after the store accepted the change.
type Ledger struct {
	store Store
	clock quartz.Clock
	loc   *time.Location
	log   *logrus.Entry

	locks syncx.KeyedMutex

	mu     sync.RWMutex
	status map[string]models.TimeClockStatus
}

type Option func(*Ledger)

func WithClock(c quartz.Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLocation sets the time zone used to derive session dates.
func WithLocation(loc *time.Location) Option { return func(l *Ledger) { l.loc = loc } }

func WithLogger(log *logrus.Entry) Option { return func(l *Ledger) { l.log = log } }

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  quartz.NewReal(),
		loc:    time.UTC,
		status: make(map[string]models.TimeClockStatus),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return l
}

// OpenSession records a CLOCK_IN entry and opens a session for it.
func (l *Ledger) OpenSession(ctx context.Context, userID string, entry models.TimeClockEntry) (*models.TimeClockSession, error) {
	if entry.Kind != domain.EntryClockIn {
		return nil, fmt.Errorf("%w: open with %q", ErrWrongEntryKind, entry.Kind)
	}
	unlock := l.locks.Lock(userID)
	defer unlock()

	open, err := l.store.FindOpenSession(ctx, userID)
	if err != nil {
		return nil, persistErr("find open session", err)
	}
	if open != nil {
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyClockedIn, open.ID)
	}

	now := l.clock.Now()
	l.prepareEntry(&entry, userID, now)
	session := &models.TimeClockSession{
		ID:               uuid.NewString(),
		UserID:           userID,
		ClockInEntryID:   entry.ID,
		ClockInAt:        entry.Timestamp,
		WorkLocationID:   entry.WorkLocationID,
		WorkLocationName: entry.WorkLocationName,
		ProjectID:        entry.ProjectID,
		SessionDate:      l.day(entry.Timestamp),
		Notes:            entry.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	status := models.ClockedInStatus(session, now)

	if err := l.store.CreateOpenSession(ctx, &entry, session, &status); err != nil {
		if errors.Is(err, ErrAlreadyClockedIn) {
			return nil, err
		}
		return nil, persistErr("open session", err)
	}
	l.setStatus(status)

	l.log.WithFields(logrus.Fields{
		"user_id":          userID,
		"session_id":       session.ID,
		"work_location_id": session.WorkLocationID,
		"automatic":        entry.Automatic,
	}).Info("session opened")
	return session, nil
}

// CloseSession records a CLOCK_OUT entry against the user's open session.
func (l *Ledger) CloseSession(ctx context.Context, userID string, entry models.TimeClockEntry) (*models.TimeClockSession, error) {
	if entry.Kind != domain.EntryClockOut {
		return nil, fmt.Errorf("%w: close with %q", ErrWrongEntryKind, entry.Kind)
	}
	unlock := l.locks.Lock(userID)
	defer unlock()

	open, err := l.store.FindOpenSession(ctx, userID)
	if err != nil {
		return nil, persistErr("find open session", err)
	}
	if open == nil {
		return nil, ErrNotClockedIn
	}

	now := l.clock.Now()
	l.prepareEntry(&entry, userID, now)
	if entry.Timestamp.Before(open.ClockInAt) {
		return nil, &InvalidDurationError{SessionID: open.ID, ClockIn: open.ClockInAt, ClockOut: entry.Timestamp}
	}
	if entry.WorkLocationID == "" {
		entry.WorkLocationID = open.WorkLocationID
		entry.WorkLocationName = open.WorkLocationName
	}
	if entry.ProjectID == nil {
		entry.ProjectID = open.ProjectID
	}

	closed := *open
	clockOut := entry.Timestamp
	duration := clockOut.Sub(open.ClockInAt).Milliseconds()
	closed.ClockOutEntryID = &entry.ID
	closed.ClockOutAt = &clockOut
	closed.DurationMs = &duration
	closed.Notes = joinNotes(open.Notes, entry.Notes)
	closed.UpdatedAt = now
	status := models.ClockedOutStatus(userID, now)

	if err := l.store.CloseOpenSession(ctx, &entry, &closed, &status); err != nil {
		if errors.Is(err, ErrNotClockedIn) {
			return nil, err
		}
		return nil, persistErr("close session", err)
	}
	l.setStatus(status)

	l.log.WithFields(logrus.Fields{
		"user_id":     userID,
		"session_id":  closed.ID,
		"duration_ms": duration,
		"automatic":   entry.Automatic,
	}).Info("session closed")
	return &closed, nil
}

// FindOpenSession returns nil, nil when the user is clocked out.
func (l *Ledger) FindOpenSession(ctx context.Context, userID string) (*models.TimeClockSession, error) {
	open, err := l.store.FindOpenSession(ctx, userID)
	if err != nil {
		return nil, persistErr("find open session", err)
	}
	return open, nil
}

func (l *Ledger) Entries(ctx context.Context, userID string) ([]models.TimeClockEntry, error) {
	list, err := l.store.Entries(ctx, userID)
	return list, persistErr("list entries", err)
}

func (l *Ledger) Sessions(ctx context.Context, userID string) ([]models.TimeClockSession, error) {
	list, err := l.store.Sessions(ctx, userID)
	return list, persistErr("list sessions", err)
}

// SessionsInRange returns sessions whose session date falls on or between
// the days of start and end.
func (l *Ledger) SessionsInRange(ctx context.Context, userID string, start, end time.Time) ([]models.TimeClockSession, error) {
	from, to := l.day(start), l.day(end)
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	list, err := l.store.SessionsBetween(ctx, userID, from, to)
	return list, persistErr("list sessions in range", err)
}

// TotalHours sums closed sessions in range. Open sessions count as zero.
func (l *Ledger) TotalHours(ctx context.Context, userID string, start, end time.Time) (float64, error) {
	list, err := l.SessionsInRange(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	var ms int64
	for _, s := range list {
		if s.IsOpen() || s.DurationMs == nil {
			continue
		}
		ms += *s.DurationMs
	}
	return float64(ms) / msPerHour, nil
}

// Status returns the user's snapshot, deriving it from the open session on a
// cache miss.
func (l *Ledger) Status(ctx context.Context, userID string) (models.TimeClockStatus, error) {
	l.mu.RLock()
	st, ok := l.status[userID]
	l.mu.RUnlock()
	if ok {
		return st, nil
	}

	unlock := l.locks.Lock(userID)
	defer unlock()
	l.mu.RLock()
	st, ok = l.status[userID]
	l.mu.RUnlock()
	if ok {
		return st, nil
	}
	open, err := l.store.FindOpenSession(ctx, userID)
	if err != nil {
		return models.TimeClockStatus{}, persistErr("load status", err)
	}
	if open != nil {
		st = models.ClockedInStatus(open, open.UpdatedAt)
	} else {
		st = models.ClockedOutStatus(userID, time.Time{})
	}
	l.setStatus(st)
	return st, nil
}

func (l *Ledger) setStatus(st models.TimeClockStatus) {
	l.mu.Lock()
	l.status[st.UserID] = st
	l.mu.Unlock()
}

func (l *Ledger) prepareEntry(entry *models.TimeClockEntry, userID string, now time.Time) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UserID = userID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry.CreatedAt = now
}

func (l *Ledger) day(t time.Time) time.Time {
	y, m, d := t.In(l.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, l.loc)
}

func joinNotes(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
