// Package timeclock decides when a user is clocked in or out. It combines
// location updates, manual requests and voice commands into transitions on
// the ledger and publishes an Event for each one.
package timeclock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/command"
	"fieldclock/internal/domain"
	"fieldclock/internal/geofence"
	"fieldclock/internal/ledger"
	"fieldclock/internal/models"
	"fieldclock/internal/syncx"
	"fieldclock/internal/tracker"
	"fieldclock/pkg/location"
)

// WorkLocationSource lists the job sites the engine matches against.
type WorkLocationSource interface {
	ListActive(ctx context.Context) ([]models.WorkLocation, error)
	// Get returns nil, nil when id does not exist.
	Get(ctx context.Context, id string) (*models.WorkLocation, error)
}

// FixFetcher obtains a current fix for a user.
type FixFetcher interface {
	Fetch(ctx context.Context, userID string) (tracker.Fix, error)
}

type Config struct {
	Ledger  *ledger.Ledger
	Sites   WorkLocationSource
	Matcher *geofence.Matcher
	// Fetcher may be nil; requests without a point then fail with
	// ErrLocationUnavailable.
	Fetcher FixFetcher
	Broker  *Broker
	Metrics *Metrics
	Clock   quartz.Clock
	Logger  *logrus.Entry

	// MaxFixSkew is how far ahead of the engine clock a fix timestamp may
	// be. Zero means DefaultMaxFixSkew.
	MaxFixSkew time.Duration
}

// DefaultMaxFixSkew tolerates small device clock drift.
const DefaultMaxFixSkew = time.Minute

// lastFix entries idle for longer than fixRetention are pruned, at most
// once per pruneInterval.
const (
	fixRetention  = 24 * time.Hour
	pruneInterval = time.Hour
)

type Engine struct {
	ledger  *ledger.Ledger
	sites   WorkLocationSource
	matcher *geofence.Matcher
	fetcher FixFetcher
	broker  *Broker
	metrics *Metrics
	clock   quartz.Clock
	log     *logrus.Entry

	locks syncx.KeyedMutex

	maxSkew time.Duration

	mu        sync.Mutex
	lastFix   map[string]time.Time
	lastPrune time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		ledger:  cfg.Ledger,
		sites:   cfg.Sites,
		matcher: cfg.Matcher,
		fetcher: cfg.Fetcher,
		broker:  cfg.Broker,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		maxSkew: cfg.MaxFixSkew,
		lastFix: make(map[string]time.Time),
	}
	if e.maxSkew <= 0 {
		e.maxSkew = DefaultMaxFixSkew
	}
	if e.clock == nil {
		e.clock = quartz.NewReal()
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return e
}

// Transition is the outcome of one engine call. Event is empty when the
// call changed nothing.
type Transition struct {
	Event   string                   `json:"event,omitempty"`
	Entry   *models.TimeClockEntry   `json:"entry,omitempty"`
	Session *models.TimeClockSession `json:"session,omitempty"`
	Status  models.TimeClockStatus   `json:"status"`
	// Fix is the position the decision was made on, if any.
	Fix *tracker.Fix `json:"fix,omitempty"`
}

func (t Transition) Changed() bool { return t.Event != "" }

type ClockInRequest struct {
	UserID         string
	WorkLocationID string
	// Point is fetched from the location source when nil.
	Point     *location.Point
	ProjectID *string
	Notes     string
}

type ClockOutRequest struct {
	UserID string
	Point  *location.Point
	Notes  string
}

// ManualClockIn opens a session at the requested work location.
func (e *Engine) ManualClockIn(ctx context.Context, req ClockInRequest) (Transition, error) {
	log := e.log.WithFields(logrus.Fields{"user_id": req.UserID, "op": "manual_clock_in"})

	site, err := e.sites.Get(ctx, req.WorkLocationID)
	if err != nil {
		return Transition{}, e.reject(log, siteErr("load work location", err))
	}
	if site == nil || !site.Active {
		return Transition{}, e.reject(log, fmt.Errorf("%w: %s", ErrUnknownWorkLocation, req.WorkLocationID))
	}
	point, err := e.resolvePoint(ctx, req.UserID, req.Point)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}

	unlock := e.locks.Lock(req.UserID)
	defer unlock()
	return e.clockIn(ctx, log, req.UserID, site, point, e.clock.Now(), false, req.ProjectID, req.Notes)
}

// ManualClockOut closes the user's open session.
func (e *Engine) ManualClockOut(ctx context.Context, req ClockOutRequest) (Transition, error) {
	log := e.log.WithFields(logrus.Fields{"user_id": req.UserID, "op": "manual_clock_out"})

	point, err := e.resolvePoint(ctx, req.UserID, req.Point)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}

	unlock := e.locks.Lock(req.UserID)
	defer unlock()
	return e.clockOut(ctx, log, req.UserID, point, e.clock.Now(), false, req.Notes)
}

// HandleLocationUpdate applies one fix to the user's state machine and
// performs the automatic transition it implies, if any.
func (e *Engine) HandleLocationUpdate(ctx context.Context, userID string, fix tracker.Fix) (Transition, error) {
	log := e.log.WithFields(logrus.Fields{"user_id": userID, "op": "location_update"})
	fix, err := e.PrepareFix(fix)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}
	sites, err := e.sites.ListActive(ctx)
	if err != nil {
		return Transition{}, e.reject(log, siteErr("list work locations", err))
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	if e.isStale(userID, fix.Timestamp) {
		return Transition{}, e.reject(log, fmt.Errorf("%w: fix at %s", ErrStaleFix, fix.Timestamp.Format(time.RFC3339Nano)))
	}

	status, err := e.ledger.Status(ctx, userID)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}

	var t Transition
	if !status.IsClockedIn {
		site, ok := e.matcher.Match(fix.Point, sites)
		if !ok {
			t = Transition{Status: status}
		} else {
			t, err = e.clockIn(ctx, log, userID, site, fix.Point, fix.Timestamp, true, nil, "")
		}
	} else {
		inside, ierr := e.insideCurrent(ctx, fix.Point, status, sites)
		switch {
		case ierr != nil:
			return Transition{}, e.reject(log, ierr)
		case inside:
			t = Transition{Status: status}
		default:
			// Entering a different site only clocks out here; the next fix
			// inside it clocks in.
			t, err = e.clockOut(ctx, log, userID, fix.Point, fix.Timestamp, true, "")
		}
	}
	if err != nil {
		return Transition{}, err
	}
	e.recordFix(userID, fix.Timestamp)
	t.Fix = &fix
	return t, nil
}

// PrepareFix stamps a fix that has no timestamp with the engine clock and
// rejects fixes that are out of range or dated ahead of the engine clock.
func (e *Engine) PrepareFix(fix tracker.Fix) (tracker.Fix, error) {
	if !fix.Valid() {
		return fix, ErrInvalidFix
	}
	now := e.clock.Now()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = now
		return fix, nil
	}
	if fix.Timestamp.After(now.Add(e.maxSkew)) {
		return fix, fmt.Errorf("%w: fix at %s, server time %s", ErrFutureFix,
			fix.Timestamp.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return fix, nil
}

// CheckLocation pulls a fresh fix and applies it. A missing or stale fix is
// logged and reported as no change.
func (e *Engine) CheckLocation(ctx context.Context, userID string) (Transition, error) {
	log := e.log.WithFields(logrus.Fields{"user_id": userID, "op": "check_location"})
	if e.fetcher == nil {
		log.Debug("no location fetcher configured")
		return e.unchanged(ctx, userID)
	}
	fix, err := e.fetcher.Fetch(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrLocationUnavailable) {
			e.metrics.RecordRejection(ReasonLocationUnavailable)
			log.WithError(err).Info("location check skipped")
			return e.unchanged(ctx, userID)
		}
		return Transition{}, err
	}
	t, err := e.HandleLocationUpdate(ctx, userID, fix)
	if errors.Is(err, ErrStaleFix) {
		return e.unchanged(ctx, userID)
	}
	return t, err
}

// Execute runs a voice or text command. A clock-in resolves the work
// location from the user's position.
func (e *Engine) Execute(ctx context.Context, userID string, cmd command.Command, point *location.Point, notes string) (Transition, error) {
	switch cmd {
	case command.ClockIn:
		log := e.log.WithFields(logrus.Fields{"user_id": userID, "op": "command_clock_in"})
		p, err := e.resolvePoint(ctx, userID, point)
		if err != nil {
			return Transition{}, e.reject(log, err)
		}
		sites, err := e.sites.ListActive(ctx)
		if err != nil {
			return Transition{}, e.reject(log, siteErr("list work locations", err))
		}
		site, ok := e.matcher.Match(p, sites)
		if !ok {
			return Transition{}, e.reject(log, ErrNoWorkLocation)
		}
		unlock := e.locks.Lock(userID)
		defer unlock()
		return e.clockIn(ctx, log, userID, site, p, e.clock.Now(), false, nil, notes)
	case command.ClockOut:
		return e.ManualClockOut(ctx, ClockOutRequest{UserID: userID, Point: point, Notes: notes})
	default:
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
}

func (e *Engine) Status(ctx context.Context, userID string) (models.TimeClockStatus, error) {
	return e.ledger.Status(ctx, userID)
}

// Subscribe registers an observer for transition events.
func (e *Engine) Subscribe(name string, fn func(Event)) (unsubscribe func()) {
	if e.broker == nil {
		return func() {}
	}
	return e.broker.Subscribe(name, fn)
}

// clockIn and clockOut expect the user lock to be held.
func (e *Engine) clockIn(ctx context.Context, log *logrus.Entry, userID string, site *models.WorkLocation, p location.Point, at time.Time, automatic bool, projectID *string, notes string) (Transition, error) {
	if projectID == nil {
		projectID = site.ProjectID
	}
	entry := models.TimeClockEntry{
		ID:               uuid.NewString(),
		UserID:           userID,
		Timestamp:        at,
		Kind:             domain.EntryClockIn,
		WorkLocationID:   site.ID,
		WorkLocationName: site.Name,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		ProjectID:        projectID,
		Notes:            notes,
		Automatic:        automatic,
	}
	session, err := e.ledger.OpenSession(ctx, userID, entry)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}
	event := domain.EventManualClockIn
	if automatic {
		event = domain.EventEnteredWorkLocation
	}
	return e.emit(event, entry, session, models.ClockedInStatus(session, e.clock.Now())), nil
}

func (e *Engine) clockOut(ctx context.Context, log *logrus.Entry, userID string, p location.Point, at time.Time, automatic bool, notes string) (Transition, error) {
	entry := models.TimeClockEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Timestamp: at,
		Kind:      domain.EntryClockOut,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Notes:     notes,
		Automatic: automatic,
	}
	session, err := e.ledger.CloseSession(ctx, userID, entry)
	if err != nil {
		return Transition{}, e.reject(log, err)
	}
	// The ledger fills these from the session.
	entry.WorkLocationID = session.WorkLocationID
	entry.WorkLocationName = session.WorkLocationName
	entry.ProjectID = session.ProjectID
	event := domain.EventManualClockOut
	if automatic {
		event = domain.EventLeftWorkLocation
	}
	return e.emit(event, entry, session, models.ClockedOutStatus(userID, e.clock.Now())), nil
}

func (e *Engine) emit(event string, entry models.TimeClockEntry, session *models.TimeClockSession, status models.TimeClockStatus) Transition {
	e.metrics.RecordTransition(event)
	if e.broker != nil {
		e.broker.Publish(Event{
			Type:       event,
			UserID:     entry.UserID,
			Automatic:  entry.Automatic,
			Entry:      entry,
			Session:    *session,
			Status:     status,
			OccurredAt: entry.Timestamp,
		})
	}
	return Transition{Event: event, Entry: &entry, Session: session, Status: status}
}

func (e *Engine) reject(log *logrus.Entry, err error) error {
	reason := rejectionReason(err)
	e.metrics.RecordRejection(reason)
	log = log.WithError(err).WithField("reason", reason)
	if reason == ReasonPersistence || reason == ReasonOther {
		log.Error("clock request failed")
	} else {
		log.Info("clock request rejected")
	}
	return err
}

func (e *Engine) resolvePoint(ctx context.Context, userID string, p *location.Point) (location.Point, error) {
	if p != nil {
		if !p.Valid() {
			return location.Point{}, ErrInvalidFix
		}
		return *p, nil
	}
	if e.fetcher == nil {
		return location.Point{}, ErrLocationUnavailable
	}
	fix, err := e.fetcher.Fetch(ctx, userID)
	if err != nil {
		return location.Point{}, err
	}
	return fix.Point, nil
}

// isStale reports whether ts precedes the newest fix applied for the user.
func (e *Engine) isStale(userID string, ts time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFix[userID]
	return ok && ts.Before(last)
}

// recordFix marks ts as applied. Called only after the fix was acted on.
func (e *Engine) recordFix(userID string, ts time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastFix[userID]; !ok || ts.After(last) {
		e.lastFix[userID] = ts
	}
	now := e.clock.Now()
	if now.Sub(e.lastPrune) < pruneInterval {
		return
	}
	e.lastPrune = now
	for id, last := range e.lastFix {
		if now.Sub(last) > fixRetention {
			delete(e.lastFix, id)
		}
	}
}

// insideCurrent checks the fix against the site of the open session, even
// if that site has since been deactivated. A site that no longer exists
// counts as outside.
func (e *Engine) insideCurrent(ctx context.Context, p location.Point, status models.TimeClockStatus, sites []models.WorkLocation) (bool, error) {
	if status.CurrentWorkLocationID == nil {
		return false, nil
	}
	id := *status.CurrentWorkLocationID
	for i := range sites {
		if sites[i].ID == id {
			return geofence.Contains(p, &sites[i]), nil
		}
	}
	site, err := e.sites.Get(ctx, id)
	if err != nil {
		return false, siteErr("load work location", err)
	}
	if site == nil {
		return false, nil
	}
	return geofence.Contains(p, site), nil
}

// siteErr marks a work location read failure as a backend error.
func siteErr(op string, err error) error {
	return &ledger.PersistenceError{Op: op, Err: err}
}

func (e *Engine) unchanged(ctx context.Context, userID string) (Transition, error) {
	status, err := e.ledger.Status(ctx, userID)
	if err != nil {
		return Transition{}, err
	}
	return Transition{Status: status}, nil
}
