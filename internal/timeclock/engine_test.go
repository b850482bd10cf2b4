package timeclock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"fieldclock/internal/command"
	"fieldclock/internal/domain"
	"fieldclock/internal/geofence"
	"fieldclock/internal/ledger"
	"fieldclock/internal/models"
	"fieldclock/internal/timeclock"
	"fieldclock/internal/tracker"
	"fieldclock/pkg/location"
)

var (
	t0     = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	center = location.Point{Latitude: 37.7749, Longitude: -122.4194}
	l1     = models.WorkLocation{ID: "L1", Name: "Main St", Latitude: center.Latitude, Longitude: center.Longitude, RadiusMeters: 100, Active: true}
	l2Pt   = location.OffsetNorth(center, 1000)
	l2     = models.WorkLocation{ID: "L2", Name: "Depot", Latitude: l2Pt.Latitude, Longitude: l2Pt.Longitude, RadiusMeters: 100, Active: true}
)

type fakeFetcher struct {
	mu  sync.Mutex
	fix tracker.Fix
	err error
	n   int
}

func (f *fakeFetcher) Fetch(context.Context, string) (tracker.Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.fix, f.err
}

type harness struct {
	engine  *timeclock.Engine
	ledger  *ledger.Ledger
	clock   *quartz.Mock
	fetcher *fakeFetcher
	events  chan timeclock.Event
}

func newHarness(t *testing.T, sites ...models.WorkLocation) *harness {
	t.Helper()
	return newHarnessWithSites(t, timeclock.StaticSites(sites))
}

func newHarnessWithSites(t *testing.T, sites timeclock.WorkLocationSource) *harness {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(t0)
	log, _ := test.NewNullLogger()
	entry := logrus.NewEntry(log)

	metrics, err := timeclock.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	broker := timeclock.NewBroker(64, entry, metrics)
	t.Cleanup(broker.Close)

	l := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(clock), ledger.WithLogger(entry))
	fetcher := &fakeFetcher{err: tracker.ErrLocationUnavailable}
	h := &harness{
		ledger:  l,
		clock:   clock,
		fetcher: fetcher,
		events:  make(chan timeclock.Event, 64),
		engine: timeclock.New(timeclock.Config{
			Ledger:  l,
			Sites:   sites,
			Matcher: geofence.NewMatcher(geofence.PolicyFirstMatch),
			Fetcher: fetcher,
			Broker:  broker,
			Metrics: metrics,
			Clock:   clock,
			Logger:  entry,
		}),
	}
	h.engine.Subscribe("test", func(ev timeclock.Event) { h.events <- ev })
	return h
}

func (h *harness) nextEvent(t *testing.T) timeclock.Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event published")
		return timeclock.Event{}
	}
}

func (h *harness) noEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

// failingSites serves a fixed list and fails reads on demand.
type failingSites struct {
	mu      sync.Mutex
	active  []models.WorkLocation
	all     []models.WorkLocation
	listErr error
	getErr  error
}

func (f *failingSites) ListActive(context.Context) ([]models.WorkLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, f.listErr
}

func (f *failingSites) Get(_ context.Context, id string) (*models.WorkLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.all {
		if f.all[i].ID == id {
			loc := f.all[i]
			return &loc, nil
		}
	}
	return nil, nil
}

func (f *failingSites) set(fn func(*failingSites)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func fixAt(p location.Point, at time.Time) tracker.Fix {
	return tracker.Fix{Point: p, AccuracyMeters: 5, Timestamp: at}
}

func entries(t *testing.T, l *ledger.Ledger, userID string) []models.TimeClockEntry {
	t.Helper()
	list, err := l.Entries(context.Background(), userID)
	require.NoError(t, err)
	return list
}

func openSessions(t *testing.T, l *ledger.Ledger, userID string) []models.TimeClockSession {
	t.Helper()
	list, err := l.Sessions(context.Background(), userID)
	require.NoError(t, err)
	var open []models.TimeClockSession
	for _, s := range list {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	return open
}

func TestAutomaticClockInAtCenter(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
	require.NoError(t, err)
	assert.Equal(t, domain.EventEnteredWorkLocation, tr.Event)
	require.NotNil(t, tr.Entry)
	assert.Equal(t, domain.EntryClockIn, tr.Entry.Kind)
	assert.True(t, tr.Entry.Automatic)

	status, err := h.engine.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.IsClockedIn)
	require.NotNil(t, status.CurrentWorkLocationID)
	assert.Equal(t, "L1", *status.CurrentWorkLocationID)

	ev := h.nextEvent(t)
	assert.Equal(t, domain.EventEnteredWorkLocation, ev.Type)
	assert.Equal(t, "u1", ev.UserID)
	assert.True(t, ev.Automatic)
	assert.True(t, ev.ClockedIn())
}

func TestAutomaticClockOutWhenFarAway(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
	require.NoError(t, err)
	h.nextEvent(t)

	later := t0.Add(45 * time.Minute)
	h.clock.Set(later)
	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 5000), later))
	require.NoError(t, err)
	assert.Equal(t, domain.EventLeftWorkLocation, tr.Event)
	assert.Equal(t, domain.EntryClockOut, tr.Entry.Kind)
	assert.True(t, tr.Entry.Automatic)
	assert.Equal(t, "L1", tr.Entry.WorkLocationID)
	require.NotNil(t, tr.Session.DurationMs)
	assert.Equal(t, (45 * time.Minute).Milliseconds(), *tr.Session.DurationMs)

	status, err := h.engine.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, status.IsClockedIn)
	assert.Equal(t, domain.EventLeftWorkLocation, h.nextEvent(t).Type)
}

func TestManualClockInWhileClockedIn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	first, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
	require.NoError(t, err)
	h.nextEvent(t)

	_, err = h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1", Point: &center})
	require.ErrorIs(t, err, ledger.ErrAlreadyClockedIn)

	open := openSessions(t, h.ledger, "u1")
	require.Len(t, open, 1)
	assert.Equal(t, first.Session.ID, open[0].ID)
	h.noEvent(t)
}

func TestManualClockOutWithoutSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)

	_, err := h.engine.ManualClockOut(context.Background(), timeclock.ClockOutRequest{UserID: "u1", Point: &center})
	require.ErrorIs(t, err, ledger.ErrNotClockedIn)
	assert.Empty(t, entries(t, h.ledger, "u1"))
	h.noEvent(t)
}

func TestManualRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()
	project := "P-7"

	in, err := h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{
		UserID: "u1", WorkLocationID: "L1", Point: &center, ProjectID: &project, Notes: "framing",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EventManualClockIn, in.Event)
	assert.False(t, in.Entry.Automatic)
	assert.Equal(t, t0, in.Entry.Timestamp)
	assert.Equal(t, domain.EventManualClockIn, h.nextEvent(t).Type)

	h.clock.Advance(2 * time.Hour)
	out, err := h.engine.ManualClockOut(ctx, timeclock.ClockOutRequest{UserID: "u1", Point: &center, Notes: "done"})
	require.NoError(t, err)
	assert.Equal(t, domain.EventManualClockOut, out.Event)
	assert.Equal(t, "framing\ndone", out.Session.Notes)
	require.NotNil(t, out.Session.ProjectID)
	assert.Equal(t, project, *out.Session.ProjectID)
	assert.Equal(t, 2*time.Hour, out.Session.Duration())
	assert.Equal(t, domain.EventManualClockOut, h.nextEvent(t).Type)
}

func TestManualClockInValidation(t *testing.T) {
	t.Parallel()
	inactive := l2
	inactive.Active = false
	h := newHarness(t, l1, inactive)
	ctx := context.Background()

	_, err := h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "nope", Point: &center})
	require.ErrorIs(t, err, timeclock.ErrUnknownWorkLocation)

	_, err = h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L2", Point: &center})
	require.ErrorIs(t, err, timeclock.ErrUnknownWorkLocation)

	// No point and the fetcher has nothing.
	_, err = h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1"})
	require.ErrorIs(t, err, timeclock.ErrLocationUnavailable)

	bad := location.Point{Latitude: 123, Longitude: 0}
	_, err = h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1", Point: &bad})
	require.ErrorIs(t, err, timeclock.ErrInvalidFix)

	assert.Empty(t, entries(t, h.ledger, "u1"))
	h.noEvent(t)
}

func TestManualClockInFetchesPoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	h.fetcher.fix = fixAt(location.OffsetNorth(center, 20), t0)
	h.fetcher.err = nil

	tr, err := h.engine.ManualClockIn(context.Background(), timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1"})
	require.NoError(t, err)
	assert.Equal(t, h.fetcher.fix.Latitude, tr.Entry.Latitude)
	assert.Equal(t, 1, h.fetcher.n)
}

func TestLocationUpdatesAreIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	h.clock.Set(t0.Add(5 * time.Minute))
	ctx := context.Background()

	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 3000), t0))
	require.NoError(t, err)
	assert.False(t, tr.Changed())

	_, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.Add(time.Minute)))
	require.NoError(t, err)
	h.nextEvent(t)

	for i := 2; i < 5; i++ {
		tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 30), t0.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		assert.False(t, tr.Changed())
		assert.True(t, tr.Status.IsClockedIn)
	}
	assert.Len(t, entries(t, h.ledger, "u1"), 1)
	h.noEvent(t)
}

func TestEnteringOtherSiteOnlyClocksOut(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1, l2)
	h.clock.Set(t0.Add(2 * time.Hour))
	ctx := context.Background()

	_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
	require.NoError(t, err)

	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(l2Pt, t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, domain.EventLeftWorkLocation, tr.Event)
	assert.Equal(t, "L1", tr.Session.WorkLocationID)
	assert.False(t, tr.Status.IsClockedIn)

	tr, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(l2Pt, t0.Add(time.Hour+time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, domain.EventEnteredWorkLocation, tr.Event)
	assert.Equal(t, "L2", tr.Session.WorkLocationID)

	var types []string
	for range 3 {
		types = append(types, h.nextEvent(t).Type)
	}
	assert.Equal(t, []string{domain.EventEnteredWorkLocation, domain.EventLeftWorkLocation, domain.EventEnteredWorkLocation}, types)
}

func TestStaleFixIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	h.clock.Set(t0.Add(time.Hour))
	ctx := context.Background()

	_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.Add(time.Hour)))
	require.NoError(t, err)
	h.nextEvent(t)

	_, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 5000), t0))
	require.ErrorIs(t, err, timeclock.ErrStaleFix)
	assert.Len(t, openSessions(t, h.ledger, "u1"), 1)
	h.noEvent(t)
}

func TestSiteReadFailureKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	sites := &failingSites{active: []models.WorkLocation{l1}, all: []models.WorkLocation{l1}}
	h := newHarnessWithSites(t, sites)
	ctx := context.Background()

	_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
	require.NoError(t, err)
	h.nextEvent(t)

	// L1 is deactivated and the backend then fails the lookup of the
	// current site.
	inactive := l1
	inactive.Active = false
	sites.set(func(s *failingSites) {
		s.active = nil
		s.all = []models.WorkLocation{inactive}
		s.getErr = errors.New("db down")
	})
	h.clock.Set(t0.Add(time.Minute))
	_, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.Add(time.Minute)))
	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Len(t, openSessions(t, h.ledger, "u1"), 1)
	assert.Len(t, entries(t, h.ledger, "u1"), 1)
	status, err := h.engine.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.IsClockedIn)
	h.noEvent(t)

	// The failed fix was not recorded as applied, so an earlier one still
	// counts.
	sites.set(func(s *failingSites) { s.getErr = nil })
	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.True(t, tr.Status.IsClockedIn)
}

func TestSiteListFailureChangesNothing(t *testing.T) {
	t.Parallel()
	sites := &failingSites{listErr: errors.New("db down")}
	h := newHarnessWithSites(t, sites)

	_, err := h.engine.HandleLocationUpdate(context.Background(), "u1", fixAt(center, t0))
	require.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Empty(t, entries(t, h.ledger, "u1"))
	h.noEvent(t)
}

func TestFutureFixIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.AddDate(1, 0, 0)))
	require.ErrorIs(t, err, timeclock.ErrFutureFix)
	require.ErrorIs(t, err, timeclock.ErrInvalidFix)
	assert.Empty(t, entries(t, h.ledger, "u1"))
	h.noEvent(t)

	// Drift within the tolerance is accepted.
	tr, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, domain.EventEnteredWorkLocation, tr.Event)
	h.nextEvent(t)

	// The rejected fix did not block later ones.
	h.clock.Set(t0.Add(time.Hour))
	tr, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 5000), t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, domain.EventLeftWorkLocation, tr.Event)
	assert.Empty(t, openSessions(t, h.ledger, "u1"))
}

func TestPrepareFixStampsWithEngineClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.clock.Set(t0.Add(3 * time.Hour))

	fix, err := h.engine.PrepareFix(tracker.Fix{Point: center})
	require.NoError(t, err)
	assert.True(t, fix.Timestamp.Equal(t0.Add(3*time.Hour)))

	_, err = h.engine.PrepareFix(tracker.Fix{Point: location.Point{Latitude: 95}})
	require.ErrorIs(t, err, timeclock.ErrInvalidFix)
}

func TestInvertedTimestampKeepsSessionOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	h.clock.Set(t0.Add(time.Hour))
	_, err := h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1", Point: &center})
	require.NoError(t, err)
	h.nextEvent(t)

	// A fix taken before the manual clock-in arrives late.
	_, err = h.engine.HandleLocationUpdate(ctx, "u1", fixAt(location.OffsetNorth(center, 5000), t0))
	var invalid *ledger.InvalidDurationError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, openSessions(t, h.ledger, "u1"), 1)
	h.noEvent(t)
}

func TestInvalidFix(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	_, err := h.engine.HandleLocationUpdate(context.Background(), "u1", fixAt(location.Point{Latitude: 0, Longitude: 200}, t0))
	require.ErrorIs(t, err, timeclock.ErrInvalidFix)
}

func TestCheckLocation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	tr, err := h.engine.CheckLocation(ctx, "u1")
	require.NoError(t, err, "unavailable location is not an error on the passive path")
	assert.False(t, tr.Changed())
	assert.Nil(t, tr.Fix)

	h.fetcher.fix = fixAt(center, t0)
	h.fetcher.err = nil
	tr, err = h.engine.CheckLocation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.EventEnteredWorkLocation, tr.Event)
	require.NotNil(t, tr.Fix)

	// Same fix again: not stale, inside current site.
	tr, err = h.engine.CheckLocation(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, tr.Changed())
	assert.True(t, tr.Status.IsClockedIn)
}

func TestExecuteCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1, l2)
	ctx := context.Background()
	far := location.OffsetNorth(center, 5000)

	_, err := h.engine.Execute(ctx, "u1", command.ClockIn, &far, "")
	require.ErrorIs(t, err, timeclock.ErrNoWorkLocation)

	tr, err := h.engine.Execute(ctx, "u1", command.ClockIn, &l2Pt, "voice")
	require.NoError(t, err)
	assert.Equal(t, domain.EventManualClockIn, tr.Event)
	assert.Equal(t, "L2", tr.Session.WorkLocationID)

	tr, err = h.engine.Execute(ctx, "u1", command.ClockOut, &l2Pt, "")
	require.NoError(t, err)
	assert.Equal(t, domain.EventManualClockOut, tr.Event)

	_, err = h.engine.Execute(ctx, "u1", command.Command("break"), &l2Pt, "")
	require.ErrorIs(t, err, timeclock.ErrUnknownCommand)
}

func TestRacingClockInsOpenOneSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	ctx := context.Background()

	var g errgroup.Group
	for i := range 32 {
		g.Go(func() error {
			if i%2 == 0 {
				_, err := h.engine.ManualClockIn(ctx, timeclock.ClockInRequest{UserID: "u1", WorkLocationID: "L1", Point: &center})
				if err != nil && !errors.Is(err, ledger.ErrAlreadyClockedIn) {
					return err
				}
				return nil
			}
			_, err := h.engine.HandleLocationUpdate(ctx, "u1", fixAt(center, t0))
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, openSessions(t, h.ledger, "u1"), 1)
	assert.Len(t, entries(t, h.ledger, "u1"), 1)
	h.nextEvent(t)
	h.noEvent(t)
}

func TestUsersDoNotInterfere(t *testing.T) {
	t.Parallel()
	h := newHarness(t, l1)
	h.clock.Set(t0.Add(time.Hour))
	ctx := context.Background()

	var g errgroup.Group
	for i := range 8 {
		user := fmt.Sprintf("user-%d", i)
		g.Go(func() error {
			if _, err := h.engine.HandleLocationUpdate(ctx, user, fixAt(center, t0)); err != nil {
				return err
			}
			_, err := h.engine.HandleLocationUpdate(ctx, user, fixAt(location.OffsetNorth(center, 5000), t0.Add(time.Hour)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i := range 8 {
		hours, err := h.ledger.TotalHours(ctx, fmt.Sprintf("user-%d", i), t0, t0)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, hours, 1e-9)
	}
}
