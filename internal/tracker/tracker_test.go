package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fieldclock/internal/models"
	"fieldclock/internal/tracker"
	"fieldclock/pkg/location"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var site = location.Point{Latitude: 37.7749, Longitude: -122.4194}

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]models.UserLocation
	err  error
}

func (f *fakeStore) Upsert(loc *models.UserLocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.rows == nil {
		f.rows = make(map[string]models.UserLocation)
	}
	f.rows[loc.UserID] = *loc
	return nil
}

func (f *fakeStore) GetByUserID(userID string) (*models.UserLocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[userID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return &row, nil
}

type reportingPinger struct {
	src   *tracker.ReportedSource
	fix   tracker.Fix
	calls int
}

func (p *reportingPinger) RequestLocation(_ context.Context, userID string) error {
	p.calls++
	return p.src.Report(userID, p.fix)
}

func TestFetchWaitsForReport(t *testing.T) {
	t.Parallel()
	src := tracker.NewReportedSource(nil, nil, nil)
	f := tracker.NewFetcher(src, tracker.FetcherOptions{Timeout: 5 * time.Second})

	want := tracker.Fix{Point: site, AccuracyMeters: 8, Timestamp: time.Now()}
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Eventually(t, func() bool { return src.Waiting("u1") == 1 }, 5*time.Second, time.Millisecond)
		assert.NoError(t, src.Report("u1", want))
	}()

	got, err := f.Fetch(context.Background(), "u1")
	<-done
	require.NoError(t, err)
	assert.Equal(t, want.Point, got.Point)
	assert.Zero(t, src.Waiting("u1"))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	src := tracker.NewReportedSource(nil, nil, nil)
	f := tracker.NewFetcher(src, tracker.FetcherOptions{Timeout: 20 * time.Millisecond})

	_, err := f.Fetch(context.Background(), "u1")
	require.ErrorIs(t, err, tracker.ErrLocationUnavailable)
	assert.NotErrorIs(t, err, tracker.ErrSuperseded)
	assert.Zero(t, src.Waiting("u1"))
}

func TestFetchSupersededRequestIsCancelled(t *testing.T) {
	t.Parallel()
	src := tracker.NewReportedSource(nil, nil, nil)
	f := tracker.NewFetcher(src, tracker.FetcherOptions{Timeout: 5 * time.Second})
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, "u1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.Waiting("u1") == 1 }, 5*time.Second, time.Millisecond)

	type result struct {
		fix tracker.Fix
		err error
	}
	second := make(chan result, 1)
	go func() {
		fix, err := f.Fetch(ctx, "u1")
		second <- result{fix, err}
	}()

	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, tracker.ErrSuperseded)
		require.ErrorIs(t, err, tracker.ErrLocationUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded request was not cancelled")
	}

	require.Eventually(t, func() bool { return src.Waiting("u1") == 1 }, 5*time.Second, time.Millisecond)
	fresh := tracker.Fix{Point: site, Timestamp: time.Now()}
	require.NoError(t, src.Report("u1", fresh))

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, fresh.Timestamp, res.fix.Timestamp)
}

func TestFetchOtherUsersNotCancelled(t *testing.T) {
	t.Parallel()
	src := tracker.NewReportedSource(nil, nil, nil)
	f := tracker.NewFetcher(src, tracker.FetcherOptions{Timeout: 5 * time.Second})
	ctx := context.Background()

	errs := make(chan error, 2)
	for _, u := range []string{"a", "b"} {
		go func() {
			_, err := f.Fetch(ctx, u)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool {
		return src.Waiting("a") == 1 && src.Waiting("b") == 1
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, src.Report("a", tracker.Fix{Point: site, Timestamp: time.Now()}))
	require.NoError(t, src.Report("b", tracker.Fix{Point: site, Timestamp: time.Now()}))
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestFetchUsesRecentLastKnown(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock.Set(now)

	src := tracker.NewReportedSource(nil, nil, nil)
	require.NoError(t, src.Report("u1", tracker.Fix{Point: site, Timestamp: now.Add(-30 * time.Second)}))

	recent := tracker.NewFetcher(src, tracker.FetcherOptions{MaxAge: time.Minute, Clock: clock})
	got, err := recent.Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, site, got.Point)

	strict := tracker.NewFetcher(src, tracker.FetcherOptions{MaxAge: 10 * time.Second, Timeout: 20 * time.Millisecond, Clock: clock})
	_, err = strict.Fetch(context.Background(), "u1")
	require.ErrorIs(t, err, tracker.ErrLocationUnavailable)
}

func TestPingerTriggersReport(t *testing.T) {
	t.Parallel()
	pinger := &reportingPinger{fix: tracker.Fix{Point: site, Timestamp: time.Now()}}
	src := tracker.NewReportedSource(nil, pinger, nil)
	pinger.src = src

	got, err := tracker.NewFetcher(src, tracker.FetcherOptions{Timeout: 5 * time.Second}).Fetch(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, site, got.Point)
	assert.Equal(t, 1, pinger.calls)
}

func TestReportedSourcePersists(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	fixedAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, tracker.NewReportedSource(store, nil, nil).Report("u1", tracker.Fix{Point: site, AccuracyMeters: 5, Timestamp: fixedAt}))

	// A new source, e.g. after restart, answers from the store.
	fresh := tracker.NewReportedSource(store, nil, nil)
	got, ok := fresh.LastKnown(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, site, got.Point)
	assert.Equal(t, fixedAt, got.Timestamp)

	_, ok = fresh.LastKnown(context.Background(), "u2")
	assert.False(t, ok)
}

func TestReportedSourceKeepsNewestFix(t *testing.T) {
	t.Parallel()
	src := tracker.NewReportedSource(nil, nil, nil)
	newer := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, src.Report("u1", tracker.Fix{Point: site, Timestamp: newer}))
	require.NoError(t, src.Report("u1", tracker.Fix{Point: location.OffsetNorth(site, 500), Timestamp: newer.Add(-time.Minute)}))

	got, ok := src.LastKnown(context.Background(), "u1")
	require.True(t, ok)
	assert.Equal(t, newer, got.Timestamp)
}

func TestReportedSourceStoreError(t *testing.T) {
	t.Parallel()
	store := &fakeStore{err: errors.New("db down")}
	src := tracker.NewReportedSource(store, nil, nil)
	err := src.Report("u1", tracker.Fix{Point: site, Timestamp: time.Now()})
	require.Error(t, err)

	_, ok := src.LastKnown(context.Background(), "u1")
	assert.True(t, ok, "fix is kept in memory when persisting fails")
}
