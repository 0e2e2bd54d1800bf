package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/fetcher"
	"github.com/scipunch/updatesbot/notify"
	"github.com/scipunch/updatesbot/parser"
	"github.com/scipunch/updatesbot/store"
	"github.com/scipunch/updatesbot/workflow"
)

type fakeFetcher struct {
	mu      sync.Mutex
	batches map[string][]feed.Update
	errs    map[string]error
	panics  map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		batches: make(map[string][]feed.Update),
		errs:    make(map[string]error),
		panics:  make(map[string]bool),
	}
}

func (f *fakeFetcher) set(feedID string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	updates := make([]feed.Update, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, feed.Update{Feed: feedID, ID: id, Title: "title " + id})
	}
	f.batches[feedID] = updates
}

func (f *fakeFetcher) Fetch(_ context.Context, fd feed.Feed) ([]feed.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[fd.ID] {
		panic("boom")
	}
	if err := f.errs[fd.ID]; err != nil {
		return nil, err
	}
	return f.batches[fd.ID], nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, f feed.Feed, updates []feed.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent == nil {
		d.sent = make(map[string][]string)
	}
	d.sent[f.ID] = append(d.sent[f.ID], feed.IDs(updates)...)
	return d.err
}

func (d *fakeDispatcher) sentFor(feedID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[feedID]
}

// Monday 10:00 UTC
var openHours = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// Saturday 10:00 UTC
var weekend = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)

type fixture struct {
	fetcher    *fakeFetcher
	dispatcher *fakeDispatcher
	dedup      *store.Dedup
	now        time.Time
	orch       *workflow.Orchestrator
}

func newFixture(t *testing.T, concurrency int, feedIDs ...string) *fixture {
	t.Helper()
	fx := &fixture{
		fetcher:    newFakeFetcher(),
		dispatcher: &fakeDispatcher{},
		dedup:      store.NewDedup(store.NewMemory()),
		now:        openHours,
	}
	feeds := make([]feed.Feed, 0, len(feedIDs))
	for _, id := range feedIDs {
		feeds = append(feeds, feed.Feed{ID: id})
	}
	fx.orch = workflow.New(fx.fetcher, fx.dedup, fx.dispatcher, workflow.Settings{
		Feeds:          feeds,
		Gate:           notify.Gate{StartHour: 9, EndHour: 17, Location: time.UTC},
		MaxInitUpdates: 1,
		Concurrency:    concurrency,
		Now:            func() time.Time { return fx.now },
	})
	return fx
}

func (fx *fixture) known(t *testing.T, feedID string) []string {
	t.Helper()
	ids, err := fx.dedup.Known(context.Background(), feedID)
	require.NoError(t, err)
	return ids
}

func TestBootstrapCapsAnnouncements(t *testing.T) {
	fx := newFixture(t, 1, "A")
	fx.fetcher.set("A", "1", "2", "3", "4", "5")

	report, err := fx.orch.Initialize(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Initialization)
	assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("A"))
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, fx.known(t, "A"))
	assert.Equal(t, 5, report.Feeds[0].New)
	assert.Equal(t, 1, report.Feeds[0].Dispatched)
}

func TestBootstrapIgnoresWindow(t *testing.T) {
	fx := newFixture(t, 1, "A")
	fx.now = weekend
	fx.fetcher.set("A", "1")

	report, err := fx.orch.Execute(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, report.Gated)
	assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("A"))
}

func TestInitializeResetsState(t *testing.T) {
	fx := newFixture(t, 1, "A")
	require.NoError(t, fx.dedup.Commit(context.Background(), "A", []string{"1"}))
	require.NoError(t, fx.dedup.Commit(context.Background(), "REMOVED", []string{"x"}))
	fx.fetcher.set("A", "1")

	_, err := fx.orch.Initialize(context.Background())
	require.NoError(t, err)

	// "1" is new again after the reset
	assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("A"))
	state, err := fx.orch.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A": {"1"}}, state)
}

// gatedReset blocks Reset until release is closed.
type gatedReset struct {
	*store.Dedup
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReset) Reset(ctx context.Context) error {
	close(g.entered)
	<-g.release
	return g.Dedup.Reset(ctx)
}

func TestInitializeHoldsCycleLock(t *testing.T) {
	ctx := context.Background()
	fetch := newFakeFetcher()
	fetch.set("A", "1", "2", "3")
	dispatcher := &fakeDispatcher{}
	dedup := &gatedReset{
		Dedup:   store.NewDedup(store.NewMemory()),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch := workflow.New(fetch, dedup, dispatcher, workflow.Settings{
		Feeds:          []feed.Feed{{ID: "A"}},
		Gate:           notify.Gate{StartHour: 9, EndHour: 17, Location: time.UTC},
		MaxInitUpdates: 1,
		Concurrency:    1,
		Now:            func() time.Time { return openHours },
	})

	initDone := make(chan error, 1)
	go func() {
		_, err := orch.Initialize(ctx)
		initDone <- err
	}()
	<-dedup.entered

	execDone := make(chan error, 1)
	go func() {
		_, err := orch.Execute(ctx, false)
		execDone <- err
	}()

	// the regular cycle waits for the bootstrap cycle
	assert.Never(t, func() bool { return len(execDone) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	close(dedup.release)

	require.NoError(t, <-initDone)
	require.NoError(t, <-execDone)

	assert.Equal(t, []string{"1"}, dispatcher.sentFor("A"))
	ids, err := dedup.Known(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestRegularCycleDispatchesOnlyNew(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()
	require.NoError(t, fx.dedup.Commit(ctx, "A", []string{"2", "3"}))
	fx.fetcher.set("A", "1", "2", "3")

	report, err := fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("A"))
	assert.Equal(t, []string{"1", "2", "3"}, fx.known(t, "A"))
	assert.True(t, report.Feeds[0].Committed)
}

func TestRegularCycleIsIdempotent(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()
	fx.fetcher.set("A", "1", "2")

	_, err := fx.orch.Execute(ctx, false)
	require.NoError(t, err)
	_, err = fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	// no bootstrap cap on a regular cycle, and nothing is sent twice
	assert.Equal(t, []string{"1", "2"}, fx.dispatcher.sentFor("A"))
}

func TestWeekendGateTouchesNothing(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()
	fx.now = weekend
	require.NoError(t, fx.dedup.Commit(ctx, "A", []string{"old"}))
	fx.fetcher.set("A", "new")

	report, err := fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	assert.True(t, report.Gated)
	assert.Empty(t, report.Feeds)
	assert.Empty(t, fx.dispatcher.sentFor("A"))
	assert.Equal(t, []string{"old"}, fx.known(t, "A"))
}

func TestFeedFailuresAreIsolated(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			fx := newFixture(t, concurrency, "BROKEN", "MALFORMED", "PANICS", "HEALTHY")
			ctx := context.Background()
			require.NoError(t, fx.dedup.Commit(ctx, "BROKEN", []string{"kept"}))
			require.NoError(t, fx.dedup.Commit(ctx, "MALFORMED", []string{"kept"}))

			fx.fetcher.errs["BROKEN"] = &fetcher.TransportError{Feed: "BROKEN", StatusCode: 500}
			fx.fetcher.errs["MALFORMED"] = parser.Malformed("MALFORMED", feed.FeedburnerAtom, errors.New("bad root"))
			fx.fetcher.panics["PANICS"] = true
			fx.fetcher.set("HEALTHY", "1")

			report, err := fx.orch.Execute(ctx, false)
			require.Error(t, err)

			var transportErr *fetcher.TransportError
			assert.True(t, errors.As(err, &transportErr))
			var malformedErr *parser.MalformedFeedError
			assert.True(t, errors.As(err, &malformedErr))

			require.Len(t, report.Feeds, 4)
			assert.True(t, report.Feeds[0].Committed)
			assert.False(t, report.Feeds[1].Committed)
			assert.ErrorContains(t, report.Feeds[2].Err, "panic")
			assert.True(t, report.Feeds[3].Committed)
			assert.NoError(t, report.Feeds[3].Err)

			assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("HEALTHY"))
			assert.Equal(t, []string{}, fx.known(t, "BROKEN"))
			assert.Equal(t, []string{"kept"}, fx.known(t, "MALFORMED"))
		})
	}
}

func TestTransportFailureCommitsEmptyRecord(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()
	require.NoError(t, fx.dedup.Commit(ctx, "A", []string{"a", "b"}))
	fx.fetcher.errs["A"] = &fetcher.TransportError{Feed: "A", StatusCode: 503}

	report, err := fx.orch.Execute(ctx, false)
	var transportErr *fetcher.TransportError
	require.ErrorAs(t, err, &transportErr)

	assert.True(t, report.Feeds[0].Committed)
	assert.Zero(t, report.Feeds[0].Fetched)
	assert.Empty(t, fx.dispatcher.sentFor("A"))
	assert.Equal(t, []string{}, fx.known(t, "A"))

	// once the feed is back every id counts as new
	delete(fx.fetcher.errs, "A")
	fx.fetcher.set("A", "a", "b")
	_, err = fx.orch.Execute(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fx.dispatcher.sentFor("A"))
}

func TestCancelledFetchKeepsRecord(t *testing.T) {
	fx := newFixture(t, 1, "A")
	require.NoError(t, fx.dedup.Commit(context.Background(), "A", []string{"a"}))
	fx.fetcher.errs["A"] = &fetcher.TransportError{Feed: "A", Err: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := fx.orch.Execute(ctx, false)
	require.Error(t, err)

	assert.False(t, report.Feeds[0].Committed)
	assert.Equal(t, []string{"a"}, fx.known(t, "A"))
}

func TestDeliveryFailureStillCommits(t *testing.T) {
	fx := newFixture(t, 1, "A")
	fx.dispatcher.err = errors.New("webhook down")
	fx.fetcher.set("A", "1")

	report, err := fx.orch.Execute(context.Background(), false)
	require.Error(t, err)

	assert.True(t, report.Feeds[0].Committed)
	assert.Equal(t, []string{"1"}, fx.known(t, "A"))
}

func TestForgottenIDReappears(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()

	fx.fetcher.set("A", "a", "b")
	_, err := fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	// "a" scrolls out of the window
	fx.fetcher.set("A", "b", "c")
	_, err = fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	// and comes back
	fx.fetcher.set("A", "a", "b", "c")
	_, err = fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "a"}, fx.dispatcher.sentFor("A"))
}

func TestEmptyFeedCommitsEmptyRecord(t *testing.T) {
	fx := newFixture(t, 1, "A")
	ctx := context.Background()
	require.NoError(t, fx.dedup.Commit(ctx, "A", []string{"1"}))

	report, err := fx.orch.Execute(ctx, false)
	require.NoError(t, err)

	assert.Zero(t, report.Feeds[0].Dispatched)
	assert.Empty(t, fx.known(t, "A"))
}

func TestRunStopsOnCancel(t *testing.T) {
	fx := newFixture(t, 1, "A")
	fx.fetcher.set("A", "1", "2")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.orch.Run(ctx, 10*time.Millisecond, true) }()

	require.Eventually(t, func() bool {
		ids, err := fx.dedup.Known(context.Background(), "A")
		return err == nil && len(ids) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	// bootstrap announced one, the ticks found nothing new
	assert.Equal(t, []string{"1"}, fx.dispatcher.sentFor("A"))
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	fx := newFixture(t, 1)
	assert.Error(t, fx.orch.Run(context.Background(), 0, false))
}
