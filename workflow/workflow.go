// Package workflow drives update cycles: gate, fetch, diff, dispatch, commit.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/fetcher"
	"github.com/scipunch/updatesbot/metrics"
	"github.com/scipunch/updatesbot/notify"
)

type Fetcher interface {
	Fetch(ctx context.Context, f feed.Feed) ([]feed.Update, error)
}

type DedupStore interface {
	Diff(ctx context.Context, feedID string, ids []string) ([]string, error)
	Commit(ctx context.Context, feedID string, ids []string) error
	Reset(ctx context.Context) error
	Snapshot(ctx context.Context) (map[string][]string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, f feed.Feed, updates []feed.Update) error
}

// Settings holds everything besides the injected collaborators.
type Settings struct {
	Feeds          []feed.Feed
	Gate           notify.Gate
	MaxInitUpdates int
	// Concurrency above 1 processes feeds in parallel
	Concurrency int
	// Now defaults to time.Now
	Now func() time.Time
}

type Orchestrator struct {
	fetcher    Fetcher
	store      DedupStore
	dispatcher Dispatcher
	settings   Settings

	// serializes cycles
	mu sync.Mutex
}

func New(fetcher Fetcher, store DedupStore, dispatcher Dispatcher, settings Settings) *Orchestrator {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Orchestrator{
		fetcher:    fetcher,
		store:      store,
		dispatcher: dispatcher,
		settings:   settings,
	}
}

// Initialize forgets every feed, runs a bootstrap cycle and logs the
// resulting state. No other cycle can run between the reset and the
// bootstrap cycle.
func (o *Orchestrator) Initialize(ctx context.Context) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	slog.Info("initializing state")
	if err := o.store.Reset(ctx); err != nil {
		return Report{Initialization: true}, fmt.Errorf("failed to reset state with %w", err)
	}

	report, err := o.execute(ctx, true)
	if stateErr := o.LogState(ctx); stateErr != nil {
		err = errors.Join(err, stateErr)
	}
	return report, err
}

// Execute runs one cycle. A regular cycle outside the notification window
// does nothing. The bootstrap cycle ignores the window and announces at
// most MaxInitUpdates updates per feed, while still recording every
// fetched id. The returned error joins all per-feed failures.
func (o *Orchestrator) Execute(ctx context.Context, initialization bool) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.execute(ctx, initialization)
}

// execute expects o.mu to be held.
func (o *Orchestrator) execute(ctx context.Context, initialization bool) (Report, error) {
	kind := cycleKind(initialization)
	report := Report{Initialization: initialization}

	if !initialization && !o.settings.Gate.Allows(o.settings.Now()) {
		slog.Info("outside notification window, skipping cycle")
		metrics.RecordCycle(kind, metrics.ResultGated)
		report.Gated = true
		return report, nil
	}

	report.Feeds = make([]FeedReport, len(o.settings.Feeds))
	if o.settings.Concurrency <= 1 {
		for i, f := range o.settings.Feeds {
			report.Feeds[i] = o.processFeed(ctx, f, initialization)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.settings.Concurrency)
		for i, f := range o.settings.Feeds {
			g.Go(func() error {
				report.Feeds[i] = o.processFeed(ctx, f, initialization)
				return nil
			})
		}
		g.Wait()
	}

	err := report.Err()
	if err != nil {
		metrics.RecordCycle(kind, metrics.ResultFailed)
	} else {
		metrics.RecordCycle(kind, metrics.ResultOK)
	}
	slog.Info("cycle finished", "kind", kind, "feeds", len(report.Feeds), "dispatched", report.Dispatched())
	return report, err
}

func (o *Orchestrator) processFeed(ctx context.Context, f feed.Feed, initialization bool) (rep FeedReport) {
	rep.Feed = f.ID
	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("panic while processing feed: %v", r)
			slog.Error("feed processing panicked", "feed", f.ID, "panic", r)
		}
	}()

	// An unreachable feed counts as empty, so its record is replaced by [].
	// A cancelled cycle is not an outage and leaves the record alone.
	var fetchErr error
	updates, err := o.fetcher.Fetch(ctx, f)
	var transportErr *fetcher.TransportError
	if errors.As(err, &transportErr) && ctx.Err() == nil {
		slog.Warn("feed unavailable, treating it as empty", "feed", f.ID, "error", err)
		fetchErr = err
		updates = nil
	} else if err != nil {
		slog.Error("failed to fetch feed", "feed", f.ID, "error", err)
		rep.Err = err
		return rep
	}
	rep.Fetched = len(updates)

	ids := feed.IDs(updates)
	freshIDs, err := o.store.Diff(ctx, f.ID, ids)
	if err != nil {
		slog.Error("failed to diff feed state", "feed", f.ID, "error", err)
		rep.Err = err
		return rep
	}
	fresh := lo.Filter(updates, func(u feed.Update, _ int) bool {
		return slices.Contains(freshIDs, u.ID)
	})
	rep.New = len(fresh)
	metrics.RecordNewUpdates(f.ID, len(fresh))
	slog.Info("checked feed", "feed", f.ID, "fetched", len(updates), "new", len(fresh))

	if initialization && len(fresh) > o.settings.MaxInitUpdates {
		fresh = fresh[:max(o.settings.MaxInitUpdates, 0)]
	}

	var deliveryErr error
	if len(fresh) > 0 {
		deliveryErr = o.dispatcher.Dispatch(ctx, f, fresh)
		rep.Dispatched = len(fresh)
	}

	if err := o.store.Commit(ctx, f.ID, ids); err != nil {
		slog.Error("failed to commit feed state", "feed", f.ID, "error", err)
		rep.Err = errors.Join(fetchErr, deliveryErr, err)
		return rep
	}
	rep.Committed = true
	rep.Err = errors.Join(fetchErr, deliveryErr)
	return rep
}

// Run executes a regular cycle every interval until ctx is cancelled.
// With initialize set, an Initialize cycle runs first.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, initialize bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid trigger interval %s", interval)
	}

	if initialize {
		if _, err := o.Initialize(ctx); err != nil {
			slog.Error("initialization finished with errors", "error", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "interval", interval, "feeds", len(o.settings.Feeds))
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := o.Execute(ctx, false); err != nil {
				slog.Error("cycle finished with errors", "error", err)
			}
		}
	}
}

// State returns every stored record.
func (o *Orchestrator) State(ctx context.Context) (map[string][]string, error) {
	return o.store.Snapshot(ctx)
}

// LogState logs every stored record, sorted by feed id.
func (o *Orchestrator) LogState(ctx context.Context) error {
	state, err := o.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state with %w", err)
	}
	for _, feedID := range slices.Sorted(maps.Keys(state)) {
		slog.Info("stored feed state", "feed", feedID, "ids", state[feedID])
	}
	return nil
}

func cycleKind(initialization bool) string {
	if initialization {
		return "init"
	}
	return "regular"
}
