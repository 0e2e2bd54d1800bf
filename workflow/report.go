package workflow

import (
	"errors"
	"fmt"
)

// Report is the outcome of one cycle.
type Report struct {
	Gated          bool
	Initialization bool
	Feeds          []FeedReport
}

// FeedReport is the outcome of one feed within a cycle. Err holds a fetch,
// store or delivery failure; delivery failures still commit.
type FeedReport struct {
	Feed       string
	Fetched    int
	New        int
	Dispatched int
	Committed  bool
	Err        error
}

// Err joins every per-feed error, each prefixed with its feed id.
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Feeds {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", f.Feed, f.Err))
		}
	}
	return errors.Join(errs...)
}

func (r Report) Dispatched() int {
	total := 0
	for _, f := range r.Feeds {
		total += f.Dispatched
	}
	return total
}
