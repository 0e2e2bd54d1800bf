// Package fetcher downloads feed documents and turns them into shaped updates.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/filter"
	"github.com/scipunch/updatesbot/metrics"
	"github.com/scipunch/updatesbot/parser"
	"github.com/scipunch/updatesbot/parser/factory"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "updatesbot/1.0"
	// MaxUpdatesLimit is the largest batch a feed may yield per fetch
	MaxUpdatesLimit = 25

	maxBodyBytes = 10 << 20
)

// TransportError reports a feed that could not be downloaded: a network
// failure or a response status other than 200.
type TransportError struct {
	Feed       string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to fetch feed %s from %s: status %d", e.Feed, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch feed %s from %s: %v", e.Feed, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Options configures an HTTP fetcher
type Options struct {
	MaxContentChars   int
	MaxContentUpdates int
	UserAgent         string
	Timeout           time.Duration
	// Client overrides the default client; Timeout is ignored when set
	Client *http.Client
}

// HTTP fetches feeds with a single GET per call. It never retries.
type HTTP struct {
	client     *http.Client
	shaper     *filter.Shaper
	maxUpdates int
	userAgent  string
}

func NewHTTP(opts Options) *HTTP {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxUpdates := opts.MaxContentUpdates
	if maxUpdates <= 0 || maxUpdates > MaxUpdatesLimit {
		maxUpdates = MaxUpdatesLimit
	}
	return &HTTP{
		client:     client,
		shaper:     filter.NewShaper(opts.MaxContentChars),
		maxUpdates: maxUpdates,
		userAgent:  userAgent,
	}
}

// Fetch downloads and parses f, shapes every update's content with the
// feed's filters and keeps at most the first MaxContentUpdates entries.
func (h *HTTP) Fetch(ctx context.Context, f feed.Feed) ([]feed.Update, error) {
	start := time.Now()

	updates, err := h.fetch(ctx, f)
	metrics.RecordFetch(f.ID, fetchResult(err), time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	slog.Debug("fetched feed", "feed", f.ID, "updates", len(updates), "took", time.Since(start))
	return updates, nil
}

func (h *HTTP) fetch(ctx context.Context, f feed.Feed) ([]feed.Update, error) {
	doc, err := h.download(ctx, f)
	if err != nil {
		return nil, err
	}

	p, err := factory.For(f.Format)
	if err != nil {
		return nil, err
	}
	updates, err := p.Parse(f.ID, doc)
	if err != nil {
		return nil, err
	}

	if len(updates) > h.maxUpdates {
		updates = updates[:h.maxUpdates]
	}
	for i := range updates {
		updates[i].Content = h.shaper.Shape(updates[i].Content, f.Filters)
	}
	return updates, nil
}

func (h *HTTP) download(ctx context.Context, f feed.Feed) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Source, nil)
	if err != nil {
		return nil, &TransportError{Feed: f.ID, URL: f.Source, Err: err}
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{Feed: f.ID, URL: f.Source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{
			Feed:       f.ID,
			URL:        f.Source,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Feed: f.ID, URL: f.Source, StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}

func fetchResult(err error) string {
	var transportErr *TransportError
	var malformedErr *parser.MalformedFeedError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &transportErr):
		return metrics.ResultTransport
	case errors.As(err, &malformedErr):
		return metrics.ResultMalformed
	default:
		return metrics.ResultFailed
	}
}
