// Package webhook delivers updates to chat webhooks.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/scipunch/updatesbot/feed"
	"github.com/scipunch/updatesbot/metrics"
)

const ContentType = "application/json; charset=UTF-8"

// DeliveryError reports a single failed post of one update to one webhook.
type DeliveryError struct {
	Webhook    string
	UpdateID   string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to deliver update %s to webhook %s: status %d", e.UpdateID, e.Webhook, e.StatusCode)
	}
	return fmt.Sprintf("failed to deliver update %s to webhook %s: %v", e.UpdateID, e.Webhook, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Dispatcher posts every update to every webhook of a feed, once.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher uses client, or a client with timeout when client is nil
func NewDispatcher(client *http.Client, timeout time.Duration) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Dispatcher{client: client}
}

// Dispatch iterates webhooks in the outer loop and updates in the inner
// loop. A failed post never stops the remaining ones; all failures are
// returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, f feed.Feed, updates []feed.Update) error {
	if len(updates) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range f.Webhooks {
		view, err := ViewFor(hook.Platform)
		if err != nil {
			errs = append(errs, &DeliveryError{Webhook: hook.Key, Err: err})
			continue
		}

		for _, u := range updates {
			if err := d.post(ctx, hook, u.ID, view.Render(f, u)); err != nil {
				slog.Error("webhook delivery failed", "feed", f.ID, "webhook", hook.Key, "update", u.ID, "error", err)
				metrics.RecordPost(hook.Key, metrics.ResultFailed)
				errs = append(errs, err)
				continue
			}
			slog.Info("posted update", "feed", f.ID, "webhook", hook.Key, "update", u.ID, "title", u.Title)
			metrics.RecordPost(hook.Key, metrics.ResultOK)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) post(ctx context.Context, hook feed.Webhook, updateID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &DeliveryError{Webhook: hook.Key, UpdateID: updateID, Err: fmt.Errorf("failed to encode payload with %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Webhook: hook.Key, UpdateID: updateID, Err: err}
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Webhook: hook.Key, UpdateID: updateID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{
			Webhook:    hook.Key,
			UpdateID:   updateID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s: %s", resp.Status, bytes.TrimSpace(reply)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
