package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Dedup tracks the ids observed during each feed's most recent fetch.
// Records are replaced wholesale, so ids that scroll out of a feed's
// latest window are forgotten and count as new if they reappear.
type Dedup struct {
	kv KV
}

func NewDedup(kv KV) *Dedup {
	return &Dedup{kv: kv}
}

// Known returns the stored record for feedID. A missing record is empty.
func (d *Dedup) Known(ctx context.Context, feedID string) ([]string, error) {
	raw, ok, err := d.kv.Get(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	return decodeRecord(feedID, raw)
}

// Diff returns the ids that are not part of the stored record, in the
// order they were given. It does not modify the store.
func (d *Dedup) Diff(ctx context.Context, feedID string, ids []string) ([]string, error) {
	known, err := d.Known(ctx, feedID)
	if err != nil {
		return nil, err
	}
	seen := lo.SliceToMap(known, func(id string) (string, struct{}) {
		return id, struct{}{}
	})
	return lo.Filter(ids, func(id string, _ int) bool {
		_, ok := seen[id]
		return !ok
	}), nil
}

// Commit replaces the record for feedID with ids.
func (d *Dedup) Commit(ctx context.Context, feedID string, ids []string) error {
	raw, err := encodeRecord(ids)
	if err != nil {
		return fmt.Errorf("failed to encode record for %s: %w", feedID, err)
	}
	return d.kv.Set(ctx, feedID, raw)
}

// Reset forgets every feed.
func (d *Dedup) Reset(ctx context.Context) error {
	return d.kv.DeleteAll(ctx)
}

// Snapshot decodes every stored record.
func (d *Dedup) Snapshot(ctx context.Context) (map[string][]string, error) {
	props, err := d.kv.All(ctx)
	if err != nil {
		return nil, err
	}
	records := make(map[string][]string, len(props))
	for feedID, raw := range props {
		ids, err := decodeRecord(feedID, raw)
		if err != nil {
			return nil, err
		}
		records[feedID] = ids
	}
	return records, nil
}

func encodeRecord(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	blob, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

func decodeRecord(feedID, raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("corrupt record for feed %s: %w", feedID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
