// Package store persists which update ids were observed for every feed.
//
// The storage itself is a plain key to string mapping (KV) so that the
// sqlite, redis and in-memory backends stay interchangeable. Dedup layers
// the diff/commit semantics on top of it: the value stored under a feed id
// is the JSON array of ids seen during that feed's most recent fetch.
package store

import (
	"context"
	"fmt"
)

// KV is a durable key to string mapping.
type KV interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// DeleteAll removes every key
	DeleteAll(ctx context.Context) error
	All(ctx context.Context) (map[string]string, error)
	Close() error
}

const (
	SQLiteBackend = "sqlite"
	RedisBackend  = "redis"
	MemoryBackend = "memory"
)

// DefaultRedisKey is the redis hash holding every feed record.
const DefaultRedisKey = "updatesbot:dedup"

// Options selects and configures a KV backend.
type Options struct {
	Backend   string
	Path      string
	RedisAddr string
	RedisKey  string
}

// Open creates the KV backend described by opts.
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Backend {
	case SQLiteBackend, "":
		path := opts.Path
		if path == "" {
			path = DefaultPath()
		}
		kv, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case RedisBackend:
		kv, err := NewRedis(ctx, opts.RedisAddr, opts.RedisKey)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case MemoryBackend:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}
