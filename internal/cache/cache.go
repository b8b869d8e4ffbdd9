package cache

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyPayload rejects zero-byte commits; non-empty content is a completion
// invariant, an empty body indicates a failed transfer.
var ErrEmptyPayload = errors.New("cache payload is empty")

// Record is a cached binary payload plus its minimal header set.
type Record struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	CachedAt    int64  `json:"cachedAt"`
	Payload     []byte `json:"-"`
}

// Store is a content-addressable cache for completed download payloads.
// Payloads become visible only after Put returns; readers never observe
// partial data.
type Store interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) error
	// Match returns the record for a key, or nil when the key is not cached.
	Match(ctx context.Context, key string) (*Record, error)
	Delete(ctx context.Context, key string) error
	// Usage reports the total bytes currently held by the store.
	Usage(ctx context.Context) (int64, error)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
