// Package kv provides the flat key/value namespace backing the session store
// and the offline queue. Implementations must treat Set as atomic per key;
// callers never assume ordering across different keys.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}
