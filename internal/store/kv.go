// Package store holds the durable key/value backends that keep the client session
// across restarts.
package store

import (
	"context"
	"errors"
)

// ErrCorrupt is wrapped by Get when a stored record exists but cannot be decoded,
// for example a sealed file that fails authentication. Callers should remove it.
var ErrCorrupt = errors.New("corrupt record")

// KV is the durable storage the session store persists to. Get reports ok=false for
// a missing key; that is not an error.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close() error
}
