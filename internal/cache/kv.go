package cache

import (
	"time"

	"github.com/leonardcser/shmkv/internal/engine"
)

// KV defines the minimal key-value contract with TTL semantics, shared by
// the shared-memory engine and the daemon client.
// Implementations must be safe for concurrent use by multiple goroutines.
type KV interface {
	Get(key string) ([]byte, error)
	InsertWithTTL(key string, value []byte, ttl time.Duration) error
	Remove(key string) error
}

// Store adds the whole-store operations front ends expose.
type Store interface {
	KV
	Keys() ([]string, error)
	PurgeExpired() (int, error)
}

var (
	_ Store    = (*engine.Engine)(nil)
	_ Store    = (*Client)(nil)
	_ Exporter = (*engine.Engine)(nil)
	_ Restorer = (*engine.Engine)(nil)
)
