// Package kv defines the key-value/cache abstraction (component A) and its implementations.
package kv

import (
	"context"
	"time"
)

// HealthStatus reports the liveness of the underlying store.
type HealthStatus struct {
	Connected     bool
	PingLatency   time.Duration
	ClientCount   int
	Version       string
	UptimeSeconds int64
}

// Store is the typed handle every component uses to reach the external key-value store.
// Every operation returns the typed zero value plus an error; callers treat failures as soft
// (cache-miss) unless the operation is a lock acquisition.
type Store interface {
	// Set stores value under key, JSON-encoding non-string values. ttl of zero means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get retrieves the raw bytes stored under key, and whether the key existed.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// GetJSON retrieves and JSON-decodes the value stored under key into dest; when the stored
	// bytes do not decode it reports the key as found and returns the decode error.
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	RPop(ctx context.Context, key string) (string, bool, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
	FlushDB(ctx context.Context) error

	// XAdd appends an entry to a stream, trimming it to maxlen (approximate trim is acceptable).
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]string) (string, error)
	// XRange returns up to count entries from stream in insertion order.
	XRange(ctx context.Context, stream string, count int64) ([]StreamEntry, error)

	Health(ctx context.Context) HealthStatus
	Close() error
}

// StreamEntry is one entry returned by XRange.
type StreamEntry struct {
	ID     string
	Values map[string]string
}
