// Package kv abstracts the durable key/value store backing quota counters
// and prepaid-credit balances. Any store offering get and put-with-TTL
// satisfies the gateway's persistence needs.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the persistence contract for quota counters and credit balances.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Put writes value at key. A zero ttl means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
}
