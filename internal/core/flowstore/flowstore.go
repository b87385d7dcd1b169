// Package flowstore implements §4.3's keyed counter/value store with
// TTL, used by fault-decision scripts to implement stateful faults
// (circuit breakers, N-th attempt counters).
package flowstore

import (
	"context"
	"time"
)

// Store is the interface scripts see through the script pool's flow_store
// handle. Every method is safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	Delete(ctx context.Context, key string) error
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
}

// NullStore is the fail-soft flow store handed to scripts when the
// configured backend is unavailable (§7 FlowStoreBackendError):
// reads return defaults, writes are silently dropped.
type NullStore struct{}

func (NullStore) Get(context.Context, string) (int64, bool, error)        { return 0, false, nil }
func (NullStore) Set(context.Context, string, int64, time.Duration) error { return nil }
func (NullStore) Increment(context.Context, string, int64) (int64, error) { return 0, nil }
func (NullStore) Delete(context.Context, string) error                    { return nil }
func (NullStore) SetTTL(context.Context, string, time.Duration) error     { return nil }
