package flowstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type entry struct {
	value    int64
	deadline time.Time
	hasTTL   bool
}

func (e entry) expired(now time.Time) bool {
	return e.hasTTL && now.After(e.deadline)
}

// Memory is the in-memory flow store backend: an xsync.Map of int64
// counters with lazy expiration on access and atomic increments via
// Map.Compute (§4.3 "in-memory uses compare-and-update").
type Memory struct {
	entries *xsync.Map[string, entry]
	ttl     time.Duration // default TTL applied by Increment when it creates a key; Set with ttl 0 stores no expiry
}

// NewMemory builds an in-memory flow store. defaultTTL is used by
// Increment (which has no explicit ttl parameter) when a key is first
// created; 0 means "no expiry".
func NewMemory(defaultTTL time.Duration) *Memory {
	return &Memory{entries: xsync.NewMap[string, entry](), ttl: defaultTTL}
}

func (m *Memory) Get(_ context.Context, key string) (int64, bool, error) {
	e, ok := m.entries.Load(key)
	if !ok {
		return 0, false, nil
	}
	if e.expired(time.Now()) {
		m.entries.Delete(key)
		return 0, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.deadline = time.Now().Add(ttl)
	}
	m.entries.Store(key, e)
	return nil
}

// Increment applies delta atomically via Map.Compute, lazily resetting an
// expired entry to zero first (§4.3 concurrency: "increment is atomic
// across concurrent scripts").
func (m *Memory) Increment(_ context.Context, key string, delta int64) (int64, error) {
	var result int64
	now := time.Now()
	m.entries.Compute(key, func(old entry, loaded bool) (entry, xsync.ComputeOp) {
		if !loaded || old.expired(now) {
			old = entry{}
			if m.ttl > 0 {
				old.hasTTL = true
				old.deadline = now.Add(m.ttl)
			}
		}
		old.value += delta
		result = old.value
		return old, xsync.UpdateOp
	})
	return result, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.entries.Delete(key)
	return nil
}

func (m *Memory) SetTTL(_ context.Context, key string, ttl time.Duration) error {
	m.entries.Compute(key, func(old entry, loaded bool) (entry, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		if ttl > 0 {
			old.hasTTL = true
			old.deadline = time.Now().Add(ttl)
		} else {
			old.hasTTL = false
		}
		return old, xsync.UpdateOp
	})
	return nil
}
