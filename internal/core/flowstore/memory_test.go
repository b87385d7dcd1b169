package flowstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryIncrementAtomic(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Increment(ctx, "failures:f", 1); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	v, ok, err := m.Get(ctx, "failures:f")
	if err != nil || !ok {
		t.Fatalf("expected key present, err=%v ok=%v", err, ok)
	}
	if v != 100 {
		t.Fatalf("expected 100 concurrent increments to sum exactly, got %d", v)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	if err := m.Set(ctx, "k", 1, 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	_, ok, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected key to have expired")
	}
}

func TestMemoryDeleteAndSetTTL(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	_, _ = m.Increment(ctx, "k", 5)
	if err := m.SetTTL(ctx, "k", time.Millisecond); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatalf("expected expiry after SetTTL")
	}

	_, _ = m.Increment(ctx, "k2", 1)
	if err := m.Delete(ctx, "k2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "k2"); ok {
		t.Fatalf("expected key deleted")
	}
}
