package decisioncache

import (
	"testing"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
)

// TestFingerprintIsOrderIndependentAndDistinguishesQuery verifies the
// fingerprint a deterministic decision is cached under: stable regardless of
// map iteration order over critical headers, but distinct across query and
// method differences (§4.5 "Decision cache").
func TestFingerprintIsOrderIndependentAndDistinguishesQuery(t *testing.T) {
	a := Fingerprint(Key{Method: "GET", Path: "/x", CriticalHeaders: map[string]string{"x-flow-id": "1", "authorization": "tok"}, Query: "a=1"})
	b := Fingerprint(Key{Method: "GET", Path: "/x", CriticalHeaders: map[string]string{"authorization": "tok", "x-flow-id": "1"}, Query: "a=1"})
	if a != b {
		t.Fatalf("fingerprint must not depend on map iteration order: %q != %q", a, b)
	}

	c := Fingerprint(Key{Method: "GET", Path: "/x", Query: "a=2"})
	d := Fingerprint(Key{Method: "GET", Path: "/x", Query: "a=1"})
	if c == d {
		t.Fatalf("fingerprints for different queries must differ")
	}

	e := Fingerprint(Key{Method: "POST", Path: "/x"})
	f := Fingerprint(Key{Method: "GET", Path: "/x"})
	if e == f {
		t.Fatalf("fingerprints for different methods must differ")
	}
}

// TestDisabledCacheIsAlwaysANoOp ensures config.decision_cache.enabled=false
// never returns a stale or accidental hit.
func TestDisabledCacheIsAlwaysANoOp(t *testing.T) {
	c := New(10, time.Minute, false)
	c.Put("k", fault.Decision{Kind: fault.Error, Status: 503})
	if _, ok := c.Get("k"); ok {
		t.Fatal("disabled cache must never report a hit")
	}
	c.Close() // must not panic
}

// TestEnabledCacheRoundTripsAndExpires verifies a deterministic decision is
// retrievable immediately after Put and evicted once its TTL elapses.
func TestEnabledCacheRoundTripsAndExpires(t *testing.T) {
	c := New(10, 30*time.Millisecond, true)
	defer c.Close()

	want := fault.Decision{Kind: fault.Latency, LatencyMS: 200, RuleID: "L"}
	c.Put("k", want)

	got, ok := c.Get("k")
	if !ok || got.RuleID != "L" || got.LatencyMS != 200 {
		t.Fatalf("expected cached decision %+v, got %+v (ok=%v)", want, got, ok)
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected the entry to have expired by its TTL")
	}
}
