package recording

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Recorded is one captured request/response pair, keyed by a Signature
// (§3 "FlowStore entry"-adjacent "recording store" concept, §4.7).
type Recorded struct {
	StatusCode int
	Headers    map[string]interface{}
	Body       interface{}
	LatencyMS  int
}

// Mode selects how the store participates in proxying (§4.7 steps 2-4).
type Mode int

const (
	ProxyOnce Mode = iota
	ProxyAlways
	ProxyTransparent
)

func ParseMode(s string) Mode {
	switch s {
	case "proxyAlways":
		return ProxyAlways
	case "proxyTransparent":
		return ProxyTransparent
	default:
		return ProxyOnce
	}
}

// Store maps Signature -> Recorded. Reads are lock-free (xsync.Map.Load);
// writes for a given signature are serialized through Map.Compute, so
// concurrent proxyOnce requests sharing a signature agree on one recorded
// response, the first written (§8 "proxyOnce idempotence"). Lookup and the
// upstream call are not serialized: two such requests can both miss and
// both forward before either records.
type Store struct {
	entries *xsync.Map[string, Recorded]
}

func NewStore() *Store {
	return &Store{entries: xsync.NewMap[string, Recorded]()}
}

// Lookup returns the recorded pair for sig, if any.
func (s *Store) Lookup(sig Signature) (Recorded, bool) {
	return s.entries.Load(sig.Key())
}

// RecordOnce stores rec for sig only if nothing is recorded yet, returning
// the value that ends up in the store (either the freshly stored rec, or
// whatever a concurrent RecordOnce got there first) and whether this call
// was the one that wrote it. This is the proxyOnce write path: "first
// recorded response wins" (§4.7 step 2, §8 idempotence property).
func (s *Store) RecordOnce(sig Signature, rec Recorded) (Recorded, bool) {
	var wrote bool
	var actual Recorded
	s.entries.Compute(sig.Key(), func(old Recorded, loaded bool) (Recorded, xsync.ComputeOp) {
		if loaded {
			actual = old
			return old, xsync.CancelOp
		}
		wrote = true
		actual = rec
		return rec, xsync.UpdateOp
	})
	return actual, wrote
}

// RecordAlways overwrites whatever is recorded for sig (proxyAlways, §4.7
// step 3: "always forward, always record, overwriting latest").
func (s *Store) RecordAlways(sig Signature, rec Recorded) {
	s.entries.Store(sig.Key(), rec)
}

// Clear drops every recorded pair.
func (s *Store) Clear() {
	s.entries = xsync.NewMap[string, Recorded]()
}
