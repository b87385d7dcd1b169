// Package decisioncache implements §4.5's LRU+TTL cache keyed by a
// request fingerprint, populated only for deterministic fault decisions.
package decisioncache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
)

// Key is the pre-hash fingerprint input: method, normalized path, the
// sorted values of a fixed set of "critical" headers, and a hash of the
// query string (§4.5 "Decision cache" paragraph).
type Key struct {
	Method           string
	Path             string
	CriticalHeaders  map[string]string
	Query            string
}

// Fingerprint collapses a Key into the cache's map key.
func Fingerprint(k Key) string {
	var b strings.Builder
	b.WriteString(k.Method)
	b.WriteByte('|')
	b.WriteString(k.Path)
	b.WriteByte('|')

	names := make([]string, 0, len(k.CriticalHeaders))
	for name := range k.CriticalHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(k.CriticalHeaders[name])
		b.WriteByte(';')
	}
	b.WriteByte('|')

	sum := sha256.Sum256([]byte(k.Query))
	b.WriteString(hex.EncodeToString(sum[:]))
	return b.String()
}

// Cache is a bounded, thread-safe fingerprint -> fault.Decision cache backed
// by otter, following Resinat-Resin's LatencyTable wrapper shape: a mutex
// around an otter.Cache plus a uniform Cost function, with otter's builtin
// per-entry TTL covering the "ttl_seconds" eviction deadline.
type Cache struct {
	mu      sync.Mutex
	cache   otter.Cache[string, fault.Decision]
	ttl     time.Duration
	enabled bool
}

// New builds a decision cache bounded to maxSize entries, each expiring
// ttl after insertion. enabled=false makes every operation a no-op, so
// config.decision_cache.enabled can disable caching without branching at
// call sites.
func New(maxSize int, ttl time.Duration, enabled bool) *Cache {
	if !enabled {
		return &Cache{enabled: false}
	}
	cache, err := otter.MustBuilder[string, fault.Decision](maxSize).
		Cost(func(_ string, _ fault.Decision) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("decisioncache: failed to build cache: " + err.Error())
	}
	return &Cache{cache: cache, ttl: ttl, enabled: true}
}

// Get returns the cached decision for key, if present and unexpired.
func (c *Cache) Get(key string) (fault.Decision, bool) {
	if !c.enabled {
		return fault.Decision{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

// Put stores a decision. Callers must only call this for deterministic
// decisions (fault.Rule.Deterministic() across every candidate rule at this
// path) per §4.5's cache-population contract.
func (c *Cache) Put(key string, decision fault.Decision) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(key, decision)
}

// Close releases resources held by the underlying cache.
func (c *Cache) Close() {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Close()
}
