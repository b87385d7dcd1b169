// Package decider implements §4.5's fault decider: composing the rule
// index, script pool, and an RNG into a FaultDecision.
package decider

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/decisioncache"
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
	"github.com/TetsujinOni/go-tartuffe/internal/core/ruleindex"
	"github.com/TetsujinOni/go-tartuffe/internal/core/scriptpool"
)

// Decider composes the rule index, script pool, and RNG to yield a
// fault.Decision for a request (§4.5 steps 1-6). index is held behind an
// atomic pointer so a reload (§6 "POST /admin/reload") can swap in a
// freshly compiled rule index without any in-flight Decide call observing a
// torn read.
type Decider struct {
	index *atomic.Pointer[ruleindex.Index]
	pool  *scriptpool.Pool
	store flowstore.Store
	cache *decisioncache.Cache
	rng   *rand.Rand
}

// New builds a Decider. rngSeed, if non-zero, makes fault sampling
// reproducible under test (§4.5 "RNG").
func New(index *ruleindex.Index, pool *scriptpool.Pool, store flowstore.Store, cache *decisioncache.Cache, rngSeed int64) *Decider {
	src := rand.NewSource(rngSeed)
	if rngSeed == 0 {
		src = rand.NewSource(defaultSeed())
	}
	idxPtr := &atomic.Pointer[ruleindex.Index]{}
	idxPtr.Store(index)
	return &Decider{index: idxPtr, pool: pool, store: store, cache: cache, rng: rand.New(src)}
}

// SetIndex atomically swaps in a newly compiled rule index (§6
// "POST /admin/reload"), used by the pipeline alongside its own Snapshot
// swap so the decider's rule-matching stays in lockstep with the routes a
// reload installs.
func (d *Decider) SetIndex(index *ruleindex.Index) {
	d.index.Store(index)
}

func defaultSeed() int64 { return time.Now().UnixNano() }

// Decide resolves a FaultDecision for facets, scoped to the given upstream
// (empty string matches rules with no upstream scope restriction only when
// the rule itself declares none).
func (d *Decider) Decide(ctx context.Context, facets *request.Facets, upstream string) fault.Decision {
	cacheKey := d.fingerprint(facets)
	if cacheKey != "" {
		if cached, ok := d.cache.Get(cacheKey); ok {
			return cached
		}
	}

	candidates := d.index.Load().Lookup(facets.Path)
	decision := fault.Decision{Kind: fault.None}
	allDeterministic := true
	matchedAny := false

	for _, rule := range candidates {
		if rule.Upstream != "" && rule.Upstream != upstream {
			continue
		}
		if !rule.Predicate.Match(facets) {
			continue
		}
		matchedAny = true
		if !rule.Deterministic() {
			allDeterministic = false
		}

		if rule.Script != nil {
			sd, _ := d.pool.Submit(ctx, rule.Script.Source, scriptRequestFrom(facets), d.store)
			if sd.Inject {
				decision = decisionFromScript(rule.ID, sd)
				break
			}
			continue
		}

		if rule.Latency != nil && sample(d.rng, rule.Latency.Probability) {
			ms := rule.Latency.MinMS
			if rule.Latency.MaxMS > rule.Latency.MinMS {
				ms += d.rng.Intn(rule.Latency.MaxMS - rule.Latency.MinMS + 1)
			}
			decision.LatencyMS = ms
			decision.RuleID = rule.ID
			if decision.Kind == fault.None {
				decision.Kind = fault.Latency
			}
			// Latency composes with error/tcp on the same rule: keep
			// scanning this rule's remaining faults (§4.5 step 3).
		}

		if rule.Error != nil && sample(d.rng, rule.Error.Probability) {
			decision.Kind = fault.Error
			decision.RuleID = rule.ID
			decision.Status = rule.Error.Status
			decision.Body = rule.Error.Body
			if len(rule.Error.Copy) > 0 {
				decision.Body = fault.ApplyCopy(decision.Body, rule.Error.Copy, facets)
			}
			decision.Headers = rule.Error.Headers
			break
		}

		if rule.TCP != nil {
			decision.Kind = fault.Tcp
			decision.RuleID = rule.ID
			decision.TCPKind = rule.TCP.Kind
			break
		}
	}

	if cacheKey != "" && (!matchedAny || allDeterministic) {
		d.cache.Put(cacheKey, decision)
	}
	return decision
}

func sample(rng *rand.Rand, p float64) bool {
	if p >= 1.0 {
		return true
	}
	if p <= 0 {
		return false
	}
	return rng.Float64() < p
}

func decisionFromScript(ruleID string, sd scriptpool.Decision) fault.Decision {
	d := fault.Decision{RuleID: ruleID, FromScript: true}
	switch sd.Fault {
	case "latency":
		d.Kind = fault.Latency
		d.LatencyMS = sd.DurationMS
	case "error":
		d.Kind = fault.Error
		d.Status = sd.Status
		d.Body = sd.Body
		d.Headers = sd.Headers
	default:
		d.Kind = fault.Error
		d.Status = sd.Status
		d.Body = sd.Body
		d.Headers = sd.Headers
	}
	return d
}

func scriptRequestFrom(f *request.Facets) scriptpool.ScriptRequest {
	headers := make(map[string]string, len(f.Headers))
	for _, h := range f.Headers {
		headers[h.Name] = h.Value
	}
	query := make(map[string]string, len(f.Query))
	for _, q := range f.Query {
		query[q.Name] = q.Value
	}
	text, _ := f.Text()
	return scriptpool.ScriptRequest{
		Method:  f.Method,
		Path:    f.Path,
		Headers: headers,
		Query:   query,
		Body:    text,
	}
}

// fingerprint builds the decision-cache key for facets. The key is never
// empty; with caching disabled (Cache.enabled=false) the cache's Get/Put
// are no-ops, so the key goes unused.
func (d *Decider) fingerprint(f *request.Facets) string {
	headers := make(map[string]string)
	// "Critical" headers: a fixed, small set that commonly participates in
	// fault predicates. Anything else is intentionally excluded from the
	// fingerprint so the cache stays useful (§4.5 "sorted critical
	// headers").
	for _, name := range []string{"x-flow-id", "authorization", "x-request-id"} {
		if v, ok := f.HeaderValue(name); ok {
			headers[name] = v
		}
	}
	query := ""
	for _, q := range f.Query {
		query += q.Name + "=" + q.Value + "&"
	}
	return decisioncache.Fingerprint(decisioncache.Key{
		Method:          f.Method,
		Path:            f.Path,
		CriticalHeaders: headers,
		Query:           query,
	})
}
