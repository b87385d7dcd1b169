// Package scriptpool implements §4.4's bounded worker pool executing
// fault-decision JS scripts with a per-execution deadline and fail-open
// overflow/timeout semantics.
package scriptpool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
)

// ScriptRequest is the frozen request object a script's should_inject
// function receives (§4.4 "Script contract").
type ScriptRequest struct {
	Method  string            `json:"method"`
	Path    string             `json:"path"`
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Body    string            `json:"body,omitempty"`
}

// Decision is the normalized script output (§4.4). Any return shape
// that does not parse into this is treated as {inject:false}, per the
// "dynamic response shapes from scripts" design note (§9): the boundary
// normalizes once, here, rather than leaking goja's dynamic object model
// into the decider.
type Decision struct {
	Inject     bool
	Fault      string // "latency" | "error"
	Status     int
	Body       string
	Headers    map[string]string
	DurationMS int
}

// job is one submission on the pool's bounded channel.
type job struct {
	ctx     context.Context
	script  string
	req     ScriptRequest
	store   flowstore.Store
	resultC chan<- result
}

type result struct {
	decision Decision
	err      error
}

// Pool is a fixed-size set of worker goroutines, each owning one goja VM
// instance, consuming submissions from a bounded channel (§4.4).
// Overflow (a full queue) and per-execution timeout both fail open, per
// §4.4 and §7.
type Pool struct {
	jobs    chan job
	timeout time.Duration
	done    chan struct{}
}

// New starts a pool of `workers` goroutines reading from a channel of
// capacity `queueSize`. timeout is the per-execution deadline (default
// 5000ms).
func New(workers, queueSize int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Pool{
		jobs:    make(chan job, queueSize),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Stop signals every worker to exit once the queue drains. In-flight
// submissions already accepted are still executed.
func (p *Pool) Stop() {
	close(p.done)
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.done:
			for {
				select {
				case j := <-p.jobs:
					j.resultC <- p.execute(j)
				default:
					return
				}
			}
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			j.resultC <- p.execute(j)
		}
	}
}

// Submit enqueues a script for execution, blocking only long enough to test
// whether the queue is full; a full queue fails open immediately
// (inject=false), never blocking the caller (§4.4 "on overflow the
// call fails-open").
func (p *Pool) Submit(ctx context.Context, script string, req ScriptRequest, store flowstore.Store) (Decision, error) {
	resultC := make(chan result, 1)
	select {
	case p.jobs <- job{ctx: ctx, script: script, req: req, store: store, resultC: resultC}:
	default:
		return Decision{Inject: false}, nil
	}

	select {
	case r := <-resultC:
		return r.decision, r.err
	case <-ctx.Done():
		return Decision{Inject: false}, nil
	}
}

// execute runs one script to completion or deadline, always returning a
// normalized Decision (never propagating a goja panic past this boundary).
func (p *Pool) execute(j job) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res = result{decision: Decision{Inject: false}, err: fmt.Errorf("scriptpool: script panic: %v", r)}
		}
	}()

	vm := goja.New()
	done := make(chan result, 1)
	go func() {
		d, err := runScript(vm, j.script, j.req, j.store)
		done <- result{decision: d, err: err}
	}()

	select {
	case r := <-done:
		return r
	case <-time.After(p.timeout):
		// vm.Interrupt stops a runaway script (e.g. an infinite loop) at
		// its next bytecode check; the goroutine above then returns with
		// an interrupt error which we discard in favor of ErrTimeout.
		vm.Interrupt(ErrTimeout)
		return result{decision: Decision{Inject: false}, err: ErrTimeout}
	}
}

// ErrTimeout is returned (but the decision still honored as {inject:false})
// when a script breaches its deadline, so callers can record a
// script-timeout metric (§4.4, §7 ScriptTimeout).
var ErrTimeout = fmt.Errorf("scriptpool: execution deadline exceeded")

func runScript(vm *goja.Runtime, script string, req ScriptRequest, store flowstore.Store) (Decision, error) {
	new(require.Registry).Enable(vm)
	buffer.Enable(vm)
	console.Enable(vm)

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return Decision{Inject: false}, err
	}
	var reqObj map[string]interface{}
	_ = json.Unmarshal(reqJSON, &reqObj)
	vm.Set("request", reqObj)
	vm.Set("flow_store", newFlowStoreBinding(vm, store))

	wrapped := fmt.Sprintf(`
		(function() {
			if (typeof should_inject !== 'function') {
				return { inject: false };
			}
			var result = should_inject(request, flow_store);
			return result;
		})()
	`+"\n%s", script)

	v, err := vm.RunString(wrapped)
	if err != nil {
		return Decision{Inject: false}, fmt.Errorf("scriptpool: runtime error: %w", err)
	}
	return convert(v), nil
}

func convert(v goja.Value) Decision {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return Decision{Inject: false}
	}
	m, ok := v.Export().(map[string]interface{})
	if !ok {
		return Decision{Inject: false}
	}
	d := Decision{}
	if inj, ok := m["inject"].(bool); ok {
		d.Inject = inj
	}
	if !d.Inject {
		return Decision{Inject: false}
	}
	if f, ok := m["fault"].(string); ok {
		d.Fault = f
	}
	if s, ok := toInt(m["status"]); ok {
		d.Status = s
	}
	if b, ok := m["body"].(string); ok {
		d.Body = b
	}
	if hdrs, ok := m["headers"].(map[string]interface{}); ok {
		d.Headers = make(map[string]string, len(hdrs))
		for k, hv := range hdrs {
			d.Headers[k] = fmt.Sprintf("%v", hv)
		}
	}
	if ms, ok := toInt(m["duration_ms"]); ok {
		d.DurationMS = ms
	}
	return d
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case int:
		return t, true
	}
	return 0, false
}
