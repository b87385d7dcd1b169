package decider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/decisioncache"
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
	"github.com/TetsujinOni/go-tartuffe/internal/core/predicate"
	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
	"github.com/TetsujinOni/go-tartuffe/internal/core/ruleindex"
	"github.com/TetsujinOni/go-tartuffe/internal/core/scriptpool"
)

func facets(method, path string, headers map[string]string) *request.Facets {
	r := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return request.FromHTTP(r, nil)
}

func TestLatencyFaultDeterministic(t *testing.T) {
	pred, _ := predicate.Compile(predicate.RequestPredicateSpec{
		Path: &predicate.PathSpec{Kind: predicate.PathPrefix, Value: "/api"},
	})
	rule := &fault.Rule{
		ID:        "L",
		Predicate: pred,
		PathSpec:  &predicate.PathSpec{Kind: predicate.PathPrefix, Value: "/api"},
		Latency:   &fault.LatencyFault{Probability: 1.0, MinMS: 200, MaxMS: 200},
	}
	idx := ruleindex.Build([]*fault.Rule{rule})
	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	d := New(idx, pool, flowstore.NewMemory(0), cache, 1)

	decision := d.Decide(context.Background(), facets(http.MethodGet, "/api/x", nil), "")
	if decision.Kind != fault.Latency || decision.LatencyMS != 200 || decision.RuleID != "L" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestErrorFaultStopsScanning(t *testing.T) {
	pred, _ := predicate.Compile(predicate.RequestPredicateSpec{
		Path: &predicate.PathSpec{Kind: predicate.PathExact, Value: "/users/42"},
	})
	rule := &fault.Rule{
		ID:        "E",
		Predicate: pred,
		PathSpec:  &predicate.PathSpec{Kind: predicate.PathExact, Value: "/users/42"},
		Error:     &fault.ErrorFault{Probability: 1.0, Status: 503, Body: "oops"},
	}
	idx := ruleindex.Build([]*fault.Rule{rule})
	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	d := New(idx, pool, flowstore.NewMemory(0), cache, 1)

	decision := d.Decide(context.Background(), facets(http.MethodGet, "/users/42", nil), "")
	if decision.Kind != fault.Error || decision.Status != 503 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestCircuitBreakerScript(t *testing.T) {
	pred, _ := predicate.Compile(predicate.RequestPredicateSpec{})
	rule := &fault.Rule{
		ID:        "CB",
		Predicate: pred,
		Script: &fault.Script{Engine: "js", Source: `
			function should_inject(request, flow_store) {
				var n = flow_store.increment("failures:" + request.headers["x-flow-id"], 1);
				if (n > 3) {
					return {inject:true, fault:"error", status:503};
				}
				return {inject:false};
			}
		`},
	}
	idx := ruleindex.Build([]*fault.Rule{rule})
	pool := scriptpool.New(1, 4, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	store := flowstore.NewMemory(0)
	d := New(idx, pool, store, cache, 1)

	f := facets(http.MethodGet, "/x", map[string]string{"x-flow-id": "f"})
	for i := 0; i < 3; i++ {
		decision := d.Decide(context.Background(), f, "")
		if decision.Kind != fault.None {
			t.Fatalf("expected no fault on attempt %d, got %+v", i+1, decision)
		}
	}
	decision := d.Decide(context.Background(), f, "")
	if decision.Kind != fault.Error || decision.Status != 503 {
		t.Fatalf("expected 503 on 4th request, got %+v", decision)
	}
}
