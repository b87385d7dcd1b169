package pipeline

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/decider"
	"github.com/TetsujinOni/go-tartuffe/internal/core/decisioncache"
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
	"github.com/TetsujinOni/go-tartuffe/internal/core/predicate"
	"github.com/TetsujinOni/go-tartuffe/internal/core/recording"
	"github.com/TetsujinOni/go-tartuffe/internal/core/scriptpool"
)

func predicateAlwaysMatch() (predicate.Node, error) {
	return predicate.Compile(predicate.RequestPredicateSpec{})
}

func TestProxyOnceReplaysFirstResponse(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	d := decider.New(BuildSnapshot(nil, nil).Index, pool, flowstore.NewMemory(0), cache, 1)

	snap := BuildSnapshot(nil, []Route{{
		Upstream:        upstream.URL,
		RecordingMode:   recording.ProxyOnce,
		RecordingFields: recording.Fields{IncludeMethod: true, IncludePath: true},
	}})

	p := New(snap, d, recording.NewStore())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/hello", nil)
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if rec.Body.String() != "hello" {
			t.Fatalf("attempt %d: expected body hello, got %q", i+1, rec.Body.String())
		}
	}

	if got := atomic.LoadInt32(&upstreamHits); got != 1 {
		t.Fatalf("expected upstream hit exactly once, got %d", got)
	}
}

func TestErrorFaultSynthesizesWithoutTouchingUpstream(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pred, _ := predicateAlwaysMatch()
	rule := &fault.Rule{ID: "E", Predicate: pred, Error: &fault.ErrorFault{Probability: 1.0, Status: 503, Body: "oops"}}

	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	snap := BuildSnapshot([]*fault.Rule{rule}, []Route{{Upstream: upstream.URL, RecordingMode: recording.ProxyTransparent}})
	d := decider.New(snap.Index, pool, flowstore.NewMemory(0), cache, 1)
	p := New(snap, d, recording.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 503 || rec.Body.String() != "oops" {
		t.Fatalf("expected synthesized 503/oops, got %d %q", rec.Code, rec.Body.String())
	}
	if atomic.LoadInt32(&upstreamHits) != 0 {
		t.Fatalf("error fault must not touch the upstream")
	}
}

func TestLatencyFaultSetsHeadersBeforeForwarding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pred, _ := predicateAlwaysMatch()
	rule := &fault.Rule{ID: "L", Predicate: pred, Latency: &fault.LatencyFault{Probability: 1.0, MinMS: 50, MaxMS: 50}}

	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	snap := BuildSnapshot([]*fault.Rule{rule}, []Route{{Upstream: upstream.URL, RecordingMode: recording.ProxyTransparent}})
	d := decider.New(snap.Index, pool, flowstore.NewMemory(0), cache, 1)
	p := New(snap, d, recording.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	p.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected at least 50ms of injected latency, took %v", elapsed)
	}
	if got := rec.Header().Get("x-rift-fault"); got != "latency" {
		t.Fatalf("x-rift-fault = %q, want %q", got, "latency")
	}
	if got := rec.Header().Get("x-rift-latency-ms"); got != "50" {
		t.Fatalf("x-rift-latency-ms = %q, want %q", got, "50")
	}
	if got := rec.Header().Get("x-rift-rule-id"); got != "L" {
		t.Fatalf("x-rift-rule-id = %q, want %q", got, "L")
	}
}

func TestErrorFaultCopyBehaviorSubstitutesFromPath(t *testing.T) {
	pred, _ := predicateAlwaysMatch()
	rule := &fault.Rule{
		ID:        "C",
		Predicate: pred,
		Error: &fault.ErrorFault{
			Probability: 1.0,
			Status:      503,
			Body:        "oops ${PATH}",
			Copy: []fault.CopyBehavior{
				{From: "path", Into: "${PATH}", Method: "regex", Selector: `/users/(\d+)`},
			},
		},
	}

	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	snap := BuildSnapshot([]*fault.Rule{rule}, []Route{{Upstream: "http://unused.invalid", RecordingMode: recording.ProxyTransparent}})
	d := decider.New(snap.Index, pool, flowstore.NewMemory(0), cache, 1)
	p := New(snap, d, recording.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	if rec.Code != 503 || rec.Body.String() != "oops 42" {
		t.Fatalf("expected 503 %q, got %d %q", "oops 42", rec.Code, rec.Body.String())
	}
}

func TestScriptCircuitBreakerOpensAfterThreshold(t *testing.T) {
	var upstreamHits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upstreamHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pred, _ := predicateAlwaysMatch()
	script := `
		function should_inject(request, flow_store) {
			var key = "cb:" + request.headers["X-Flow-Id"];
			var count = flow_store.increment(key, 1);
			if (count > 3) {
				return {inject: true, fault: "error", status: 503, body: "circuit open"};
			}
			return {inject: false};
		}
	`
	rule := &fault.Rule{ID: "S", Predicate: pred, Script: &fault.Script{Source: script, Engine: "js"}}

	pool := scriptpool.New(1, 4, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	snap := BuildSnapshot([]*fault.Rule{rule}, []Route{{Upstream: upstream.URL, RecordingMode: recording.ProxyTransparent}})
	d := decider.New(snap.Index, pool, flowstore.NewMemory(0), cache, 1)
	p := New(snap, d, recording.NewStore())

	wantCodes := []int{200, 200, 200, 503}
	for i, want := range wantCodes {
		req := httptest.NewRequest(http.MethodGet, "/anything", nil)
		req.Header.Set("X-Flow-Id", "f1")
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d: got status %d, want %d", i+1, rec.Code, want)
		}
	}
	if got := atomic.LoadInt32(&upstreamHits); got != 3 {
		t.Fatalf("expected upstream hit 3 times (not on the circuit-open request), got %d", got)
	}
}

func TestTCPFaultResetsConnectionWithoutWritingAResponse(t *testing.T) {
	pred, _ := predicateAlwaysMatch()
	rule := &fault.Rule{ID: "T", Predicate: pred, TCP: &fault.TcpFault{Kind: fault.ConnectionResetByPeer}}

	pool := scriptpool.New(1, 1, time.Second)
	defer pool.Stop()
	cache := decisioncache.New(100, time.Minute, true)
	snap := BuildSnapshot([]*fault.Rule{rule}, []Route{{Upstream: "http://unused.invalid", RecordingMode: recording.ProxyTransparent}})
	d := decider.New(snap.Index, pool, flowstore.NewMemory(0), cache, 1)
	p := New(snap, d, recording.NewStore())

	srv := httptest.NewServer(http.HandlerFunc(p.ServeHTTP))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: %s\r\n\r\n", srv.Listener.Addr().String())
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n != 0 {
		t.Fatalf("expected no HTTP response bytes before the reset, got %q", buf[:n])
	}
	if err == nil {
		t.Fatal("expected the connection to be reset, got no error")
	}
}
