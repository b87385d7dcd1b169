package scriptpool

import (
	"context"
	"testing"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
)

func TestPoolRunsScript(t *testing.T) {
	p := New(2, 4, time.Second)
	defer p.Stop()

	store := flowstore.NewMemory(0)
	script := `
		function should_inject(request, flow_store) {
			var n = flow_store.increment("failures:" + request.headers["x-flow-id"], 1);
			if (n > 3) {
				return { inject: true, fault: "error", status: 503 };
			}
			return { inject: false };
		}
	`

	req := ScriptRequest{Method: "GET", Path: "/x", Headers: map[string]string{"x-flow-id": "f"}}
	for i := 0; i < 3; i++ {
		d, err := p.Submit(context.Background(), script, req, store)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if d.Inject {
			t.Fatalf("expected no inject on attempt %d", i+1)
		}
	}
	d, err := p.Submit(context.Background(), script, req, store)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !d.Inject || d.Status != 503 {
		t.Fatalf("expected circuit breaker to trip on 4th request, got %+v", d)
	}
}

func TestPoolMalformedReturnFailsOpen(t *testing.T) {
	p := New(1, 1, time.Second)
	defer p.Stop()
	store := flowstore.NewMemory(0)
	script := `function should_inject(request, flow_store) { return "not an object"; }`
	d, err := p.Submit(context.Background(), script, ScriptRequest{}, store)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Inject {
		t.Fatalf("malformed return shape must fail open")
	}
}

func TestPoolTimeoutFailsOpen(t *testing.T) {
	p := New(1, 1, 10*time.Millisecond)
	defer p.Stop()
	store := flowstore.NewMemory(0)
	script := `function should_inject() { while (true) {} }`
	d, err := p.Submit(context.Background(), script, ScriptRequest{}, store)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if d.Inject {
		t.Fatalf("timeout must fail open")
	}
}

func TestValidateRequiresShouldInject(t *testing.T) {
	if err := Validate(`function other() {}`, "js"); err == nil {
		t.Fatalf("expected validation error when should_inject missing")
	}
	if err := Validate(`function should_inject(r, fs) { return {inject:false}; }`, "js"); err != nil {
		t.Fatalf("expected valid script to pass: %v", err)
	}
}
