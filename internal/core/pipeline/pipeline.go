// Package pipeline implements §4.8: the per-request orchestration that
// ties the rule index, script pool, decision cache, fault decider, and
// recording store together, forwarding to (or synthesizing a response for)
// an upstream.
package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/TetsujinOni/go-tartuffe/internal/core/decider"
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/recording"
	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
	"github.com/TetsujinOni/go-tartuffe/internal/metrics"
)

// Pipeline dispatches HTTP requests through the fault decider and forwards
// them to the configured upstream, recording or replaying per route (§4.8
// steps 1-5).
type Pipeline struct {
	snapshot   atomic.Pointer[Snapshot]
	decider    *decider.Decider
	recordings *recording.Store
	client     *http.Client
}

// New builds a Pipeline around an already-warm Decider and recording store.
func New(initial *Snapshot, d *decider.Decider, recordings *recording.Store) *Pipeline {
	p := &Pipeline{
		decider:    d,
		recordings: recordings,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	p.snapshot.Store(initial)
	return p
}

// Reload atomically swaps in a newly compiled Snapshot (§6
// "POST /admin/reload", §9 "compiled-tree sharing"). Requests already in
// flight keep running against the Snapshot they started with.
func (p *Pipeline) Reload(s *Snapshot) {
	p.snapshot.Store(s)
}

// ServeHTTP is the proxy-mode entry point (§4.8): decide, then either
// synthesize a fault response, misbehave at the TCP level, or forward to
// the route's upstream with recording-store semantics applied.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := p.snapshot.Load()
	route, ok := snap.Routes[r.Host]
	if !ok {
		route, ok = snap.Routes[""]
	}
	if !ok {
		http.Error(w, "no route configured for this request", http.StatusBadGateway)
		return
	}

	body, _ := io.ReadAll(r.Body)
	r.Body.Close()
	facets := request.FromHTTP(r, body)

	start := time.Now()
	decision := p.decider.Decide(r.Context(), facets, route.Upstream)
	defer func() {
		metrics.RecordPipelineDuration(route.Upstream, time.Since(start).Seconds())
	}()
	metrics.RecordFaultDecision(route.Upstream, decisionKindLabel(decision.Kind))

	if decision.LatencyMS > 0 {
		// Set before the sleep, not after, so a client that times out mid-delay
		// still left a header trail in access logs capturing the response
		// writer's buffered state (§9 scenario 1: "x-rift-fault: latency").
		w.Header().Set("x-rift-fault", "latency")
		w.Header().Set("x-rift-latency-ms", strconv.Itoa(decision.LatencyMS))
		if decision.RuleID != "" {
			w.Header().Set("x-rift-rule-id", decision.RuleID)
		}
		select {
		case <-time.After(time.Duration(decision.LatencyMS) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	switch decision.Kind {
	case fault.Tcp:
		p.handleTCPFault(w, decision)
		return
	case fault.Error:
		p.writeSynthesized(w, decision)
		return
	}

	p.forward(w, r, facets, route, body)
}

// handleTCPFault hijacks the underlying connection and misbehaves per the
// rule's TcpFault kind (§3 "TcpFault", §4.5).
func (p *Pipeline) handleTCPFault(w http.ResponseWriter, decision fault.Decision) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection does not support hijacking", http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	switch decision.TCPKind {
	case fault.RandomDataThenClose:
		garbage := make([]byte, 64)
		rand.Read(garbage)
		conn.Write(garbage)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok && decision.TCPKind == fault.ConnectionResetByPeer {
		tcpConn.SetLinger(0)
	}
	conn.Close()
}

// writeSynthesized writes a fault-decider-generated error response directly,
// without touching the upstream (§4.5 step 5 "Error faults synthesize
// a response and stop further rule scanning").
func (p *Pipeline) writeSynthesized(w http.ResponseWriter, decision fault.Decision) {
	for k, v := range decision.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("x-rift-fault", "true")
	if decision.RuleID != "" {
		w.Header().Set("x-rift-rule-id", decision.RuleID)
	}
	if decision.FromScript {
		w.Header().Set("x-rift-script", "true")
	}
	status := decision.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	io.WriteString(w, decision.Body)
}

// forward implements §4.7's proxyOnce/proxyAlways/proxyTransparent
// dispatch against the recording store.
func (p *Pipeline) forward(w http.ResponseWriter, r *http.Request, facets *request.Facets, route Route, body []byte) {
	sig := recording.Build(facets, route.RecordingFields)

	if route.RecordingMode == recording.ProxyOnce {
		if rec, ok := p.recordings.Lookup(sig); ok {
			writeRecorded(w, rec, true)
			return
		}
	}

	rec, err := p.callUpstream(r.Context(), route.Upstream, r, body)
	if err != nil {
		http.Error(w, "upstream unreachable: "+err.Error(), http.StatusBadGateway)
		return
	}

	switch route.RecordingMode {
	case recording.ProxyOnce:
		actual, wrote := p.recordings.RecordOnce(sig, rec)
		writeRecorded(w, actual, !wrote)
	case recording.ProxyAlways:
		p.recordings.RecordAlways(sig, rec)
		writeRecorded(w, rec, false)
	default: // ProxyTransparent
		writeRecorded(w, rec, false)
	}
}

func decisionKindLabel(kind fault.DecisionKind) string {
	switch kind {
	case fault.Latency:
		return "latency"
	case fault.Error:
		return "error"
	case fault.Tcp:
		return "tcp"
	default:
		return "none"
	}
}

func writeRecorded(w http.ResponseWriter, rec recording.Recorded, replayed bool) {
	for k, v := range rec.Headers {
		if s, ok := v.(string); ok {
			w.Header().Set(k, s)
		}
	}
	if replayed {
		w.Header().Set("x-rift-replayed", "true")
	} else {
		w.Header().Set("x-rift-recorded", "true")
	}
	w.WriteHeader(rec.StatusCode)
	switch b := rec.Body.(type) {
	case string:
		io.WriteString(w, b)
	case []byte:
		w.Write(b)
	}
}

func (p *Pipeline) callUpstream(ctx context.Context, upstream string, r *http.Request, body []byte) (recording.Recorded, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, upstream+r.URL.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return recording.Recorded{}, err
	}
	req.Header = r.Header.Clone()

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return recording.Recorded{}, err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return recording.Recorded{}, err
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return recording.Recorded{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(respBody),
		LatencyMS:  int(elapsed.Milliseconds()),
	}, nil
}
