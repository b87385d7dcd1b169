// Package fault holds the shared vocabulary between the rule index, the
// script pool, and the fault decider: compiled Rule, the three fault kinds a
// Rule may declare, and the FaultDecision the decider produces (§3, §4.5).
package fault

import "github.com/TetsujinOni/go-tartuffe/internal/core/predicate"

// TcpKind enumerates TcpFault variants.
type TcpKind int

const (
	TcpNone TcpKind = iota
	ConnectionResetByPeer
	RandomDataThenClose
)

// LatencyFault is sampled uniformly in [MinMS, MaxMS] with probability P.
type LatencyFault struct {
	Probability float64
	MinMS       int
	MaxMS       int
}

// ErrorFault synthesizes a response with probability P.
type ErrorFault struct {
	Probability float64
	Status      int
	Body        string
	Headers     map[string]string
	// Copy mirrors imposter-mode's "copy" response behavior (§4.6), applied
	// to Body before it is written so a synthesized error can embed a value
	// extracted from the triggering request (§9 scenario 2: "oops ${PATH}").
	Copy []CopyBehavior
}

// CopyBehavior extracts a value from the request and substitutes it for a
// token in the error fault's body.
type CopyBehavior struct {
	From     string // "path" | "body" | "method" | "query.<name>" | "headers.<name>"
	Into     string // token replaced in Body, e.g. "${PATH}"
	Method   string // "regex" is the only supported extraction method
	Selector string // regex pattern; its first capture group (or the whole match) is substituted
}

// TcpFault misbehaves at the TCP level instead of synthesizing an HTTP
// response.
type TcpFault struct {
	Kind TcpKind
}

// Script, when set on a Rule, is evaluated before the static faults; a
// script decision of inject=true wins over the rule's static fault (§4.5
// step 2).
type Script struct {
	Source string
	Engine string // "js" (the only engine the script pool's goja runtime provides)
}

// Rule is the compiled form of §3's Rule: a predicate, optional
// upstream scope, optional script, and the three optional fault kinds.
type Rule struct {
	ID         string
	Predicate  predicate.Node
	PathSpec   *predicate.PathSpec // retained for rule-index path indexing
	Upstream   string              // empty means "applies to any upstream"
	Script     *Script
	Latency    *LatencyFault
	Error      *ErrorFault
	TCP        *TcpFault
}

// Deterministic reports whether this rule can ever be cached by the decision
// cache: no script, no TCP fault, and every declared probability is 1.0
// (§4.5 "Decision cache" paragraph).
func (r *Rule) Deterministic() bool {
	if r.Script != nil || r.TCP != nil {
		return false
	}
	if r.Latency != nil && r.Latency.Probability != 1.0 {
		return false
	}
	if r.Error != nil && r.Error.Probability != 1.0 {
		return false
	}
	return true
}

// DecisionKind enumerates FaultDecision variants.
type DecisionKind int

const (
	None DecisionKind = iota
	Latency
	Error
	Tcp
)

// Decision is the fault decider's output (§2 item 6, §4.5).
type Decision struct {
	Kind DecisionKind

	RuleID string

	LatencyMS int

	Status  int
	Body    string
	Headers map[string]string

	TCPKind TcpKind

	// FromScript marks decisions produced by a rule's script rather than
	// its static fault, for the x-rift-script observability header.
	FromScript bool
}
