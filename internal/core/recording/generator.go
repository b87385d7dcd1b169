package recording

import "strings"

// Generated is the Mountebank-style stub JSON shape produced by GenerateStub
// (§4.7 "generate_stub"): a single `is` response plus predicates.
type Generated struct {
	Predicates []GeneratedPredicate `json:"predicates"`
	Response   GeneratedResponse    `json:"response"`
}

type GeneratedPredicate struct {
	Equals map[string]interface{} `json:"equals"`
}

type GeneratedResponse struct {
	StatusCode int                    `json:"statusCode"`
	Headers    map[string]interface{} `json:"headers,omitempty"`
	Body       interface{}            `json:"body"`
	WaitMS     int                    `json:"-"` // surfaced via Behaviors below
	Behaviors  map[string]interface{} `json:"_behaviors,omitempty"`
}

// IncludeFlags chooses which predicate fields generate_stub emits, per §4.7:
// "predicates filtered per flags (method equals, path equals, query
// equals, selected headers equals)".
type IncludeFlags struct {
	Method bool
	Path   bool
	Query  bool

	// Headers is the explicit allow-list of header names to include as a
	// concrete filter rather than an all-or-nothing toggle.
	Headers []string

	AddWaitBehavior bool
}

// GenerateStub builds a Generated stub from a captured signature/response
// pair per §4.7's generate_stub contract.
func GenerateStub(sig Signature, rec Recorded, flags IncludeFlags) Generated {
	equals := make(map[string]interface{})
	if flags.Method && sig.Method != "" {
		equals["method"] = sig.Method
	}
	if flags.Path && sig.Path != "" {
		equals["path"] = sig.Path
	}
	if flags.Query && sig.Query != "" {
		equals["query"] = sig.Query
	}
	if len(flags.Headers) > 0 && sig.Headers != "" {
		headerEquals := make(map[string]interface{})
		for _, part := range strings.Split(sig.Headers, "|") {
			name, value, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			if headerAllowed(flags.Headers, name) {
				headerEquals[name] = value
			}
		}
		if len(headerEquals) > 0 {
			equals["headers"] = headerEquals
		}
	}

	resp := GeneratedResponse{
		StatusCode: rec.StatusCode,
		Headers:    rec.Headers,
		Body:       rec.Body,
	}
	if flags.AddWaitBehavior && rec.LatencyMS > 0 {
		resp.Behaviors = map[string]interface{}{"wait": rec.LatencyMS}
	}

	return Generated{
		Predicates: []GeneratedPredicate{{Equals: equals}},
		Response:   resp,
	}
}

func headerAllowed(allow []string, name string) bool {
	for _, a := range allow {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
