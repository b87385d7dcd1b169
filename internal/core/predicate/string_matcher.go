package predicate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Kind is the StringMatcher sum type tag (§3 StringMatcher).
type Kind int

const (
	Equals Kind = iota
	Contains
	StartsWith
	EndsWith
	Matches
	Exists
	DeepEquals
)

// Options carries PredicateOptions: case sensitivity and the except regex
// applied to the candidate value before comparison.
type Options struct {
	CaseSensitive bool
	Except        *regexp.Regexp
	// Strict enables Mountebank-compatible strict map equality for DeepEquals
	// (extra keys in the candidate fail the match). Default false.
	Strict bool
}

// StringMatcher is a compiled leaf matcher. Regex compilation and operand
// case-folding happen once, at Compile time, per the predicate engine's
// "pre-work done once" contract (§4.1).
type StringMatcher struct {
	kind    Kind
	operand string          // normalized operand for Equals/Contains/StartsWith/EndsWith
	pattern *regexp.Regexp  // compiled for Matches
	exists  bool            // target value for Exists
	deep    interface{}     // decoded template for DeepEquals
	opts    Options
}

// CompileString builds a StringMatcher for kind with the given raw operand (unused
// for Exists) and options. Regex compile failures surface here, never at
// evaluation time, per the predicate engine's error-mode contract.
func CompileString(kind Kind, raw string, opts Options) (*StringMatcher, error) {
	sm := &StringMatcher{kind: kind, opts: opts}
	switch kind {
	case Matches:
		pattern := raw
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		sm.pattern = re
	case DeepEquals:
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// Not JSON: treat as a scalar string template.
			v = raw
		}
		sm.deep = v
	case Exists:
		sm.exists = raw == "true" || raw == ""
	default:
		sm.operand = normalize(raw, opts.CaseSensitive)
	}
	return sm, nil
}

// CompileExists is a convenience constructor since Exists carries a bool, not
// a pattern string.
func CompileExists(want bool) *StringMatcher {
	return &StringMatcher{kind: Exists, exists: want}
}

// CompileDeepEquals compiles a DeepEquals matcher directly from a decoded
// JSON value (map/slice/scalar), skipping the raw-string parse step.
func CompileDeepEquals(template interface{}, opts Options) *StringMatcher {
	return &StringMatcher{kind: DeepEquals, deep: template, opts: opts}
}

func normalize(s string, caseSensitive bool) string {
	if caseSensitive {
		return s
	}
	return strings.ToLower(s)
}

// applyExcept strips every substring matched by opts.Except before
// comparison; applied identically on every evaluation.
func (sm *StringMatcher) applyExcept(v string) string {
	if sm.opts.Except == nil {
		return v
	}
	return sm.opts.Except.ReplaceAllString(v, "")
}

// present reports whether the field existed at all (distinct from existing
// but being the empty string, which Exists(true) still treats as absent).
type present struct {
	value string
	ok    bool
}

// MatchString evaluates the matcher against an optional candidate value.
// Missing-field semantics (§4.1): absent vs Exists(true) -> false;
// absent vs Exists(false) -> true; absent vs any other matcher -> false.
func (sm *StringMatcher) MatchString(candidate string, found bool) bool {
	if sm.kind == Exists {
		if sm.exists {
			return found && candidate != ""
		}
		return !found || candidate == ""
	}
	if !found {
		return false
	}

	candidate = sm.applyExcept(candidate)

	switch sm.kind {
	case Equals:
		return normalize(candidate, sm.opts.CaseSensitive) == sm.operand
	case Contains:
		return strings.Contains(normalize(candidate, sm.opts.CaseSensitive), sm.operand)
	case StartsWith:
		return strings.HasPrefix(normalize(candidate, sm.opts.CaseSensitive), sm.operand)
	case EndsWith:
		return strings.HasSuffix(normalize(candidate, sm.opts.CaseSensitive), sm.operand)
	case Matches:
		return sm.pattern.MatchString(candidate)
	case DeepEquals:
		return sm.matchDeepScalar(candidate)
	}
	return false
}

// MatchValue evaluates DeepEquals (or any matcher, via string coercion)
// against an already-decoded JSON value, as produced by a JSON/XPath body
// selector or a parsed query/header map.
func (sm *StringMatcher) MatchValue(candidate interface{}, found bool) bool {
	if sm.kind != DeepEquals {
		s, ok := coerceToString(candidate)
		return sm.MatchString(s, found && ok)
	}
	if !found {
		return !sm.exists && sm.deep == nil
	}
	return deepMatches(sm.deep, candidate, sm.opts.Strict)
}

func (sm *StringMatcher) matchDeepScalar(candidate string) bool {
	var v interface{}
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		v = candidate
	}
	return deepMatches(sm.deep, v, sm.opts.Strict)
}

func coerceToString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case nil:
		return "", false
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// deepMatches implements Mountebank-compatible deep equality: for maps,
// every key in the template must be present with a matching value; extra
// candidate keys are ignored unless strict. Scalars/arrays fall back to
// reflect.DeepEqual after normalizing numeric types.
func deepMatches(template, candidate interface{}, strict bool) bool {
	switch t := template.(type) {
	case map[string]interface{}:
		c, ok := candidate.(map[string]interface{})
		if !ok {
			return false
		}
		if strict && len(c) != len(t) {
			return false
		}
		for k, v := range t {
			cv, ok := c[k]
			if !ok || !deepMatches(v, cv, strict) {
				return false
			}
		}
		return true
	case []interface{}:
		c, ok := candidate.([]interface{})
		if !ok || len(c) != len(t) {
			return false
		}
		for i := range t {
			if !deepMatches(t[i], c[i], strict) {
				return false
			}
		}
		return true
	case float64, int, int64:
		cf, ok := toFloat(candidate)
		tf, _ := toFloat(t)
		return ok && cf == tf
	default:
		return reflect.DeepEqual(template, candidate)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
