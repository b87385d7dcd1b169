package predicate

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

func facetsFor(t *testing.T, method, target string, body string, headers map[string]string) *request.Facets {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return request.FromHTTP(req, []byte(body))
}

func TestEqualsPathAndMethod(t *testing.T) {
	spec := RequestPredicateSpec{
		CaseSensitive: true,
		Method:        &StringMatcherSpec{Kind: Equals, Value: "GET"},
		Path:          &PathSpec{Kind: PathExact, Value: "/users/42"},
	}
	node, err := Compile(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := facetsFor(t, http.MethodGet, "/users/42", "", nil)
	if !node.Match(f) {
		t.Fatalf("expected match")
	}
	f2 := facetsFor(t, http.MethodPost, "/users/42", "", nil)
	if node.Match(f2) {
		t.Fatalf("expected no match for different method")
	}
}

func TestNotAndOr(t *testing.T) {
	leaf := RequestPredicateSpec{Method: &StringMatcherSpec{Kind: Equals, Value: "GET"}}
	notSpec := RequestPredicateSpec{Op: OpNot, Children: []RequestPredicateSpec{leaf}}
	node, err := Compile(notSpec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := facetsFor(t, http.MethodPost, "/", "", nil)
	if !node.Match(f) {
		t.Fatalf("not(GET) should match POST request")
	}

	orSpec := RequestPredicateSpec{Op: OpOr, Children: []RequestPredicateSpec{
		{Method: &StringMatcherSpec{Kind: Equals, Value: "GET"}},
		{Method: &StringMatcherSpec{Kind: Equals, Value: "POST"}},
	}}
	orNode, err := Compile(orSpec)
	if err != nil {
		t.Fatalf("compile or: %v", err)
	}
	if !orNode.Match(f) {
		t.Fatalf("or(GET,POST) should match POST request")
	}
}

func TestExceptStrippedBeforeCompare(t *testing.T) {
	exceptOpts := Options{CaseSensitive: true}
	exceptMatcher, err := CompileString(Matches, `\d+`, exceptOpts)
	if err != nil {
		t.Fatalf("compile except: %v", err)
	}
	opts := Options{CaseSensitive: true, Except: exceptMatcher.pattern}
	m, err := CompileString(Equals, "users-", opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.MatchString("users-42", true) {
		t.Fatalf("except should strip digits before compare")
	}
}

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	spec := RequestPredicateSpec{
		Headers: []FieldSpec{{Name: "X-Request-Id", Value: "abc"}},
	}
	node, err := Compile(spec)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	f := facetsFor(t, http.MethodGet, "/", "", map[string]string{"x-request-id": "abc"})
	if !node.Match(f) {
		t.Fatalf("expected case-insensitive header match")
	}
}

func TestMissingFieldVsExists(t *testing.T) {
	existsTrue := CompileExists(true)
	if existsTrue.MatchString("", false) {
		t.Fatalf("missing field should not satisfy Exists(true)")
	}
	existsFalse := CompileExists(false)
	if !existsFalse.MatchString("", false) {
		t.Fatalf("missing field should satisfy Exists(false)")
	}
	eq, _ := CompileString(Equals, "x", Options{CaseSensitive: true})
	if eq.MatchString("", false) {
		t.Fatalf("missing field should never satisfy Equals")
	}
}

func TestDeepEqualsMountebankCompatible(t *testing.T) {
	template := map[string]interface{}{"a": float64(1)}
	m := CompileDeepEquals(template, Options{})
	if !m.MatchValue(map[string]interface{}{"a": float64(1), "b": "extra"}, true) {
		t.Fatalf("extra keys should be ignored by default (non-strict)")
	}
	strict := CompileDeepEquals(template, Options{Strict: true})
	if strict.MatchValue(map[string]interface{}{"a": float64(1), "b": "extra"}, true) {
		t.Fatalf("strict deep-equals should reject extra keys")
	}
}
