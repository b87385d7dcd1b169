package recording

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

func facetsFor(method, path string) *request.Facets {
	r := httptest.NewRequest(method, path, nil)
	return request.FromHTTP(r, nil)
}

func TestSignatureCanonicalizesQueryOrder(t *testing.T) {
	a := Build(facetsFor(http.MethodGet, "/x?b=2&a=1"), Fields{IncludeMethod: true, IncludePath: true, IncludeQuery: true})
	b := Build(facetsFor(http.MethodGet, "/x?a=1&b=2"), Fields{IncludeMethod: true, IncludePath: true, IncludeQuery: true})
	if a.Key() != b.Key() {
		t.Fatalf("expected equal signatures, got %q vs %q", a.Key(), b.Key())
	}
}

func TestRecordOnceFirstWriteWins(t *testing.T) {
	store := NewStore()
	sig := Build(facetsFor(http.MethodGet, "/hello"), Fields{IncludeMethod: true, IncludePath: true})

	first, wrote := store.RecordOnce(sig, Recorded{StatusCode: 200, Body: "hello"})
	if !wrote || first.Body != "hello" {
		t.Fatalf("expected first write to win, got %+v wrote=%v", first, wrote)
	}

	second, wrote := store.RecordOnce(sig, Recorded{StatusCode: 200, Body: "goodbye"})
	if wrote {
		t.Fatalf("expected second RecordOnce not to write")
	}
	if second.Body != "hello" {
		t.Fatalf("expected replay of first recorded body, got %+v", second)
	}

	got, ok := store.Lookup(sig)
	if !ok || got.Body != "hello" {
		t.Fatalf("expected lookup to return first recorded response, got %+v ok=%v", got, ok)
	}
}

func TestRecordAlwaysOverwritesLatest(t *testing.T) {
	store := NewStore()
	sig := Build(facetsFor(http.MethodGet, "/hello"), Fields{IncludeMethod: true, IncludePath: true})

	store.RecordAlways(sig, Recorded{StatusCode: 200, Body: "one"})
	store.RecordAlways(sig, Recorded{StatusCode: 200, Body: "two"})

	got, ok := store.Lookup(sig)
	if !ok || got.Body != "two" {
		t.Fatalf("expected latest recorded response, got %+v ok=%v", got, ok)
	}
}

func TestGenerateStubFiltersHeadersByAllowList(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/hello", nil)
	r.Header.Set("X-Request-Id", "abc")
	r.Header.Set("Authorization", "secret")
	f := request.FromHTTP(r, nil)

	sig := Build(f, Fields{IncludeMethod: true, IncludePath: true, Headers: []string{"X-Request-Id", "Authorization"}})
	rec := Recorded{StatusCode: 200, Body: "hello", LatencyMS: 42}

	stub := GenerateStub(sig, rec, IncludeFlags{
		Method:          true,
		Path:            true,
		Headers:         []string{"X-Request-Id"},
		AddWaitBehavior: true,
	})

	headers, ok := stub.Predicates[0].Equals["headers"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected headers predicate, got %+v", stub.Predicates[0].Equals)
	}
	if _, present := headers["authorization"]; present {
		t.Fatalf("authorization header must be excluded by the allow-list, got %+v", headers)
	}
	if headers["x-request-id"] != "abc" {
		t.Fatalf("expected x-request-id=abc, got %+v", headers)
	}
	if stub.Response.Behaviors["wait"] != 42 {
		t.Fatalf("expected wait behavior of 42ms, got %+v", stub.Response.Behaviors)
	}
}
