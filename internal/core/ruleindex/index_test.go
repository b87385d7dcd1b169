package ruleindex

import (
	"testing"

	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/predicate"
)

func TestLookupPreservesConfigOrder(t *testing.T) {
	r1 := &fault.Rule{ID: "exact", PathSpec: &predicate.PathSpec{Kind: predicate.PathExact, Value: "/api/x"}}
	r2 := &fault.Rule{ID: "prefix", PathSpec: &predicate.PathSpec{Kind: predicate.PathPrefix, Value: "/api"}}
	r3 := &fault.Rule{ID: "residual", PathSpec: &predicate.PathSpec{Kind: predicate.PathContains, Value: "x"}}

	idx := Build([]*fault.Rule{r2, r1, r3})
	candidates := idx.Lookup("/api/x")
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0].ID != "prefix" || candidates[1].ID != "exact" || candidates[2].ID != "residual" {
		t.Fatalf("expected configuration order prefix,exact,residual, got %v", idsOf(candidates))
	}
}

func TestLookupNeverMisses(t *testing.T) {
	exact := &fault.Rule{ID: "a", PathSpec: &predicate.PathSpec{Kind: predicate.PathExact, Value: "/foo"}}
	idx := Build([]*fault.Rule{exact})
	if got := idx.Lookup("/foo"); len(got) != 1 {
		t.Fatalf("expected exact-path rule to be found, got %v", got)
	}
	if got := idx.Lookup("/bar"); len(got) != 0 {
		t.Fatalf("expected no candidates for unrelated path, got %v", got)
	}
}

func idsOf(rules []*fault.Rule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
