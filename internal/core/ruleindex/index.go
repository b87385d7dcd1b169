// Package ruleindex indexes compiled fault rules by path shape so a request
// is matched against a small candidate set instead of the full rule list
// (§4.2).
package ruleindex

import (
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/predicate"
)

// Index is an immutable, concurrency-safe lookup structure built once per
// configuration snapshot (§9 "compiled-tree sharing").
type Index struct {
	exact    map[string][]*fault.Rule
	trie     *trieNode
	residual []*fault.Rule
	// order records each rule's original configuration position so the
	// union of candidates can be re-sorted into configuration order, which
	// the decider relies on to pick "the first fully-matching rule".
	order map[*fault.Rule]int
}

type trieNode struct {
	children map[byte]*trieNode
	rules    []*fault.Rule
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

// Build constructs an Index from compiled rules in configuration order.
func Build(rules []*fault.Rule) *Index {
	idx := &Index{
		exact: make(map[string][]*fault.Rule),
		trie:  newTrieNode(),
		order: make(map[*fault.Rule]int, len(rules)),
	}
	for i, r := range rules {
		idx.order[r] = i
		if r.PathSpec == nil {
			idx.residual = append(idx.residual, r)
			continue
		}
		switch r.PathSpec.Kind {
		case predicate.PathExact:
			idx.exact[r.PathSpec.Value] = append(idx.exact[r.PathSpec.Value], r)
		case predicate.PathPrefix:
			idx.insertPrefix(r.PathSpec.Value, r)
		default:
			// Regex, Contains, EndsWith, Any: cannot be shaped into an
			// exact key or a prefix walk without risking a missed match,
			// so they sit in the residual list, which every lookup
			// appends unconditionally (§4.2 step 3). The index is
			// explicitly allowed to over-approximate.
			idx.residual = append(idx.residual, r)
		}
	}
	return idx
}

func (idx *Index) insertPrefix(prefix string, r *fault.Rule) {
	node := idx.trie
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		child, ok := node.children[c]
		if !ok {
			child = newTrieNode()
			node.children[c] = child
		}
		node = child
	}
	node.rules = append(node.rules, r)
}

// Lookup returns every rule whose path-shape could plausibly match path, in
// configuration order. The index may over-approximate (return rules whose
// full predicate subsequently fails) but must never omit a true match
// (§4.2, §8 "Rule index soundness").
func (idx *Index) Lookup(path string) []*fault.Rule {
	seen := make(map[*fault.Rule]bool)
	var candidates []*fault.Rule

	add := func(rs []*fault.Rule) {
		for _, r := range rs {
			if !seen[r] {
				seen[r] = true
				candidates = append(candidates, r)
			}
		}
	}

	add(idx.exact[path])
	add(idx.walkTriePrefixes(path))
	add(idx.residual)

	order := idx.order
	sortByOrder(candidates, order)
	return candidates
}

// walkTriePrefixes returns every rule registered at any prefix of path that
// the trie recognizes (not just the longest), preserving the "ordered
// candidate set" contract: a shorter registered prefix can legitimately
// precede a longer one in configuration order.
func (idx *Index) walkTriePrefixes(path string) []*fault.Rule {
	var out []*fault.Rule
	node := idx.trie
	for i := 0; i < len(path); i++ {
		child, ok := node.children[path[i]]
		if !ok {
			break
		}
		node = child
		if len(node.rules) > 0 {
			out = append(out, node.rules...)
		}
	}
	return out
}

func sortByOrder(rules []*fault.Rule, order map[*fault.Rule]int) {
	// Insertion sort: candidate sets are small (bounded by rule count at a
	// given path shape), and this keeps the index allocation-free beyond
	// the slice itself.
	for i := 1; i < len(rules); i++ {
		j := i
		for j > 0 && order[rules[j-1]] > order[rules[j]] {
			rules[j-1], rules[j] = rules[j], rules[j-1]
			j--
		}
	}
}
