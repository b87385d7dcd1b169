package predicate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

// Node is a compiled evaluator in the predicate tree. Compiled nodes are
// immutable and safe for concurrent evaluation across requests (§9
// "compiled-tree sharing").
type Node interface {
	Match(f *request.Facets) bool
}

// --- Logical combinators (§3 LogicalMatcher) ---

type notNode struct{ inner Node }

func (n *notNode) Match(f *request.Facets) bool { return !n.inner.Match(f) }

// Not builds a strict-negation node.
func Not(inner Node) Node { return &notNode{inner: inner} }

type andNode struct{ children []Node }

func (n *andNode) Match(f *request.Facets) bool {
	for _, c := range n.children {
		if !c.Match(f) {
			return false
		}
	}
	return true
}

// And builds a short-circuiting conjunction, evaluated left-to-right.
func And(children ...Node) Node { return &andNode{children: children} }

type orNode struct{ children []Node }

func (n *orNode) Match(f *request.Facets) bool {
	for _, c := range n.children {
		if c.Match(f) {
			return true
		}
	}
	return false
}

// Or builds a short-circuiting disjunction, evaluated left-to-right.
func Or(children ...Node) Node { return &orNode{children: children} }

// --- PathMatcher (§3) ---

// PathKind enumerates PathMatcher variants.
type PathKind int

const (
	PathAny PathKind = iota
	PathExact
	PathPrefix
	PathRegex
	PathContains
	PathEndsWith
)

type pathNode struct {
	kind    PathKind
	operand string
	pattern *regexp.Regexp
	opts    Options
}

// CompilePath compiles a PathMatcher. operand is ignored for PathAny.
func CompilePath(kind PathKind, operand string, opts Options) (Node, error) {
	n := &pathNode{kind: kind, opts: opts}
	switch kind {
	case PathAny:
	case PathRegex:
		pattern := operand
		if !opts.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", operand, err)
		}
		n.pattern = re
	default:
		n.operand = normalize(operand, opts.CaseSensitive)
	}
	return n, nil
}

func (n *pathNode) Match(f *request.Facets) bool {
	path := f.Path
	if n.opts.Except != nil {
		path = n.opts.Except.ReplaceAllString(path, "")
	}
	norm := normalize(path, n.opts.CaseSensitive)
	switch n.kind {
	case PathAny:
		return true
	case PathExact:
		return norm == n.operand
	case PathPrefix:
		return strings.HasPrefix(norm, n.operand)
	case PathContains:
		return strings.Contains(norm, n.operand)
	case PathEndsWith:
		return strings.HasSuffix(norm, n.operand)
	case PathRegex:
		return n.pattern.MatchString(path)
	}
	return false
}

// --- FieldMatcher over method/headers/query (§3) ---

type methodNode struct{ matcher *StringMatcher }

// Method compiles a matcher against the uppercased method facet.
func Method(m *StringMatcher) Node { return &methodNode{matcher: m} }

func (n *methodNode) Match(f *request.Facets) bool {
	return n.matcher.MatchString(f.Method, true)
}

// HeaderField matches a named header. Header name lookup is
// case-insensitive regardless of the matcher's CaseSensitive option (which
// governs value comparison only), per §3 FieldMatcher.
type headerNode struct {
	name    string
	matcher *StringMatcher
}

func HeaderField(name string, m *StringMatcher) Node {
	return &headerNode{name: name, matcher: m}
}

func (n *headerNode) Match(f *request.Facets) bool {
	v, ok := f.HeaderValue(n.name)
	if ok {
		return n.matcher.MatchString(v, true)
	}
	return n.matcher.MatchString("", false)
}

// QueryField matches a named query parameter. Query name lookup is
// case-sensitive (§3 FieldMatcher). Multi-valued params: matches if
// any occurrence equals (§4.1 deep-equals-for-query-and-headers note,
// generalized to every StringMatcher kind).
type queryNode struct {
	name    string
	matcher *StringMatcher
}

func QueryField(name string, m *StringMatcher) Node {
	return &queryNode{name: name, matcher: m}
}

func (n *queryNode) Match(f *request.Facets) bool {
	values, ok := f.QueryMap()[n.name]
	if !ok || len(values) == 0 {
		return n.matcher.MatchString("", false)
	}
	for _, v := range values {
		if n.matcher.MatchString(v, true) {
			return true
		}
	}
	return false
}

// --- BodyMatcher (§3) ---

type rawBodyNode struct{ matcher *StringMatcher }

// RawBody matches the body's lazily-decoded UTF-8 text directly. A non-UTF8
// body is treated as "no match", never an error (facet-view invariant).
func RawBody(m *StringMatcher) Node { return &rawBodyNode{matcher: m} }

func (n *rawBodyNode) Match(f *request.Facets) bool {
	text, ok := f.Text()
	return n.matcher.MatchString(text, ok)
}

type jsonPathBodyNode struct {
	selector string
	inner    *StringMatcher
}

// JSONPathBody extracts a scalar via a `$`/`.field`/`[index]` selector from
// the lazily-parsed JSON body, then delegates to inner.
func JSONPathBody(selector string, inner *StringMatcher) Node {
	return &jsonPathBodyNode{selector: selector, inner: inner}
}

func (n *jsonPathBodyNode) Match(f *request.Facets) bool {
	doc, ok := f.JSON()
	if !ok {
		return n.inner.MatchString("", false)
	}
	v, found := EvalJSONPath(doc, n.selector)
	if !found {
		return n.inner.MatchString("", false)
	}
	return n.inner.MatchValue(v, true)
}

type xPathBodyNode struct {
	selector string
	inner    *StringMatcher
}

// XPathBody evaluates an XPath selector against the lazily-parsed XML
// document; a nodeset yields the first node's string value.
func XPathBody(selector string, inner *StringMatcher) Node {
	return &xPathBodyNode{selector: selector, inner: inner}
}

func (n *xPathBodyNode) Match(f *request.Facets) bool {
	doc, ok := f.XML()
	if !ok {
		return n.inner.MatchString("", false)
	}
	node := xmlquery.FindOne(doc, n.selector)
	if node == nil {
		return n.inner.MatchString("", false)
	}
	return n.inner.MatchString(node.InnerText(), true)
}
