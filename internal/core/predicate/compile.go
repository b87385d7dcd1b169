package predicate

import (
	"fmt"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

// StringMatcherSpec is the declarative (pre-compile) shape of a StringMatcher,
// the form configuration and generated predicates are expressed in before
// compilation. Exactly one of the value fields is meaningful, selected by
// Kind.
type StringMatcherSpec struct {
	Kind          Kind
	Value         string
	ExistsValue   bool
	DeepValue     interface{}
	CaseSensitive *bool // nil inherits RequestPredicate's default
	Except        string
}

// FieldSpec is a declarative FieldMatcher: a name plus either an implicit
// Equals (Value set, Matcher nil) or an explicit StringMatcher.
type FieldSpec struct {
	Name    string
	Value   string
	Matcher *StringMatcherSpec
}

// PathSpec is a declarative PathMatcher.
type PathSpec struct {
	Kind PathKind
	// Any is the zero value so an empty PathSpec matches everything.
	Value string
}

// BodyKind enumerates BodyMatcher variants.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyRaw
	BodyJSONPath
	BodyXPath
)

// BodySpec is a declarative BodyMatcher.
type BodySpec struct {
	Kind     BodyKind
	Selector string // for JSONPath/XPath
	Inner    StringMatcherSpec
}

// RequestPredicateSpec is the declarative form of §3's RequestPredicate:
// optional method/path/body matchers plus header/query field-matcher lists, a
// global case-sensitivity default, and an optional logical wrapper (Not/And/
// Or over child specs) for composing multiple predicates.
type RequestPredicateSpec struct {
	CaseSensitive bool // propagated to leaves unless a leaf overrides it

	Method  *StringMatcherSpec
	Path    *PathSpec
	Body    *BodySpec
	Headers []FieldSpec
	Query   []FieldSpec

	// Logical composition: when set, Op combines Children (each a nested
	// RequestPredicateSpec) instead of evaluating the fields above. A leaf
	// spec (the common case) leaves Op unset.
	Op       LogicalOp
	Children []RequestPredicateSpec
}

// LogicalOp enumerates LogicalMatcher combinators for composed predicates.
type LogicalOp int

const (
	OpLeaf LogicalOp = iota
	OpNot
	OpAnd
	OpOr
)

// Compile turns a RequestPredicateSpec into an immutable, concurrency-safe
// evaluation tree. Regex/pattern compile failures are returned here, never
// deferred to evaluation (§4.1 error mode).
func Compile(spec RequestPredicateSpec) (Node, error) {
	switch spec.Op {
	case OpNot:
		if len(spec.Children) != 1 {
			return nil, fmt.Errorf("predicate: not requires exactly one child")
		}
		child, err := Compile(spec.Children[0])
		if err != nil {
			return nil, err
		}
		return Not(child), nil
	case OpAnd:
		children, err := compileChildren(spec.Children)
		if err != nil {
			return nil, err
		}
		return And(children...), nil
	case OpOr:
		children, err := compileChildren(spec.Children)
		if err != nil {
			return nil, err
		}
		return Or(children...), nil
	}

	var nodes []Node

	if spec.Method != nil {
		m, err := compileStringMatcher(*spec.Method, spec.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("predicate: method: %w", err)
		}
		nodes = append(nodes, Method(m))
	}

	if spec.Path != nil {
		opts := Options{CaseSensitive: spec.CaseSensitive}
		n, err := CompilePath(spec.Path.Kind, spec.Path.Value, opts)
		if err != nil {
			return nil, fmt.Errorf("predicate: path: %w", err)
		}
		nodes = append(nodes, n)
	}

	if spec.Body != nil {
		n, err := compileBody(*spec.Body, spec.CaseSensitive)
		if err != nil {
			return nil, fmt.Errorf("predicate: body: %w", err)
		}
		nodes = append(nodes, n)
	}

	for _, h := range spec.Headers {
		n, err := compileField(h, spec.CaseSensitive, HeaderField)
		if err != nil {
			return nil, fmt.Errorf("predicate: header %q: %w", h.Name, err)
		}
		nodes = append(nodes, n)
	}

	for _, q := range spec.Query {
		n, err := compileField(q, spec.CaseSensitive, QueryField)
		if err != nil {
			return nil, fmt.Errorf("predicate: query %q: %w", q.Name, err)
		}
		nodes = append(nodes, n)
	}

	if len(nodes) == 0 {
		return alwaysTrue{}, nil
	}
	return And(nodes...), nil
}

type alwaysTrue struct{}

func (alwaysTrue) Match(*request.Facets) bool { return true }

func compileChildren(specs []RequestPredicateSpec) ([]Node, error) {
	nodes := make([]Node, 0, len(specs))
	for i, s := range specs {
		n, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func compileField(f FieldSpec, defaultCaseSensitive bool, build func(string, *StringMatcher) Node) (Node, error) {
	var spec StringMatcherSpec
	if f.Matcher != nil {
		spec = *f.Matcher
	} else {
		spec = StringMatcherSpec{Kind: Equals, Value: f.Value}
	}
	m, err := compileStringMatcher(spec, defaultCaseSensitive)
	if err != nil {
		return nil, err
	}
	return build(f.Name, m), nil
}

func compileStringMatcher(spec StringMatcherSpec, defaultCaseSensitive bool) (*StringMatcher, error) {
	caseSensitive := defaultCaseSensitive
	if spec.CaseSensitive != nil {
		caseSensitive = *spec.CaseSensitive
	}
	opts := Options{CaseSensitive: caseSensitive}
	if spec.Except != "" {
		exceptOpts := Options{CaseSensitive: true}
		exceptMatcher, err := CompileString(Matches, spec.Except, exceptOpts)
		if err != nil {
			return nil, fmt.Errorf("except: %w", err)
		}
		opts.Except = exceptMatcher.pattern
	}

	if spec.Kind == Exists {
		return CompileExists(spec.ExistsValue), nil
	}
	if spec.Kind == DeepEquals && spec.DeepValue != nil {
		return CompileDeepEquals(spec.DeepValue, opts), nil
	}
	return CompileString(spec.Kind, spec.Value, opts)
}

func compileBody(spec BodySpec, defaultCaseSensitive bool) (Node, error) {
	inner, err := compileStringMatcher(spec.Inner, defaultCaseSensitive)
	if err != nil {
		return nil, fmt.Errorf("inner: %w", err)
	}
	switch spec.Kind {
	case BodyRaw:
		return RawBody(inner), nil
	case BodyJSONPath:
		return JSONPathBody(spec.Selector, inner), nil
	case BodyXPath:
		return XPathBody(spec.Selector, inner), nil
	}
	return RawBody(inner), nil
}
