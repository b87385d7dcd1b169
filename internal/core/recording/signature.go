// Package recording implements §4.7: the RequestSignature -> recorded
// response store behind proxyOnce/proxyAlways/proxyTransparent, and
// generate_stub for turning a recorded pair back into a Mountebank-style
// stub.
package recording

import (
	"sort"
	"strings"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

// Signature is the canonical recording key: method, path, canonicalized
// query, and a filtered, order-preserving list of headers (§3
// "RequestSignature").
type Signature struct {
	Method  string
	Path    string
	Query   string
	Headers string // pre-joined "name:value|name:value" in stub-declared order
}

// Fields selects which parts of a request feed the signature, mirroring
// §4.7 step 1's predicate_generators ("which fields to include: method,
// path, query, named headers").
type Fields struct {
	IncludeMethod bool
	IncludePath   bool
	IncludeQuery  bool
	Headers       []string // named headers to include, in this order
}

// Build derives a Signature from facets per the given Fields selection.
func Build(f *request.Facets, fields Fields) Signature {
	sig := Signature{}
	if fields.IncludeMethod {
		sig.Method = strings.ToUpper(f.Method)
	}
	if fields.IncludePath {
		sig.Path = f.Path
	}
	if fields.IncludeQuery {
		sig.Query = canonicalQuery(f)
	}
	if len(fields.Headers) > 0 {
		var parts []string
		for _, name := range fields.Headers {
			if v, ok := f.HeaderValue(name); ok {
				parts = append(parts, strings.ToLower(name)+":"+v)
			}
		}
		sig.Headers = strings.Join(parts, "|")
	}
	return sig
}

// canonicalQuery sorts query pairs by name so two requests whose query
// string differs only in parameter order produce the same signature.
func canonicalQuery(f *request.Facets) string {
	pairs := make([]string, 0, len(f.Query))
	for _, q := range f.Query {
		pairs = append(pairs, q.Name+"="+q.Value)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// Key renders the signature into the string used as the store's map key.
func (s Signature) Key() string {
	return s.Method + "\x00" + s.Path + "\x00" + s.Query + "\x00" + s.Headers
}
