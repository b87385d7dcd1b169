// Package request projects an inbound HTTP request into the facet view the
// predicate engine, rule index, and fault decider evaluate against.
package request

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/antchfx/xmlquery"
)

// QueryPair preserves declaration order alongside a map view.
type QueryPair struct {
	Name  string
	Value string
}

// Facets is the projected view of a single request, computed once per
// request and shared read-only across predicate evaluation, rule lookup,
// and script execution. Lazy fields (Text/JSON/XML) are computed at most
// once, guarded by sync.Once, since a request may be evaluated against many
// predicates before a response is produced.
type Facets struct {
	Method  string
	Path    string
	Query   []QueryPair
	queryMu sync.Once
	queryM  map[string][]string

	// Headers preserves original case for response use while offering
	// case-insensitive lookup via HeaderValues.
	Headers      []HeaderPair
	headerLookup map[string][]string

	Body []byte

	textOnce sync.Once
	text     string
	textOK   bool

	jsonOnce sync.Once
	jsonVal  interface{}
	jsonOK   bool

	xmlOnce sync.Once
	xmlDoc  *xmlquery.Node
	xmlOK   bool
}

// HeaderPair is one wire header, in original case.
type HeaderPair struct {
	Name  string
	Value string
}

// FromHTTP projects an *http.Request into Facets. The body must already be
// read into memory by the caller (the pipeline reads it once up front so it
// can also be forwarded upstream or recorded).
func FromHTTP(r *http.Request, body []byte) *Facets {
	f := &Facets{
		Method: strings.ToUpper(r.Method),
		Path:   decodedPath(r.URL),
		Body:   body,
	}

	for _, part := range strings.Split(r.URL.RawQuery, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		f.Query = append(f.Query, QueryPair{Name: k, Value: v})
	}

	f.headerLookup = make(map[string][]string, len(r.Header))
	for k, vs := range r.Header {
		lower := strings.ToLower(k)
		for _, v := range vs {
			f.Headers = append(f.Headers, HeaderPair{Name: k, Value: v})
			f.headerLookup[lower] = append(f.headerLookup[lower], v)
		}
	}

	return f
}

func decodedPath(u *url.URL) string {
	if p, err := url.PathUnescape(u.EscapedPath()); err == nil {
		return p
	}
	return u.Path
}

// QueryMap returns a map view of the query pairs holding every value of
// each name in declaration order, computed once and cached.
func (f *Facets) QueryMap() map[string][]string {
	f.queryMu.Do(func() {
		f.queryM = make(map[string][]string, len(f.Query))
		for _, p := range f.Query {
			f.queryM[p.Name] = append(f.queryM[p.Name], p.Value)
		}
	})
	return f.queryM
}

// HeaderValues looks up a header case-insensitively.
func (f *Facets) HeaderValues(name string) ([]string, bool) {
	vs, ok := f.headerLookup[strings.ToLower(name)]
	return vs, ok
}

// HeaderValue returns the first value for a case-insensitive header lookup.
func (f *Facets) HeaderValue(name string) (string, bool) {
	vs, ok := f.HeaderValues(name)
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Text lazily decodes the body as UTF-8 text. ok is false for non-UTF8
// bodies; matchers must treat that as "no match", never an error, per the
// facet-view invariant.
func (f *Facets) Text() (string, bool) {
	f.textOnce.Do(func() {
		if isValidUTF8(f.Body) {
			f.text = string(f.Body)
			f.textOK = true
		}
	})
	return f.text, f.textOK
}

// JSON lazily parses the body as JSON.
func (f *Facets) JSON() (interface{}, bool) {
	f.jsonOnce.Do(func() {
		if len(f.Body) == 0 {
			return
		}
		var v interface{}
		if err := json.Unmarshal(f.Body, &v); err == nil {
			f.jsonVal = v
			f.jsonOK = true
		}
	})
	return f.jsonVal, f.jsonOK
}

// XML lazily parses the body as an XML document.
func (f *Facets) XML() (*xmlquery.Node, bool) {
	f.xmlOnce.Do(func() {
		if len(f.Body) == 0 {
			return
		}
		doc, err := xmlquery.Parse(strings.NewReader(string(f.Body)))
		if err == nil {
			f.xmlDoc = doc
			f.xmlOK = true
		}
	})
	return f.xmlDoc, f.xmlOK
}

func isValidUTF8(b []byte) bool {
	return len(b) == 0 || utf8.Valid(b)
}
