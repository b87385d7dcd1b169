package fault

import (
	"regexp"
	"strings"

	"github.com/TetsujinOni/go-tartuffe/internal/core/request"
)

// ApplyCopy runs an ErrorFault's copy behaviors against facets and returns
// body with each behavior's Into token replaced by the extracted value
// (§4.6 "copy", applied to synthesized error responses per §9 scenario 2).
func ApplyCopy(body string, copies []CopyBehavior, f *request.Facets) string {
	for _, c := range copies {
		if c.Into == "" {
			continue
		}
		val := copySource(f, c.From)
		if c.Method == "regex" && c.Selector != "" {
			if re, err := regexp.Compile(c.Selector); err == nil {
				if m := re.FindStringSubmatch(val); m != nil {
					if len(m) > 1 {
						val = m[1]
					} else {
						val = m[0]
					}
				} else {
					val = ""
				}
			}
		}
		body = strings.ReplaceAll(body, c.Into, val)
	}
	return body
}

func copySource(f *request.Facets, from string) string {
	switch {
	case from == "path":
		return f.Path
	case from == "method":
		return f.Method
	case from == "body":
		text, _ := f.Text()
		return text
	case strings.HasPrefix(from, "query."):
		name := strings.TrimPrefix(from, "query.")
		if vs, ok := f.QueryMap()[name]; ok && len(vs) > 0 {
			return vs[0]
		}
	case strings.HasPrefix(from, "headers."):
		name := strings.TrimPrefix(from, "headers.")
		if v, ok := f.HeaderValue(name); ok {
			return v
		}
	}
	return ""
}
