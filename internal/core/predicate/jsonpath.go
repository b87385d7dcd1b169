package predicate

import "strings"

// EvalJSONPath evaluates a small JSONPath subset ($ , .field, [index],
// [*] wildcard) against a decoded JSON value, returning the raw decoded
// value (not a string) so DeepEquals can compare structurally. Scalars and
// composite results are both returned; callers needing a string coerce via
// coerceToString.
func EvalJSONPath(data interface{}, path string) (interface{}, bool) {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return data, true
	}
	return navigate(data, path)
}

func navigate(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return data, true
	}
	segment, rest := nextSegment(path)

	switch d := data.(type) {
	case map[string]interface{}:
		if strings.HasPrefix(segment, "[") {
			key := strings.Trim(strings.Trim(segment, "[]"), `"'`)
			v, ok := d[key]
			if !ok {
				return nil, false
			}
			return navigate(v, rest)
		}
		if segment == "*" {
			var results []interface{}
			for _, v := range d {
				if rv, ok := navigate(v, rest); ok {
					results = append(results, rv)
				}
			}
			if len(results) == 1 {
				return results[0], true
			}
			return results, len(results) > 0
		}
		v, ok := d[segment]
		if !ok {
			return nil, false
		}
		return navigate(v, rest)

	case []interface{}:
		if !strings.HasPrefix(segment, "[") {
			return nil, false
		}
		idxStr := strings.Trim(segment, "[]")
		if idxStr == "*" {
			var results []interface{}
			for _, v := range d {
				if rv, ok := navigate(v, rest); ok {
					results = append(results, rv)
				}
			}
			return results, len(results) > 0
		}
		idx, ok := parseIndex(idxStr, len(d))
		if !ok {
			return nil, false
		}
		return navigate(d[idx], rest)
	}
	return nil, false
}

func nextSegment(path string) (segment, rest string) {
	if strings.HasPrefix(path, "[") {
		end := strings.Index(path, "]")
		if end < 0 {
			return path, ""
		}
		segment = path[:end+1]
		rest = strings.TrimPrefix(path[end+1:], ".")
		return segment, rest
	}
	dot := strings.IndexAny(path, ".[")
	if dot < 0 {
		return path, ""
	}
	segment = path[:dot]
	if path[dot] == '.' {
		rest = path[dot+1:]
	} else {
		rest = path[dot:]
	}
	return segment, rest
}

func parseIndex(s string, length int) (int, bool) {
	neg := strings.HasPrefix(s, "-")
	n := 0
	digits := s
	if neg {
		digits = s[1:]
	}
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = length - n
	}
	if n < 0 || n >= length {
		return 0, false
	}
	return n, true
}
