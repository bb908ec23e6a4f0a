// Package jsonpathx implements the small JSONPath subset the composition
// core needs for output transforms and predicates: dotted field access,
// numeric/wildcard array indexing, and the root selector. It is not a
// general JSONPath engine: expressions are parsed once at compile time
// into a reusable Expr and evaluated many times against decoded JSON
// values (map[string]any / []any / scalars), never against raw bytes.
package jsonpathx

import (
	"fmt"
	"strconv"
	"strings"
)

// segmentKind enumerates the closed set of path segment shapes this
// package understands.
type segmentKind int

const (
	segField segmentKind = iota
	segIndex
	segWildcard
)

type segment struct {
	kind  segmentKind
	field string
	index int
}

// Expr is a pre-parsed JSONPath expression. Construct with Parse; Expr
// values are immutable and safe for concurrent use.
type Expr struct {
	raw      string
	segments []segment
}

// String returns the original path text.
func (e *Expr) String() string { return e.raw }

// Parse compiles a JSONPath expression of the form "$.a.b[0].c[*].d".
// The leading "$" is optional; a bare "$" or "" selects the root value.
func Parse(path string) (*Expr, error) {
	raw := path
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	if p == "" {
		return &Expr{raw: raw}, nil
	}
	if !strings.HasPrefix(p, ".") && !strings.HasPrefix(p, "[") {
		return nil, fmt.Errorf("jsonpathx: path %q must start with '$.' or '$['", raw)
	}

	var segs []segment
	i := 0
	for i < len(p) {
		switch p[i] {
		case '.':
			i++
			start := i
			for i < len(p) && p[i] != '.' && p[i] != '[' {
				i++
			}
			field := p[start:i]
			if field == "" {
				return nil, fmt.Errorf("jsonpathx: empty field in path %q", raw)
			}
			segs = append(segs, segment{kind: segField, field: field})
		case '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("jsonpathx: unterminated '[' in path %q", raw)
			}
			inner := p[i+1 : i+end]
			i += end + 1
			if inner == "*" {
				segs = append(segs, segment{kind: segWildcard})
				continue
			}
			inner = strings.Trim(inner, `'"`)
			n, err := strconv.Atoi(inner)
			if err != nil {
				return nil, fmt.Errorf("jsonpathx: invalid index %q in path %q", inner, raw)
			}
			segs = append(segs, segment{kind: segIndex, index: n})
		default:
			return nil, fmt.Errorf("jsonpathx: unexpected character %q in path %q", p[i], raw)
		}
	}
	return &Expr{raw: raw, segments: segs}, nil
}

// MustParse is Parse but panics on error; intended for literal expressions
// known at compile time (e.g. registry compile-time path pre-parsing already
// surfaces the error, callers constructing ad-hoc expressions in tests use
// this for brevity).
func MustParse(path string) *Expr {
	e, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval evaluates the expression against a decoded JSON value. It returns:
//   - (nil, false) when the path does not match anything ("no match")
//   - (value, true) when exactly one value matched
//   - ([]any{...}, true) when more than one value matched (wildcard or
//     an array segment that fanned out across multiple elements)
//
// This matches the schema-map Path contract: null on no match, the
// single value on one match, an array on multiple.
func (e *Expr) Eval(root any) (any, bool) {
	results := evalSegments(root, e.segments)
	switch len(results) {
	case 0:
		return nil, false
	case 1:
		return results[0], true
	default:
		return results, true
	}
}

// First behaves like Eval but always collapses a multi-match result to
// its first element; used by predicate evaluation, which operates on a
// single field value.
func (e *Expr) First(root any) (any, bool) {
	results := evalSegments(root, e.segments)
	if len(results) == 0 {
		return nil, false
	}
	if arr, ok := results[0].([]any); ok && len(results) == 1 && len(e.wildcardTail()) > 0 {
		if len(arr) == 0 {
			return nil, false
		}
		return arr[0], true
	}
	return results[0], true
}

func (e *Expr) wildcardTail() []segment {
	for _, s := range e.segments {
		if s.kind == segWildcard {
			return []segment{s}
		}
	}
	return nil
}

func evalSegments(root any, segs []segment) []any {
	cur := []any{root}
	for _, s := range segs {
		var next []any
		for _, v := range cur {
			switch s.kind {
			case segField:
				m, ok := v.(map[string]any)
				if !ok {
					continue
				}
				if fv, ok := m[s.field]; ok {
					next = append(next, fv)
				}
			case segIndex:
				arr, ok := v.([]any)
				if !ok {
					continue
				}
				idx := s.index
				if idx < 0 {
					idx += len(arr)
				}
				if idx < 0 || idx >= len(arr) {
					continue
				}
				next = append(next, arr[idx])
			case segWildcard:
				switch t := v.(type) {
				case []any:
					next = append(next, t...)
				case map[string]any:
					for _, fv := range t {
						next = append(next, fv)
					}
				}
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	return cur
}

// Get is a convenience one-shot helper that parses and evaluates path in a
// single call. Prefer Parse+Eval on any hot path; this exists for call
// sites that only ever evaluate a path once (e.g. one-off tests).
func Get(root any, path string) (any, bool, error) {
	e, err := Parse(path)
	if err != nil {
		return nil, false, err
	}
	v, ok := e.Eval(root)
	return v, ok, nil
}
