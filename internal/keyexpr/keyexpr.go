// Package keyexpr translates hierarchical key expressions into the
// store's native matching syntax.
//
// A key expression is a '/'-delimited path that may contain wildcards:
// '*' matches one path segment and '**' matches any number of segments.
// Translate produces a regular expression for DuckDB's regexp_matches;
// SubExprs rewrites a prefixed expression into the set of prefix-relative
// sub-expressions matching the stored (prefix-stripped) series names.
package keyexpr

import (
	"strings"
)

// Translate converts key expressions into a single anchored regular
// expression that is the union of the translated expressions.
//
// Translation per expression: '**' becomes ".*", '*' becomes ".*" as well
// (or "[^/]*" in strict mode, which keeps the single-segment meaning),
// '/' is escaped, and every other character passes through unescaped, so
// malformed expressions degrade to literal matches. The result is
// deterministic: the same input always yields the same pattern.
func Translate(exprs []string, strict bool) string {
	var b strings.Builder
	b.Grow(2 * len(strings.Join(exprs, "")))

	for i, expr := range exprs {
		if i != 0 {
			b.WriteByte('|')
		}
		b.WriteByte('^')
		for j := 0; j < len(expr); j++ {
			switch expr[j] {
			case '*':
				if j+1 < len(expr) && expr[j+1] == '*' {
					b.WriteString(".*")
					j++
				} else if strict {
					b.WriteString("[^/]*")
				} else {
					b.WriteString(".*")
				}
			case '/':
				b.WriteString(`\/`)
			default:
				b.WriteByte(expr[j])
			}
		}
		b.WriteByte('$')
	}

	return b.String()
}

// SubExprs expands a key expression into the sub-expressions that match
// the same stored series names, given that the literal prefix has been
// stripped from series names at write time.
//
// With an empty prefix the expression is returned as-is. If the
// expression cannot match any key under the prefix, the result is empty.
// A "**" that spans the prefix boundary is preserved in the
// sub-expression; a sub-expression of exactly "**" subsumes all others.
func SubExprs(expr, prefix string) []string {
	if prefix == "" {
		return []string{expr}
	}
	if rest, ok := strings.CutPrefix(expr, prefix); ok {
		return []string{rest}
	}

	seen := make(map[string]bool)
	var out []string
	collect(expr, 0, prefix, 0, seen, &out)

	for _, s := range out {
		if s == "**" {
			return []string{"**"}
		}
	}
	return out
}

// collect walks expr and prefix segment by segment, emitting the
// expression remainder whenever the prefix is fully consumed.
func collect(expr string, i int, prefix string, j int, seen map[string]bool, out *[]string) {
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			*out = append(*out, s)
		}
	}

	if j >= len(prefix) {
		add(expr[i:])
		return
	}
	if i >= len(expr) {
		return
	}

	e := segEnd(expr, i)
	pe := segEnd(prefix, j)
	seg := expr[i:e]
	pseg := prefix[j:pe]

	if seg == "**" {
		// '**' can absorb the rest of the prefix and still extend past it.
		add(expr[i:])
		// '**' absorbs one prefix segment.
		collect(expr, i, prefix, skipSlash(prefix, pe), seen, out)
		// '**' matches zero segments.
		collect(expr, skipSlash(expr, e), prefix, j, seen, out)
		return
	}

	if !segMatch(seg, pseg) {
		return
	}
	if pe >= len(prefix) {
		// Prefix consumed mid-path: the remainder keeps its separator,
		// matching series names stripped of a prefix without a trailing '/'.
		add(expr[e:])
		return
	}
	collect(expr, skipSlash(expr, e), prefix, skipSlash(prefix, pe), seen, out)
}

// segEnd returns the index of the segment boundary at or after i.
func segEnd(s string, i int) int {
	if k := strings.IndexByte(s[i:], '/'); k >= 0 {
		return i + k
	}
	return len(s)
}

// skipSlash advances past a segment separator, if present.
func skipSlash(s string, i int) int {
	if i < len(s) && s[i] == '/' {
		return i + 1
	}
	return i
}

// segMatch matches a single-segment pattern (where '*' matches any run
// of characters) against a literal segment.
func segMatch(pat, lit string) bool {
	for len(pat) > 0 {
		if pat[0] == '*' {
			for len(pat) > 0 && pat[0] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 0 {
				return true
			}
			for k := 0; k <= len(lit); k++ {
				if segMatch(pat, lit[k:]) {
					return true
				}
			}
			return false
		}
		if len(lit) == 0 || pat[0] != lit[0] {
			return false
		}
		pat = pat[1:]
		lit = lit[1:]
	}
	return len(lit) == 0
}
