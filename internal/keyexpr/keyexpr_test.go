package keyexpr

import (
	"reflect"
	"regexp"
	"testing"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		exprs  []string
		strict bool
		want   string
	}{
		{
			name:  "literal",
			exprs: []string{"a/b"},
			want:  `^a\/b$`,
		},
		{
			name:  "single wildcard collapses by default",
			exprs: []string{"a/*"},
			want:  `^a\/.*$`,
		},
		{
			name:   "single wildcard strict",
			exprs:  []string{"a/*"},
			strict: true,
			want:   `^a\/[^/]*$`,
		},
		{
			name:  "double wildcard",
			exprs: []string{"a/**"},
			want:  `^a\/.*$`,
		},
		{
			name:   "double wildcard stays multi-segment in strict mode",
			exprs:  []string{"a/**/b"},
			strict: true,
			want:   `^a\/.*\/b$`,
		},
		{
			name:  "union of sub expressions",
			exprs: []string{"a/b", "*/c"},
			want:  `^a\/b$|^.*\/c$`,
		},
		{
			name:  "other characters pass through unescaped",
			exprs: []string{"a/b.c"},
			want:  `^a\/b.c$`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.exprs, tt.strict)
			if got != tt.want {
				t.Errorf("Translate(%v) = %q, want %q", tt.exprs, got, tt.want)
			}
			if _, err := regexp.Compile(got); err != nil {
				t.Errorf("Translate(%v) produced invalid regexp: %v", tt.exprs, err)
			}
		})
	}
}

func TestTranslate_Idempotent(t *testing.T) {
	exprs := []string{"a/**/b", "x/*", "literal/path"}
	first := Translate(exprs, false)
	second := Translate(exprs, false)
	if first != second {
		t.Errorf("translation not deterministic: %q vs %q", first, second)
	}
}

func TestTranslate_MatchSemantics(t *testing.T) {
	tests := []struct {
		expr   string
		strict bool
		key    string
		match  bool
	}{
		{"a/*", false, "a/b", true},
		// The default mode collapses '*' to '.*', so it over-matches
		// across segment boundaries.
		{"a/*", false, "a/b/c", true},
		{"a/*", true, "a/b", true},
		{"a/*", true, "a/b/c", false},
		{"a/**", true, "a/b/c", true},
		{"a/**/d", true, "a/b/c/d", true},
		{"a/b", false, "a/b", true},
		{"a/b", false, "a/bc", false},
	}

	for _, tt := range tests {
		re := regexp.MustCompile(Translate([]string{tt.expr}, tt.strict))
		if got := re.MatchString(tt.key); got != tt.match {
			t.Errorf("Translate(%q, strict=%v) match %q = %v, want %v",
				tt.expr, tt.strict, tt.key, got, tt.match)
		}
	}
}

func TestSubExprs(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		prefix string
		want   []string
	}{
		{
			name:   "no prefix",
			expr:   "a/*",
			prefix: "",
			want:   []string{"a/*"},
		},
		{
			name:   "literal prefix with trailing slash",
			expr:   "demo/example/**",
			prefix: "demo/example/",
			want:   []string{"**"},
		},
		{
			name:   "literal prefix without trailing slash",
			expr:   "a/*",
			prefix: "a",
			want:   []string{"/*"},
		},
		{
			name:   "wildcard consumes prefix segment",
			expr:   "*/b",
			prefix: "a",
			want:   []string{"/b"},
		},
		{
			name:   "double wildcard subsumes everything",
			expr:   "a/**",
			prefix: "a/b/c",
			want:   []string{"**"},
		},
		{
			name:   "double wildcard spanning boundary",
			expr:   "a/**/z",
			prefix: "a/b/",
			want:   []string{"**/z"},
		},
		{
			name:   "disjoint expression",
			expr:   "x/y",
			prefix: "a/",
			want:   nil,
		},
		{
			name:   "partial segment wildcard",
			expr:   "dev*/sensor/*",
			prefix: "device1/",
			want:   []string{"sensor/*"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubExprs(tt.expr, tt.prefix)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SubExprs(%q, %q) = %v, want %v", tt.expr, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestSegMatch(t *testing.T) {
	tests := []struct {
		pat, lit string
		want     bool
	}{
		{"a", "a", true},
		{"a", "b", false},
		{"*", "anything", true},
		{"*", "", true},
		{"a*", "abc", true},
		{"a*c", "abc", true},
		{"a*c", "ab", false},
		{"*b*", "abc", true},
		{"", "", true},
		{"", "a", false},
	}

	for _, tt := range tests {
		if got := segMatch(tt.pat, tt.lit); got != tt.want {
			t.Errorf("segMatch(%q, %q) = %v, want %v", tt.pat, tt.lit, got, tt.want)
		}
	}
}
