package keyexpr

import (
	"regexp"
	"strings"
)

// instantRE matches an RFC3339-like date-time substring, optionally
// already wrapped in single quotes.
var instantRE = regexp.MustCompile(`'?([0-9]{4}-[0-9]{2}-[0-9]{2}(?:[ T][0-9][0-9:.]*)?Z?)'?`)

// QuoteInstants wraps every RFC3339-like substring of a time bound in
// single quotes, as the store's time clauses require for absolute
// instants. Relative syntax around an instant (for example a trailing
// "- INTERVAL 1 HOUR") is left untouched, and an already-quoted instant
// is not re-quoted. A purely relative bound such as "now() - INTERVAL
// 1 HOUR" passes through unmodified.
func QuoteInstants(bound string) string {
	return instantRE.ReplaceAllString(bound, `'${1}'`)
}

// TimePredicate builds a native time predicate on the given column from
// optional start and stop bounds. Both bounds are inclusive. Bound
// values are free-form: either store-native relative expressions or
// absolute date-times, whose instant portions are quoted via
// QuoteInstants. An empty result means no time restriction was
// requested; the caller then applies latest-value semantics instead.
func TimePredicate(column, start, stop string) string {
	var clauses []string
	if start != "" {
		clauses = append(clauses, column+" >= "+QuoteInstants(start))
	}
	if stop != "" {
		clauses = append(clauses, column+" <= "+QuoteInstants(stop))
	}
	return strings.Join(clauses, " AND ")
}
