// Package query serves key-expression reads over the stored history.
//
// A query carries a hierarchical key expression plus optional time
// bounds. The expression is reduced to the portions this storage covers,
// translated into one native regular expression, and evaluated in a
// single store read. Without time bounds the result is the latest value
// per key; with bounds it is every matching point inside the range.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ryltsov/histkv/internal/keyexpr"
	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/store"
	"github.com/ryltsov/histkv/internal/storage/types"
	"github.com/ryltsov/histkv/internal/storage/value"
	"github.com/ryltsov/histkv/internal/timestamp"
)

// Options restricts a query to a time range. Bounds are free-form:
// absolute RFC3339-like instants or store-native relative expressions
// such as "now() - INTERVAL 1 HOUR". Both bounds are inclusive and
// either may be empty.
type Options struct {
	StartTime string
	StopTime  string
}

// Stats holds query statistics.
type Stats struct {
	Queries     atomic.Int64
	Inert       atomic.Int64 // queries with no intersection with this storage
	RowsSkipped atomic.Int64 // undecodable rows dropped from results
}

// ServiceStats is a point-in-time copy of the statistics.
type ServiceStats struct {
	Queries     int64
	Inert       int64
	RowsSkipped int64
}

// Service evaluates key-expression queries against the store.
type Service struct {
	store  *store.Store
	prefix string
	strict bool

	stats Stats
	log   *slog.Logger
}

// New creates a query service. prefix is re-added to series names on the
// way out so callers see full keys. strict selects single-segment
// semantics for the "*" wildcard.
func New(st *store.Store, prefix string, strict bool) *Service {
	return &Service{
		store:  st,
		prefix: prefix,
		strict: strict,
		log:    logging.Component("query"),
	}
}

// Query evaluates one key expression and returns a lazy result set. The
// caller must drain or close it. An expression with no intersection with
// this storage yields an empty result set without touching the store.
func (s *Service) Query(ctx context.Context, expr string, opts Options) (*ResultSet, error) {
	s.stats.Queries.Add(1)

	subs := keyexpr.SubExprs(expr, s.prefix)
	if len(subs) == 0 {
		s.stats.Inert.Add(1)
		s.log.Debug("expression does not intersect this storage", "expr", expr)
		return &ResultSet{}, nil
	}
	pattern := keyexpr.Translate(subs, s.strict)

	q := fmt.Sprintf(
		"SELECT series, stamp, encoding, base64, value FROM %s WHERE regexp_matches(series, ?) AND kind != ?",
		s.store.Table())
	if pred := keyexpr.TimePredicate("ts", opts.StartTime, opts.StopTime); pred != "" {
		q += " AND " + pred + " ORDER BY series, ts_ns"
	} else {
		// No time range: only the newest point of each key is visible.
		q += " QUALIFY row_number() OVER (PARTITION BY series ORDER BY ts_ns DESC) = 1"
	}

	rows, err := s.store.Select(ctx, q, pattern, types.TagDel)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", expr, err)
	}

	return &ResultSet{
		rows:    rows,
		prefix:  s.prefix,
		skipped: &s.stats.RowsSkipped,
		log:     s.log,
	}, nil
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Queries:     s.stats.Queries.Load(),
		Inert:       s.stats.Inert.Load(),
		RowsSkipped: s.stats.RowsSkipped.Load(),
	}
}

// ResultSet iterates over query results. Rows are fetched and decoded
// one at a time as Next advances; a row that fails to decode is logged
// and skipped rather than failing the whole query. The zero value is an
// exhausted, empty set.
type ResultSet struct {
	rows    *sql.Rows
	prefix  string
	cur     types.Entry
	err     error
	skipped *atomic.Int64
	log     *slog.Logger
}

// Next advances to the next entry. It returns false when the set is
// exhausted or iteration failed; check Err afterwards.
func (r *ResultSet) Next() bool {
	if r.rows == nil || r.err != nil {
		return false
	}
	for r.rows.Next() {
		var (
			series, stamp, val string
			encoding           int64
			b64                bool
		)
		if err := r.rows.Scan(&series, &stamp, &encoding, &b64, &val); err != nil {
			r.err = fmt.Errorf("scan result row: %w", err)
			return false
		}

		payload, err := value.Decode(val, b64)
		if err != nil {
			r.skipped.Add(1)
			r.log.Warn("skipping undecodable row", "series", series, "error", err)
			continue
		}
		ts, err := timestamp.Parse(stamp)
		if err != nil {
			r.skipped.Add(1)
			r.log.Warn("skipping row with corrupt timestamp", "series", series, "error", err)
			continue
		}

		r.cur = types.Entry{
			Key:       r.prefix + series,
			Payload:   payload,
			Encoding:  encoding,
			Timestamp: ts,
		}
		return true
	}
	r.err = r.rows.Err()
	return false
}

// Entry returns the entry Next advanced to.
func (r *ResultSet) Entry() types.Entry {
	return r.cur
}

// Err returns the first error hit during iteration, if any.
func (r *ResultSet) Err() error {
	return r.err
}

// Close releases the underlying rows. Safe on an exhausted or empty set.
func (r *ResultSet) Close() error {
	if r.rows == nil {
		return nil
	}
	return r.rows.Close()
}
