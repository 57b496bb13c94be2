// Package store implements the DuckDB access layer for the adapter.
//
// One table holds the full history: value rows (kind=PUT) and tombstone
// rows (kind=DEL) for every series. The store has no notion of the
// adapter's consistency rules; it only executes the row-level operations
// the ingestion, ledger, reclamation and query components are built on.
// All methods are context-aware.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	kverrors "github.com/ryltsov/histkv/internal/errors"
	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/config"
	"github.com/ryltsov/histkv/internal/storage/types"
)

// Row is one persisted history row.
type Row struct {
	// Series is the prefix-stripped key.
	Series string

	// Physical is the store's native time index, derived from the
	// logical timestamp's wall-clock component.
	Physical time.Time

	// Nanos is the exact wall-clock component in nanoseconds. The
	// TIMESTAMP column only keeps microseconds, so ordering-sensitive
	// operations use this column instead.
	Nanos int64

	// Kind is the row tag, types.TagPut or types.TagDel.
	Kind string

	// Stamp is the canonical form of the logical timestamp.
	Stamp string

	// Encoding, Base64 and Value describe the stored payload. Tombstone
	// rows carry no value.
	Encoding int64
	Base64   bool
	Value    string
}

// Store wraps one DuckDB connection and the history table.
type Store struct {
	db     *sql.DB
	table  string
	log    *slog.Logger
	closed atomic.Bool
}

// Open opens the configured DuckDB database and ensures the history
// table exists. A file-backed database that does not exist fails with a
// configuration error unless creation is enabled.
func Open(cfg config.StoreConfig) (*Store, error) {
	if cfg.Path != "" && !cfg.CreateIfMissing {
		if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", kverrors.ErrStoreMissing, cfg.Path)
		}
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to duckdb: %w", err)
	}

	s := &Store{
		db:    db,
		table: cfg.Table,
		log:   logging.Component("store"),
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		series   VARCHAR NOT NULL,
		ts       TIMESTAMP NOT NULL,
		ts_ns    BIGINT NOT NULL,
		kind     VARCHAR NOT NULL,
		stamp    VARCHAR NOT NULL,
		encoding BIGINT NOT NULL,
		base64   BOOLEAN NOT NULL,
		value    VARCHAR NOT NULL
	)`, s.table)
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", s.table, err)
	}

	return s, nil
}

// Table returns the history table name.
func (s *Store) Table() string {
	return s.table
}

// WriteRow appends one row to the history table.
func (s *Store) WriteRow(ctx context.Context, r Row) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf(
		"INSERT INTO %s (series, ts, ts_ns, kind, stamp, encoding, base64, value) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table)
	_, err := s.db.ExecContext(ctx, q,
		r.Series, r.Physical, r.Nanos, r.Kind, r.Stamp, r.Encoding, r.Base64, r.Value)
	if err != nil {
		return fmt.Errorf("write row for %q: %w", r.Series, err)
	}
	return nil
}

// PurgeBefore deletes all rows of a series strictly older than the given
// wall-clock nanosecond value.
func (s *Store) PurgeBefore(ctx context.Context, series string, nanos int64) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE series = ? AND ts_ns < ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, series, nanos); err != nil {
		return fmt.Errorf("purge rows for %q: %w", series, err)
	}
	return nil
}

// DropSeries deletes every row of a series, tombstones included.
func (s *Store) DropSeries(ctx context.Context, series string) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE series = ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, series); err != nil {
		return fmt.Errorf("drop series %q: %w", series, err)
	}
	return nil
}

// LatestTombstone returns the logical timestamp carried by the most
// recent DEL row of a series. The second return value is false when the
// series has no tombstone. Read failures propagate; they are never
// reported as an absent tombstone.
func (s *Store) LatestTombstone(ctx context.Context, series string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf(
		"SELECT stamp FROM %s WHERE series = ? AND kind = ? ORDER BY ts_ns DESC LIMIT 1",
		s.table)

	var stamp string
	err := s.db.QueryRowContext(ctx, q, series, types.TagDel).Scan(&stamp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("latest tombstone for %q: %w", series, err)
	}
	return stamp, true, nil
}

// HasLiveRow reports whether the series has at least one non-DEL row,
// i.e. whether a put arrived after its tombstone.
func (s *Store) HasLiveRow(ctx context.Context, series string) (bool, error) {
	if s.closed.Load() {
		return false, kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf(
		"SELECT 1 FROM %s WHERE series = ? AND kind != ? LIMIT 1",
		s.table)

	var one int
	err := s.db.QueryRowContext(ctx, q, series, types.TagDel).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("live row check for %q: %w", series, err)
	}
	return true, nil
}

// Select runs a read query against the store and returns its rows.
func (s *Store) Select(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.closed.Load() {
		return nil, kverrors.ErrStoreClosed
	}
	return s.db.QueryContext(ctx, query, args...)
}

// DropAll deletes every row from the history table.
func (s *Store) DropAll(ctx context.Context) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf("DELETE FROM %s", s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("drop all rows from %s: %w", s.table, err)
	}
	return nil
}

// DropTable drops the history table itself.
func (s *Store) DropTable(ctx context.Context) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}

	q := fmt.Sprintf("DROP TABLE IF EXISTS %s", s.table)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("drop table %s: %w", s.table, err)
	}
	return nil
}

// Close closes the underlying connection. Further calls fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.log.Debug("closing store", "table", s.table)
	return s.db.Close()
}
