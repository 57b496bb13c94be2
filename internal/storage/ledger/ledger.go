// Package ledger answers "when was this key deleted" questions.
//
// Tombstones live as DEL rows inside the same history table as values,
// a constraint of the append-only store model, so discovering the latest
// tombstone for a series is itself a store read. The ledger wraps that
// read and parses the stored logical timestamp.
package ledger

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/ryltsov/histkv/internal/storage/store"
	"github.com/ryltsov/histkv/internal/timestamp"
)

// Ledger resolves the latest tombstone per series.
type Ledger struct {
	store *store.Store

	// group collapses concurrent lookups for the same series into one
	// store read.
	group singleflight.Group
}

// New creates a ledger over the given store.
func New(st *store.Store) *Ledger {
	return &Ledger{store: st}
}

type lookup struct {
	ts timestamp.Timestamp
	ok bool
}

// Latest returns the logical timestamp of the most recent tombstone for
// the series, or ok=false if none exists. A failing store read is a
// propagated error, never an absent tombstone: callers on the write path
// depend on this to keep stale data from resurrecting.
func (l *Ledger) Latest(ctx context.Context, series string) (timestamp.Timestamp, bool, error) {
	v, err, _ := l.group.Do(series, func() (any, error) {
		stamp, ok, err := l.store.LatestTombstone(ctx, series)
		if err != nil {
			return nil, err
		}
		if !ok {
			return lookup{}, nil
		}
		ts, err := timestamp.Parse(stamp)
		if err != nil {
			return nil, fmt.Errorf("tombstone for %q: %w", series, err)
		}
		return lookup{ts: ts, ok: true}, nil
	})
	if err != nil {
		return timestamp.Timestamp{}, false, err
	}
	res := v.(lookup)
	return res.ts, res.ok, nil
}
