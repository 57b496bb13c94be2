// Package ingest applies incoming change events to the store.
//
// Events can arrive out of causal order: a delete for time T may arrive
// before or after a put for an earlier or later time. The engine keeps
// the visible state convergent by (1) writing a tombstone row and
// purging superseded rows on delete, (2) consulting the tombstone before
// accepting a put, so late-arriving stale puts are silently dropped, and
// (3) arming deferred reclamation so tombstoned keys are eventually
// cleaned up unless a newer put resurrects them.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	kverrors "github.com/ryltsov/histkv/internal/errors"
	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/ledger"
	"github.com/ryltsov/histkv/internal/storage/reclaim"
	"github.com/ryltsov/histkv/internal/storage/store"
	"github.com/ryltsov/histkv/internal/storage/types"
	"github.com/ryltsov/histkv/internal/storage/value"
)

// Stats holds ingestion statistics.
type Stats struct {
	PutsStored       atomic.Int64
	StalePutsDropped atomic.Int64
	Deletes          atomic.Int64
	PatchesIgnored   atomic.Int64
	ValidationErrors atomic.Int64
	StoreErrors      atomic.Int64
}

// ServiceStats is a point-in-time copy of the statistics.
type ServiceStats struct {
	PutsStored       int64
	StalePutsDropped int64
	Deletes          int64
	PatchesIgnored   int64
	ValidationErrors int64
	StoreErrors      int64
}

// Service is the ingestion engine. Callers are expected to serialize
// Apply calls per adapter instance; the service does not queue or
// reorder concurrent calls.
type Service struct {
	store   *store.Store
	ledger  *ledger.Ledger
	reclaim *reclaim.Scheduler
	prefix  string

	stats Stats
	log   *slog.Logger
}

// New creates an ingestion service. prefix, if non-empty, is stripped
// from event keys before they are used as series names.
func New(st *store.Store, ld *ledger.Ledger, rc *reclaim.Scheduler, prefix string) *Service {
	return &Service{
		store:   st,
		ledger:  ld,
		reclaim: rc,
		prefix:  prefix,
		log:     logging.Component("ingest"),
	}
}

// Apply applies one change event.
//
// Put and Delete failures are returned with operation context and are
// never retried internally; redelivery is the host's responsibility.
// Patch events are reported as unsupported and succeed as no-ops.
func (s *Service) Apply(ctx context.Context, ch types.Change) error {
	series, err := s.seriesName(ch.Key)
	if err != nil {
		s.stats.ValidationErrors.Add(1)
		return err
	}

	switch ch.Kind {
	case types.Put:
		return s.applyPut(ctx, series, ch)
	case types.Delete:
		return s.applyDelete(ctx, series, ch)
	case types.Patch:
		s.stats.PatchesIgnored.Add(1)
		s.log.Warn("received patch event: not supported, ignoring", "key", ch.Key)
		return nil
	default:
		s.stats.ValidationErrors.Add(1)
		return fmt.Errorf("apply %q: unknown change kind %d", ch.Key, ch.Kind)
	}
}

// seriesName validates the key and strips the configured prefix.
func (s *Service) seriesName(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", kverrors.ErrInvalidKey)
	}
	if strings.ContainsRune(key, '*') {
		return "", fmt.Errorf("%w: %q contains wildcards", kverrors.ErrInvalidKey, key)
	}
	if s.prefix == "" {
		return key, nil
	}
	series, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return "", fmt.Errorf("%w: key %q does not start with prefix %q",
			kverrors.ErrPrefixMismatch, key, s.prefix)
	}
	return series, nil
}

func (s *Service) applyPut(ctx context.Context, series string, ch types.Change) error {
	// The tombstone check is correctness-critical: without it, a put
	// that lost a race against a later delete would resurrect stale
	// data. Its failure therefore propagates.
	tomb, ok, err := s.ledger.Latest(ctx, series)
	if err != nil {
		s.stats.StoreErrors.Add(1)
		return fmt.Errorf("put %q: tombstone check: %w", ch.Key, err)
	}
	if ok && ch.Timestamp.Before(tomb) {
		s.stats.StalePutsDropped.Add(1)
		s.log.Debug("put is older than the key's deletion, dropping it",
			"key", ch.Key, "ts", ch.Timestamp, "tombstone", tomb)
		return nil
	}

	if len(ch.Payload) == 0 {
		s.stats.ValidationErrors.Add(1)
		return fmt.Errorf("put %q: %w", ch.Key, kverrors.ErrMissingValue)
	}

	val, b64 := value.Encode(ch.Payload)
	row := store.Row{
		Series:   series,
		Physical: ch.Timestamp.PhysicalTime(),
		Nanos:    ch.Timestamp.Nanos(),
		Kind:     types.TagPut,
		Stamp:    ch.Timestamp.String(),
		Encoding: ch.Encoding,
		Base64:   b64,
		Value:    val,
	}
	if err := s.store.WriteRow(ctx, row); err != nil {
		s.stats.StoreErrors.Add(1)
		return fmt.Errorf("put %q: %w", ch.Key, err)
	}

	s.stats.PutsStored.Add(1)
	s.log.Debug("stored put", "key", ch.Key, "ts", ch.Timestamp)
	return nil
}

func (s *Service) applyDelete(ctx context.Context, series string, ch types.Change) error {
	// Purge rows older than the delete so out-of-order history collapses
	// and the tombstone dominates what remains.
	if err := s.store.PurgeBefore(ctx, series, ch.Timestamp.Nanos()); err != nil {
		s.stats.StoreErrors.Add(1)
		return fmt.Errorf("delete %q: purge: %w", ch.Key, err)
	}

	row := store.Row{
		Series:   series,
		Physical: ch.Timestamp.PhysicalTime(),
		Nanos:    ch.Timestamp.Nanos(),
		Kind:     types.TagDel,
		Stamp:    ch.Timestamp.String(),
	}
	if err := s.store.WriteRow(ctx, row); err != nil {
		s.stats.StoreErrors.Add(1)
		return fmt.Errorf("delete %q: tombstone: %w", ch.Key, err)
	}

	s.reclaim.Schedule(series)
	s.stats.Deletes.Add(1)
	s.log.Debug("marked series as deleted", "key", ch.Key, "ts", ch.Timestamp)
	return nil
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		PutsStored:       s.stats.PutsStored.Load(),
		StalePutsDropped: s.stats.StalePutsDropped.Load(),
		Deletes:          s.stats.Deletes.Load(),
		PatchesIgnored:   s.stats.PatchesIgnored.Load(),
		ValidationErrors: s.stats.ValidationErrors.Load(),
		StoreErrors:      s.stats.StoreErrors.Load(),
	}
}
