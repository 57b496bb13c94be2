// Package storage assembles the history adapter: a persistence backend
// that records keyed change events into DuckDB and answers key-expression
// queries over the stored history.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	kverrors "github.com/ryltsov/histkv/internal/errors"
	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/config"
	"github.com/ryltsov/histkv/internal/storage/export"
	"github.com/ryltsov/histkv/internal/storage/ingest"
	"github.com/ryltsov/histkv/internal/storage/ledger"
	"github.com/ryltsov/histkv/internal/storage/query"
	"github.com/ryltsov/histkv/internal/storage/reclaim"
	"github.com/ryltsov/histkv/internal/storage/store"
	"github.com/ryltsov/histkv/internal/storage/types"
	"github.com/ryltsov/histkv/internal/timestamp"
)

// Service is the assembled storage adapter.
type Service struct {
	cfg       *config.Config
	onClosure config.OnClosure

	store   *store.Store
	ingest  *ingest.Service
	query   *query.Service
	reclaim *reclaim.Scheduler
	clock   *timestamp.Clock

	// Latency sketches record operation durations in milliseconds.
	sketchMu sync.Mutex
	applyLat *ddsketch.DDSketch
	queryLat *ddsketch.DDSketch

	closed atomic.Bool
	log    *slog.Logger
}

// New validates the configuration, opens the backing store and starts
// the reclamation scheduler. The caller owns the returned service and
// must Close it.
func New(cfg *config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	onClosure, err := config.ParseOnClosure(cfg.OnClosure)
	if err != nil {
		return nil, err
	}
	cfg.EnsureTable()

	applyLat, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, fmt.Errorf("create latency sketch: %w", err)
	}
	queryLat, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil, fmt.Errorf("create latency sketch: %w", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	ld := ledger.New(st)
	rc := reclaim.New(st, cfg.GracePeriod, cfg.Query.Timeout)
	svc := &Service{
		cfg:       cfg,
		onClosure: onClosure,
		store:     st,
		ingest:    ingest.New(st, ld, rc, cfg.KeyPrefix),
		query:     query.New(st, cfg.KeyPrefix, cfg.Query.StrictWildcards),
		reclaim:   rc,
		clock:     timestamp.NewClock(cfg.NodeID),
		applyLat:  applyLat,
		queryLat:  queryLat,
		log:       logging.Component("storage"),
	}
	rc.Start()

	svc.log.Info("storage adapter ready",
		"table", cfg.Store.Table,
		"key_expr", cfg.KeyExpr,
		"key_prefix", cfg.KeyPrefix,
		"on_closure", onClosure.String())
	return svc, nil
}

// NewTimestamp issues a fresh logical timestamp from this node's clock,
// for hosts that originate changes locally.
func (s *Service) NewTimestamp() timestamp.Timestamp {
	return s.clock.Now()
}

// Apply persists one change event. The operation is bounded by the
// configured query timeout.
func (s *Service) Apply(ctx context.Context, ch types.Change) error {
	if s.closed.Load() {
		return kverrors.ErrStoreClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Query.Timeout)
	defer cancel()

	start := time.Now()
	err := s.ingest.Apply(ctx, ch)
	s.observe(s.applyLat, start)
	return err
}

// Query evaluates a key expression and returns a lazy result set the
// caller must drain or close. The caller's context governs the whole
// iteration, so no internal timeout is applied here.
func (s *Service) Query(ctx context.Context, expr string, opts query.Options) (*query.ResultSet, error) {
	if s.closed.Load() {
		return nil, kverrors.ErrStoreClosed
	}

	start := time.Now()
	rs, err := s.query.Query(ctx, expr, opts)
	s.observe(s.queryLat, start)
	return rs, err
}

// ExportSnapshot writes the latest visible value of every key matching
// expr to a parquet file at path and returns the record count.
func (s *Service) ExportSnapshot(ctx context.Context, expr, path string) (int64, error) {
	if s.closed.Load() {
		return 0, kverrors.ErrStoreClosed
	}
	return export.Snapshot(ctx, s.query, expr, path)
}

func (s *Service) observe(sk *ddsketch.DDSketch, start time.Time) {
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	s.sketchMu.Lock()
	defer s.sketchMu.Unlock()
	if err := sk.Add(ms); err != nil {
		s.log.Debug("failed to record latency sample", "error", err)
	}
}

// Latency summarizes one operation's latency distribution in
// milliseconds.
type Latency struct {
	Count int64
	P50   float64
	P95   float64
	P99   float64
}

func (s *Service) latency(sk *ddsketch.DDSketch) Latency {
	s.sketchMu.Lock()
	defer s.sketchMu.Unlock()

	l := Latency{Count: int64(sk.GetCount())}
	if l.Count == 0 {
		return l
	}
	// Quantile lookups only fail on an empty sketch, which is excluded
	// above.
	l.P50, _ = sk.GetValueAtQuantile(0.5)
	l.P95, _ = sk.GetValueAtQuantile(0.95)
	l.P99, _ = sk.GetValueAtQuantile(0.99)
	return l
}

// ServiceStats aggregates statistics across all components.
type ServiceStats struct {
	Ingest       ingest.ServiceStats
	Query        query.ServiceStats
	Reclaim      reclaim.SchedulerStats
	ApplyLatency Latency
	QueryLatency Latency
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Ingest:       s.ingest.Stats(),
		Query:        s.query.Stats(),
		Reclaim:      s.reclaim.Stats(),
		ApplyLatency: s.latency(s.applyLat),
		QueryLatency: s.latency(s.queryLat),
	}
}

// AdminStatus is the effective configuration as exposed to
// administrative interfaces. Credentials are redacted.
type AdminStatus struct {
	Path        string        `yaml:"path"`
	Table       string        `yaml:"table"`
	KeyExpr     string        `yaml:"key_expr"`
	KeyPrefix   string        `yaml:"key_prefix"`
	OnClosure   string        `yaml:"on_closure"`
	GracePeriod time.Duration `yaml:"grace_period"`
	NodeID      string        `yaml:"node_id"`
	Username    string        `yaml:"username,omitempty"`
	Password    string        `yaml:"password,omitempty"`
}

// AdminStatus returns the effective configuration, including any
// generated table name. Secret values are replaced with a placeholder.
func (s *Service) AdminStatus() AdminStatus {
	status := AdminStatus{
		Path:        s.cfg.Store.Path,
		Table:       s.cfg.Store.Table,
		KeyExpr:     s.cfg.KeyExpr,
		KeyPrefix:   s.cfg.KeyPrefix,
		OnClosure:   s.onClosure.String(),
		GracePeriod: s.cfg.GracePeriod,
		NodeID:      s.cfg.NodeID,
		Username:    s.cfg.Store.Username,
	}
	if s.cfg.Store.Password != "" {
		status.Password = "*****"
	}
	return status
}

// Close stops the reclamation scheduler, applies the on-closure policy
// and closes the store. Close is idempotent.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.reclaim.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Query.Timeout)
	defer cancel()

	var err error
	switch s.onClosure {
	case config.OnClosureDropAll:
		err = s.store.DropAll(ctx)
	case config.OnClosureDropTable:
		err = s.store.DropTable(ctx)
	}
	if err != nil {
		s.log.Error("on-closure cleanup failed", "policy", s.onClosure.String(), "error", err)
	}

	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.log.Info("storage adapter closed", "table", s.cfg.Store.Table)
	return err
}
