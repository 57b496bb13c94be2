package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	kverrors "github.com/ryltsov/histkv/internal/errors"
	"github.com/ryltsov/histkv/internal/storage/config"
	"github.com/ryltsov/histkv/internal/storage/query"
	"github.com/ryltsov/histkv/internal/storage/types"
	"github.com/ryltsov/histkv/internal/timestamp"
)

func newTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Table = "history"
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()

	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func apply(t *testing.T, svc *Service, kind types.ChangeKind, key string, ts uint64, payload string) {
	t.Helper()

	require.NoError(t, svc.Apply(context.Background(), types.Change{
		Key:       key,
		Kind:      kind,
		Timestamp: timestamp.New(ts, "n1"),
		Payload:   []byte(payload),
	}))
}

func queryAll(t *testing.T, svc *Service, expr string) map[string]string {
	t.Helper()

	rs, err := svc.Query(context.Background(), expr, query.Options{})
	require.NoError(t, err)
	defer rs.Close()

	out := make(map[string]string)
	for rs.Next() {
		e := rs.Entry()
		out[e.Key] = string(e.Payload)
	}
	require.NoError(t, rs.Err())
	return out
}

func TestAdapter_PutDeleteStaleResurrect(t *testing.T) {
	svc := newTestService(t, newTestConfig())

	apply(t, svc, types.Put, "a/b", 100, "x")
	require.Equal(t, map[string]string{"a/b": "x"}, queryAll(t, svc, "a/*"))

	apply(t, svc, types.Delete, "a/b", 200, "")
	require.Empty(t, queryAll(t, svc, "a/*"))

	// Stale put, older than the tombstone: dropped without error.
	apply(t, svc, types.Put, "a/b", 150, "y")
	require.Empty(t, queryAll(t, svc, "a/*"))
	require.Equal(t, int64(1), svc.Stats().Ingest.StalePutsDropped)

	// Fresh put resurrects the key.
	apply(t, svc, types.Put, "a/b", 250, "z")
	require.Equal(t, map[string]string{"a/b": "z"}, queryAll(t, svc, "a/*"))
}

func TestAdapter_PrefixRoundTrip(t *testing.T) {
	cfg := newTestConfig()
	cfg.KeyExpr = "stores/db1/**"
	cfg.KeyPrefix = "stores/db1/"
	svc := newTestService(t, cfg)

	apply(t, svc, types.Put, "stores/db1/a/b", 100, "v")
	require.Equal(t,
		map[string]string{"stores/db1/a/b": "v"},
		queryAll(t, svc, "stores/db1/a/**"))

	err := svc.Apply(context.Background(), types.Change{
		Key:       "other/a/b",
		Kind:      types.Put,
		Timestamp: timestamp.New(100, "n1"),
		Payload:   []byte("v"),
	})
	require.ErrorIs(t, err, kverrors.ErrPrefixMismatch)
}

func TestAdapter_ExportSnapshot(t *testing.T) {
	svc := newTestService(t, newTestConfig())

	apply(t, svc, types.Put, "a/b", 100, "x")
	apply(t, svc, types.Put, "a/c", 100, "y")

	path := filepath.Join(t.TempDir(), "snap.parquet")
	n, err := svc.ExportSnapshot(context.Background(), "**", path)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAdapter_OnClosureDropAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hist.db")

	cfg := newTestConfig()
	cfg.Store.Path = path
	cfg.OnClosure = "drop_all"

	svc, err := New(cfg)
	require.NoError(t, err)
	apply(t, svc, types.Put, "a/b", 100, "v")
	require.NoError(t, svc.Close())

	// Reopen with the default policy: the data is gone.
	reopened := newTestService(t, &config.Config{
		Store:       config.StoreConfig{Path: path, Table: "history"},
		KeyExpr:     "**",
		GracePeriod: cfg.GracePeriod,
		NodeID:      "histkv",
		Query:       cfg.Query,
	})
	require.Empty(t, queryAll(t, reopened, "**"))
}

func TestAdapter_GeneratedTableName(t *testing.T) {
	cfg := newTestConfig()
	cfg.Store.Table = ""
	svc := newTestService(t, cfg)

	table := svc.AdminStatus().Table
	require.True(t, strings.HasPrefix(table, "histkv_"), "got %q", table)
}

func TestAdapter_StatusRedactsPassword(t *testing.T) {
	cfg := newTestConfig()
	cfg.Store.Username = "admin"
	cfg.Store.Password = "hunter2"
	svc := newTestService(t, cfg)

	status := svc.AdminStatus()
	require.Equal(t, "admin", status.Username)
	require.Equal(t, "*****", status.Password)
	require.Equal(t, "history", status.Table)
	require.Equal(t, "do_nothing", status.OnClosure)
}

func TestAdapter_StatsRecordLatencies(t *testing.T) {
	svc := newTestService(t, newTestConfig())

	apply(t, svc, types.Put, "a/b", 100, "v")
	queryAll(t, svc, "**")

	stats := svc.Stats()
	require.Equal(t, int64(1), stats.Ingest.PutsStored)
	require.Equal(t, int64(1), stats.Query.Queries)
	require.Equal(t, int64(1), stats.ApplyLatency.Count)
	require.Equal(t, int64(1), stats.QueryLatency.Count)
	require.GreaterOrEqual(t, stats.ApplyLatency.P99, stats.ApplyLatency.P50)
}

func TestAdapter_ClosedService(t *testing.T) {
	svc := newTestService(t, newTestConfig())
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close(), "close is idempotent")

	err := svc.Apply(context.Background(), types.Change{
		Key:       "a/b",
		Kind:      types.Put,
		Timestamp: timestamp.New(100, "n1"),
		Payload:   []byte("v"),
	})
	require.ErrorIs(t, err, kverrors.ErrStoreClosed)

	_, err = svc.Query(context.Background(), "**", query.Options{})
	require.ErrorIs(t, err, kverrors.ErrStoreClosed)
}

func TestAdapter_InvalidConfigRejected(t *testing.T) {
	cfg := newTestConfig()
	cfg.OnClosure = "explode"
	_, err := New(cfg)
	require.ErrorIs(t, err, kverrors.ErrUnknownOnClosure)

	cfg = newTestConfig()
	cfg.Store.Username = "admin"
	_, err = New(cfg)
	require.ErrorIs(t, err, kverrors.ErrCredentialsUnpaired)
}

func TestAdapter_NewTimestampIsMonotonic(t *testing.T) {
	svc := newTestService(t, newTestConfig())

	a := svc.NewTimestamp()
	b := svc.NewTimestamp()
	require.True(t, a.Before(b))
	require.Equal(t, "histkv", a.ID)
}
