package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/ryltsov/histkv/internal/storage/config"
	"github.com/ryltsov/histkv/internal/storage/query"
	"github.com/ryltsov/histkv/internal/storage/store"
	"github.com/ryltsov/histkv/internal/storage/types"
	"github.com/ryltsov/histkv/internal/timestamp"
)

func TestSnapshot(t *testing.T) {
	s, err := store.Open(config.StoreConfig{Table: "history", CreateIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	write := func(series string, at time.Time, kind, val string) {
		ts := timestamp.New(uint64(at.UnixNano()), "n1")
		require.NoError(t, s.WriteRow(context.Background(), store.Row{
			Series:   series,
			Physical: ts.PhysicalTime(),
			Nanos:    ts.Nanos(),
			Kind:     kind,
			Stamp:    ts.String(),
			Value:    val,
		}))
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	write("a/b", base, types.TagPut, "old")
	write("a/b", base.Add(time.Minute), types.TagPut, "new")
	write("a/c", base, types.TagPut, "other")
	write("a/d", base, types.TagDel, "")

	qs := query.New(s, "", false)
	path := filepath.Join(t.TempDir(), "snapshot.parquet")

	n, err := Snapshot(context.Background(), qs, "**", path)
	require.NoError(t, err)
	require.Equal(t, int64(2), n, "latest value per key, tombstones excluded")

	records, err := parquet.ReadFile[Record](path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byKey := make(map[string]Record)
	for _, r := range records {
		byKey[r.Key] = r
	}
	require.Equal(t, "new", string(byKey["a/b"].Value))
	require.Equal(t, base.Add(time.Minute).UnixNano(), byKey["a/b"].TimestampNS)
	require.Equal(t, "n1", byKey["a/b"].NodeID)
	require.Equal(t, "other", string(byKey["a/c"].Value))
}

func TestSnapshot_EmptyResult(t *testing.T) {
	s, err := store.Open(config.StoreConfig{Table: "history", CreateIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	qs := query.New(s, "", false)
	path := filepath.Join(t.TempDir(), "empty.parquet")

	n, err := Snapshot(context.Background(), qs, "**", path)
	require.NoError(t, err)
	require.Zero(t, n)

	records, err := parquet.ReadFile[Record](path)
	require.NoError(t, err)
	require.Empty(t, records)
}
