// Package export writes point-in-time snapshots of the stored state to
// parquet files, for offline analysis outside the adapter.
package export

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/ryltsov/histkv/internal/logging"
	"github.com/ryltsov/histkv/internal/storage/query"
)

// Record is one exported key/value pair, the latest visible value of a
// key at snapshot time.
type Record struct {
	Key         string `parquet:"key"`
	TimestampNS int64  `parquet:"timestamp_ns"`
	NodeID      string `parquet:"node_id"`
	Encoding    int64  `parquet:"encoding"`
	Value       []byte `parquet:"value"`
}

const writeBatch = 512

// Snapshot evaluates expr with latest-value semantics and writes every
// resulting entry to a parquet file at path. It returns the number of
// records written. An existing file at path is truncated.
func Snapshot(ctx context.Context, qs *query.Service, expr, path string) (int64, error) {
	log := logging.Component("export")

	rs, err := qs.Query(ctx, expr, query.Options{})
	if err != nil {
		return 0, fmt.Errorf("snapshot %q: %w", expr, err)
	}
	defer rs.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("snapshot %q: %w", expr, err)
	}

	w := parquet.NewGenericWriter[Record](f)

	var total int64
	batch := make([]Record, 0, writeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := w.Write(batch); err != nil {
			return fmt.Errorf("write parquet batch: %w", err)
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	for rs.Next() {
		e := rs.Entry()
		batch = append(batch, Record{
			Key:         e.Key,
			TimestampNS: e.Timestamp.Nanos(),
			NodeID:      e.Timestamp.ID,
			Encoding:    e.Encoding,
			Value:       e.Payload,
		})
		if len(batch) == writeBatch {
			if err := flush(); err != nil {
				f.Close()
				return 0, err
			}
		}
	}
	if err := rs.Err(); err != nil {
		f.Close()
		return 0, fmt.Errorf("snapshot %q: %w", expr, err)
	}
	if err := flush(); err != nil {
		f.Close()
		return 0, err
	}

	if err := w.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}

	log.Info("wrote snapshot", "path", path, "records", total)
	return total, nil
}
