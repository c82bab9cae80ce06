// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

const (
	DefaultBlockRows = 10_000

	parquetContentType = "application/vnd.apache.parquet"
)

var versions = idgen.NewULIDGenerator()

// Encode sorts recs along the Hilbert curve (in place) and writes them as a
// parquet file with one row group per block of blockRows records.
func Encode(recs []catalog.Record, blockRows int) ([]byte, []BlockStats, error) {
	if blockRows <= 0 {
		blockRows = DefaultBlockRows
	}
	for i := range recs {
		recs[i].FillBBox()
		recs[i].FillGeometry()
	}
	catalog.SortSpatially(recs)
	blocks := computeBlocks(recs, blockRows)

	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[Row](&buf,
		parquet.Compression(&parquet.Zstd),
		parquet.MaxRowsPerRowGroup(int64(blockRows)),
		parquet.KeyValueMetadata(blocksMetadataKey, string(blocksJSON)),
	)

	rows := make([]Row, 0, min(blockRows, len(recs)))
	for start := 0; start < len(recs); start += blockRows {
		end := min(start+blockRows, len(recs))
		rows = rows[:0]
		for i := start; i < end; i++ {
			row, err := RowFromRecord(recs[i])
			if err != nil {
				return nil, nil, err
			}
			rows = append(rows, row)
		}
		if _, err := w.Write(rows); err != nil {
			return nil, nil, fmt.Errorf("write block %d: %w", len(blocks), err)
		}
		// One flush per block keeps row groups aligned with the manifest.
		if err := w.Flush(); err != nil {
			return nil, nil, fmt.Errorf("flush block: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), blocks, nil
}

// PublishOptions tunes Publish. Zero values pick defaults.
type PublishOptions struct {
	BlockRows int
	Now       time.Time
}

// Publish writes a new snapshot holding exactly recs and makes it current.
// The data file and manifest are written under a fresh version before the
// CURRENT pointer is replaced, so readers see either the old snapshot or the
// complete new one.
func Publish(ctx context.Context, store objstore.Store, recs []catalog.Record, opts PublishOptions) (Manifest, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.BlockRows <= 0 {
		opts.BlockRows = DefaultBlockRows
	}

	data, blocks, err := Encode(recs, opts.BlockRows)
	if err != nil {
		return Manifest{}, err
	}

	version := versions.Make(opts.Now)
	m := Manifest{
		Version:   version,
		CreatedAt: opts.Now,
		DataKey:   catalog.SnapshotDataKey(version),
		DataSize:  int64(len(data)),
		Rows:      int64(len(recs)),
		BlockRows: opts.BlockRows,
		BBox:      catalog.BBox{},
		Blocks:    blocks,
	}
	if len(blocks) > 0 {
		m.BBox = catalog.EmptyBBox()
		for _, b := range blocks {
			m.BBox = m.BBox.Extend(b.BBox)
		}
	}
	manifestKey := catalog.SnapshotManifestKey(version)
	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, err
	}

	if err := store.Put(ctx, m.DataKey, data, parquetContentType); err != nil {
		return Manifest{}, fmt.Errorf("write snapshot data: %w", err)
	}
	if err := store.Put(ctx, manifestKey, manifestJSON, "application/json"); err != nil {
		discard(store, m.DataKey)
		return Manifest{}, fmt.Errorf("write snapshot manifest: %w", err)
	}
	if err := writePointer(ctx, store, Pointer{Version: version, ManifestKey: manifestKey, PublishedAt: opts.Now}); err != nil {
		// The write may have landed even though it reported failure.
		switch settled, rerr := settlePointer(store, version); {
		case rerr != nil:
			slog.Warn("Snapshot pointer state unknown, keeping new snapshot objects",
				slog.String("version", version), slog.Any("error", rerr))
		case settled:
			slog.Warn("Snapshot pointer write reported an error but took effect",
				slog.String("version", version), slog.Any("error", err))
			return m, nil
		default:
			discard(store, m.DataKey, manifestKey)
		}
		return Manifest{}, fmt.Errorf("publish snapshot pointer: %w", err)
	}
	return m, nil
}

// settlePointer re-reads CURRENT after a failed write and reports whether
// it names version. The caller's context may be the reason the write
// failed, so this uses its own.
func settlePointer(store objstore.Store, version string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, err := ReadPointer(ctx, store)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		return false, nil
	case err != nil:
		return false, err
	}
	return p.Version == version, nil
}

// discard removes objects of a version that never became current. Nothing
// references them, so failures only leave garbage behind.
func discard(store objstore.Store, keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if failed, err := store.DeleteMany(ctx, keys); err != nil || len(failed) > 0 {
		slog.Warn("Failed to remove unpublished snapshot objects",
			slog.Any("keys", keys), slog.Any("failed", failed), slog.Any("error", err))
	}
}
