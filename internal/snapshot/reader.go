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
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// Snapshot is an opened, immutable catalog version. Only the footer is read
// at open time; blocks are fetched with ranged reads on demand.
type Snapshot struct {
	Manifest Manifest
	file     *parquet.File
}

// OpenOptions tunes Open.
type OpenOptions struct {
	// Observer sees every ranged read against the data file.
	Observer objstore.RangeObserver
}

// OpenCurrent follows catalog/CURRENT and opens the snapshot it names.
// It returns ErrNoSnapshot if nothing has been published.
//
// Reads made later through the snapshot use ctx, so pass a context that
// lives as long as the snapshot does.
func OpenCurrent(ctx context.Context, store objstore.Store, opts OpenOptions) (*Snapshot, error) {
	p, err := ReadPointer(ctx, store)
	if err != nil {
		return nil, err
	}
	return OpenVersion(ctx, store, p.ManifestKey, opts)
}

// OpenVersion opens the snapshot described by the manifest at manifestKey.
func OpenVersion(ctx context.Context, store objstore.Store, manifestKey string, opts OpenOptions) (*Snapshot, error) {
	m, err := ReadManifest(ctx, store, manifestKey)
	if err != nil {
		return nil, err
	}

	size := m.DataSize
	if size <= 0 {
		info, err := store.Stat(ctx, m.DataKey)
		if err != nil {
			return nil, fmt.Errorf("stat snapshot data: %w", err)
		}
		size = info.Size
	}

	ra := objstore.NewRangeReaderAt(ctx, store, m.DataKey, size, opts.Observer)
	f, err := parquet.OpenFile(ra, size,
		parquet.SkipPageIndex(true),
		parquet.SkipBloomFilters(true),
	)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", m.Version, err)
	}

	groups := f.RowGroups()
	if len(groups) != len(m.Blocks) {
		return nil, fmt.Errorf("snapshot %s: manifest lists %d blocks, file has %d row groups", m.Version, len(m.Blocks), len(groups))
	}
	for i, rg := range groups {
		if rg.NumRows() != m.Blocks[i].Rows {
			return nil, fmt.Errorf("snapshot %s: block %d has %d rows, manifest says %d", m.Version, i, rg.NumRows(), m.Blocks[i].Rows)
		}
	}
	return &Snapshot{Manifest: m, file: f}, nil
}

func (s *Snapshot) Version() string { return s.Manifest.Version }

func (s *Snapshot) NumBlocks() int { return len(s.Manifest.Blocks) }

// ReadBlock fetches and decodes one block.
func (s *Snapshot) ReadBlock(i int) ([]catalog.Record, error) {
	groups := s.file.RowGroups()
	if i < 0 || i >= len(groups) {
		return nil, fmt.Errorf("block %d out of range [0,%d)", i, len(groups))
	}
	rows, err := readRows(parquet.NewGenericRowGroupReader[Row](groups[i]), groups[i].NumRows())
	if err != nil {
		return nil, fmt.Errorf("snapshot %s block %d: %w", s.Manifest.Version, i, err)
	}
	return rowsToRecords(rows)
}

// ReadAll decodes every block in storage order.
func (s *Snapshot) ReadAll() ([]catalog.Record, error) {
	out := make([]catalog.Record, 0, s.Manifest.Rows)
	for i := range s.Manifest.Blocks {
		recs, err := s.ReadBlock(i)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// BlockExtent returns the byte span of block i in the data file: the
// union of its column chunks.
func (s *Snapshot) BlockExtent(i int) (offset, length int64, err error) {
	md := s.file.Metadata()
	if i < 0 || i >= len(md.RowGroups) {
		return 0, 0, fmt.Errorf("block %d out of range [0,%d)", i, len(md.RowGroups))
	}
	start, end := int64(-1), int64(0)
	for _, cc := range md.RowGroups[i].Columns {
		off := cc.MetaData.DataPageOffset
		if d := cc.MetaData.DictionaryPageOffset; d > 0 && d < off {
			off = d
		}
		if start < 0 || off < start {
			start = off
		}
		end = max(end, off+cc.MetaData.TotalCompressedSize)
	}
	if start < 0 {
		return 0, 0, nil
	}
	return start, end - start, nil
}

// FooterBlocks returns the block index embedded in the data file footer.
func (s *Snapshot) FooterBlocks() (string, bool) {
	return s.file.Lookup(blocksMetadataKey)
}

// DecodeRecords reads every row of an in-memory parquet file.
func DecodeRecords(data []byte) ([]catalog.Record, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	r := parquet.NewGenericReader[Row](f)
	rows, err := readRows(r, f.NumRows())
	if err != nil {
		return nil, err
	}
	return rowsToRecords(rows)
}

func readRows(r *parquet.GenericReader[Row], n int64) ([]Row, error) {
	defer func() { _ = r.Close() }()
	rows := make([]Row, n)
	read := 0
	for read < len(rows) {
		got, err := r.Read(rows[read:])
		read += got
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if got == 0 {
			break
		}
	}
	if int64(read) != n {
		return nil, fmt.Errorf("read %d rows, expected %d", read, n)
	}
	return rows, nil
}

func rowsToRecords(rows []Row) ([]catalog.Record, error) {
	out := make([]catalog.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
