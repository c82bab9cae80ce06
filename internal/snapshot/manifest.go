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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// ErrNoSnapshot means nothing has been published yet.
var ErrNoSnapshot = errors.New("no catalog snapshot published")

// blocksMetadataKey holds the block index in the parquet footer.
const blocksMetadataKey = "imagelake.blocks"

// BlockStats summarizes one block (row group) so readers can skip it
// without fetching it.
type BlockStats struct {
	Index       int          `json:"index"`
	Rows        int64        `json:"rows"`
	BBox        catalog.BBox `json:"bbox"`
	MinDatetime time.Time    `json:"min_datetime"`
	MaxDatetime time.Time    `json:"max_datetime"`
}

// Overlaps reports whether the block may hold rows matching bbox and the
// optional time window. A zero start or end leaves that side open.
func (b BlockStats) Overlaps(bbox catalog.BBox, start, end time.Time) bool {
	if !b.BBox.Overlaps(bbox) {
		return false
	}
	if !start.IsZero() && b.MaxDatetime.Before(start) {
		return false
	}
	if !end.IsZero() && b.MinDatetime.After(end) {
		return false
	}
	return true
}

// Manifest describes one immutable snapshot.
type Manifest struct {
	Version   string       `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	DataKey   string       `json:"data_key"`
	DataSize  int64        `json:"data_size"`
	Rows      int64        `json:"rows"`
	BlockRows int          `json:"block_rows"`
	BBox      catalog.BBox `json:"bbox"`
	Blocks    []BlockStats `json:"blocks"`
}

// Pointer is the content of catalog/CURRENT.
type Pointer struct {
	Version     string    `json:"version"`
	ManifestKey string    `json:"manifest_key"`
	PublishedAt time.Time `json:"published_at"`
}

// ReadPointer returns ErrNoSnapshot when no snapshot has been published.
func ReadPointer(ctx context.Context, store objstore.Store) (Pointer, error) {
	data, err := store.Get(ctx, catalog.CurrentKey)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return Pointer{}, ErrNoSnapshot
		}
		return Pointer{}, fmt.Errorf("read %s: %w", catalog.CurrentKey, err)
	}
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return Pointer{}, fmt.Errorf("parse %s: %w", catalog.CurrentKey, err)
	}
	if p.Version == "" || p.ManifestKey == "" {
		return Pointer{}, fmt.Errorf("parse %s: empty version", catalog.CurrentKey)
	}
	return p, nil
}

func writePointer(ctx context.Context, store objstore.Store, p Pointer) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return store.Put(ctx, catalog.CurrentKey, data, "application/json")
}

// ReadManifest loads and sanity-checks a manifest.
func ReadManifest(ctx context.Context, store objstore.Store, key string) (Manifest, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", key, err)
	}
	var total int64
	for i, b := range m.Blocks {
		if b.Index != i {
			return Manifest{}, fmt.Errorf("manifest %s: block %d has index %d", key, i, b.Index)
		}
		total += b.Rows
	}
	if total != m.Rows {
		return Manifest{}, fmt.Errorf("manifest %s: blocks hold %d rows, header says %d", key, total, m.Rows)
	}
	return m, nil
}

// computeBlocks partitions already-sorted records into runs of blockRows
// and summarizes each run.
func computeBlocks(recs []catalog.Record, blockRows int) []BlockStats {
	var blocks []BlockStats
	for start := 0; start < len(recs); start += blockRows {
		end := min(start+blockRows, len(recs))
		st := BlockStats{
			Index: len(blocks),
			Rows:  int64(end - start),
			BBox:  catalog.EmptyBBox(),
		}
		for i := start; i < end; i++ {
			r := &recs[i]
			st.BBox = st.BBox.Extend(r.BBox)
			if st.MinDatetime.IsZero() || r.Datetime.Before(st.MinDatetime) {
				st.MinDatetime = r.Datetime
			}
			if r.Datetime.After(st.MaxDatetime) {
				st.MaxDatetime = r.Datetime
			}
		}
		blocks = append(blocks, st)
	}
	return blocks
}
