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

package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

func TestSampleRecordsAreValidAndInside(t *testing.T) {
	area := catalog.BBox{XMin: 10, YMin: 40, XMax: 12, YMax: 42}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := SampleRecords(200, area, 7, now)
	require.Len(t, recs, 200)

	ids := map[string]bool{}
	for _, r := range recs {
		require.NoError(t, r.Validate())
		assert.GreaterOrEqual(t, r.BBox.XMin, area.XMin)
		assert.LessOrEqual(t, r.BBox.XMax, area.XMax)
		assert.GreaterOrEqual(t, r.BBox.YMin, area.YMin)
		assert.LessOrEqual(t, r.BBox.YMax, area.YMax)
		assert.False(t, r.Datetime.After(now))
		ids[r.ID] = true
	}
	assert.Len(t, ids, 200)
}

func TestSnapshotReportExtents(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewFileStore(t.TempDir(), "bucket")
	recs := SampleRecords(50, catalog.BBox{XMin: -10, YMin: -10, XMax: 10, YMax: 10}, 3, time.Now().UTC())
	m, err := snapshot.Publish(ctx, store, recs, snapshot.PublishOptions{BlockRows: 10})
	require.NoError(t, err)

	snap, err := snapshot.OpenCurrent(ctx, store, snapshot.OpenOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeSnapshotReport(&buf, snap))

	var rep snapshotReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, m.Version, rep.Version)
	assert.Equal(t, int64(50), rep.Rows)
	require.Len(t, rep.Blocks, 5)

	var prevEnd int64
	for _, b := range rep.Blocks {
		assert.Positive(t, b.Length)
		assert.GreaterOrEqual(t, b.Offset, prevEnd, "blocks do not overlap")
		assert.LessOrEqual(t, b.Offset+b.Length, m.DataSize)
		prevEnd = b.Offset + b.Length
	}
}
