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

package ingest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/raster"
)

func TestBuildRecordDefaultsAndFallbacks(t *testing.T) {
	uploaded := time.Date(2024, 7, 9, 15, 4, 5, 123456789, time.UTC)
	b := catalog.BBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4}

	rec := buildRecord(recordInput{
		JobID:      "j",
		Source:     raster.Info{WGS84: &b},
		Converted:  raster.Info{Width: 10, Height: 20, Bands: 3, EPSG: 3857},
		UploadedAt: uploaded,
	})
	assert.Equal(t, "Untitled", rec.Title)
	assert.Equal(t, "CC-BY 4.0", rec.License)
	assert.Equal(t, b, rec.BBox, "falls back to source bounds")
	assert.Nil(t, rec.GSD)
	assert.Equal(t, time.Date(2024, 7, 9, 0, 0, 0, 0, time.UTC), rec.Datetime, "falls back to upload day")
	assert.Equal(t, uploaded.Truncate(time.Millisecond), rec.UploadedAt)
	require.NoError(t, rec.Validate())
}

func TestBuildRecordPrefersEmbeddedAcquisitionTime(t *testing.T) {
	b := catalog.BBox{XMin: 1, YMin: 2, XMax: 3, YMax: 4}
	shot := time.Date(2021, 2, 3, 4, 5, 6, 0, time.UTC)
	rec := buildRecord(recordInput{
		JobID:      "j",
		Converted:  raster.Info{WGS84: &b, Acquired: shot, PixelSize: 0.123456},
		Meta:       UploadMeta{Acquired: "2020-01-01"},
		UploadedAt: time.Now(),
	})
	assert.Equal(t, shot, rec.Datetime)
	require.NotNil(t, rec.GSD)
	assert.InDelta(t, 0.1235, *rec.GSD, 1e-12)

	rec = buildRecord(recordInput{
		JobID:      "j",
		Converted:  raster.Info{WGS84: &b},
		Meta:       UploadMeta{Acquired: "2020-01-01T10:00:00+02:00"},
		UploadedAt: time.Now(),
	})
	assert.Equal(t, time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC), rec.Datetime)
}

func TestValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name string
		b    *catalog.BBox
		ok   bool
	}{
		{"ok", &catalog.BBox{XMin: 10, YMin: 10, XMax: 11, YMax: 11}, true},
		{"nil", nil, false},
		{"nan", &catalog.BBox{XMin: math.NaN(), YMin: 0, XMax: 1, YMax: 1}, false},
		{"out of range", &catalog.BBox{XMin: 170, YMin: 0, XMax: 190, YMax: 1}, false},
		{"degenerate", &catalog.BBox{XMin: 5, YMin: 5, XMax: 5, YMax: 6}, false},
		{"null island", &catalog.BBox{XMin: -1e-4, YMin: -1e-4, XMax: 1e-4, YMax: 1e-4}, false},
		{"near but not on null island", &catalog.BBox{XMin: 0.5, YMin: 0.5, XMax: 0.6, YMax: 0.6}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateBounds(tc.b, cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, catalog.IsValidationError(err), "%v", err)
			}
		})
	}
}

func TestCheckSize(t *testing.T) {
	assert.NoError(t, checkSize(10*mib, 500*mib))
	err := checkSize(600*mib, 500*mib)
	require.Error(t, err)
	assert.Equal(t, "file too large: 600MB (max 500MB)", err.Error())
	assert.Error(t, checkSize(0, 500*mib))
}
