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
	"fmt"
	"math"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/raster"
)

const mib = 1024 * 1024

// checkSize runs before anything is downloaded.
func checkSize(size, limit int64) error {
	if limit > 0 && size > limit {
		return catalog.NewValidationError(fmt.Sprintf("file too large: %dMB (max %dMB)", size/mib, limit/mib))
	}
	if size == 0 {
		return catalog.NewValidationError("empty file")
	}
	return nil
}

// validateRaster rejects rasters the catalog cannot place on a map.
func validateRaster(info raster.Info, cfg Config) error {
	if info.Bands == 0 {
		return catalog.NewValidationError("image has no bands")
	}
	if info.Width < cfg.MinDimension || info.Height < cfg.MinDimension {
		return catalog.NewValidationError(fmt.Sprintf("image too small: %dx%d", info.Width, info.Height))
	}
	if info.CRS == "" {
		return catalog.NewValidationError("missing CRS")
	}
	return validateBounds(info.WGS84, cfg)
}

func validateBounds(b *catalog.BBox, cfg Config) error {
	if b == nil {
		return catalog.NewValidationError("missing geographic bounds")
	}
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return catalog.NewValidationError("non-finite geographic bounds")
		}
	}
	if b.XMin < -180 || b.XMax > 180 || b.YMin < -90 || b.YMax > 90 {
		return catalog.NewValidationError("geographic bounds outside WGS84 range: " + b.String())
	}
	if b.XMin >= b.XMax || b.YMin >= b.YMax {
		return catalog.NewValidationError("degenerate geographic bounds: " + b.String())
	}
	if !cfg.AllowNullIsland {
		cx, cy := b.Center()
		if math.Abs(cx) <= cfg.NullIslandTolerance && math.Abs(cy) <= cfg.NullIslandTolerance {
			return catalog.NewValidationError("bounds centred on null island; image is probably not georeferenced")
		}
	}
	return nil
}
