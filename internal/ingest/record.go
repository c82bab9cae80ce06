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
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/raster"
)

// recordInput is everything the metadata step merges into a record.
type recordInput struct {
	JobID        string
	Source       raster.Info
	Converted    raster.Info
	Meta         UploadMeta
	COGSize      int64
	COGHref      string
	ThumbnailRef string
	UploadedAt   time.Time
}

// buildRecord prefers what the converted asset says, falling back to the
// source raster and then to the uploader's metadata.
func buildRecord(in recordInput) catalog.Record {
	rec := catalog.Record{
		ID:            in.JobID,
		Title:         firstNonEmpty(in.Meta.Title, defaultTitle),
		PlatformType:  strings.TrimSpace(in.Meta.Platform),
		ProducerName:  strings.TrimSpace(in.Meta.Provider),
		License:       firstNonEmpty(in.Meta.License, defaultLicense),
		COGHref:       in.COGHref,
		ThumbnailHref: in.ThumbnailRef,
		FileSize:      in.COGSize,
		Width:         in.Converted.Width,
		Height:        in.Converted.Height,
		Bands:         in.Converted.Bands,
		EPSG:          in.Converted.EPSG,
		UploadedBy:    in.Meta.UploadedBy,
		UploadedAt:    in.UploadedAt.UTC().Truncate(time.Millisecond),
	}

	switch {
	case in.Converted.WGS84 != nil:
		rec.BBox = *in.Converted.WGS84
	case in.Source.WGS84 != nil:
		rec.BBox = *in.Source.WGS84
	}
	rec.FillGeometry()

	if in.Converted.PixelSize > 0 {
		gsd := math.Round(in.Converted.PixelSize*1e4) / 1e4
		if gsd > 0 {
			rec.GSD = &gsd
		}
	}

	switch {
	case !in.Converted.Acquired.IsZero():
		rec.Datetime = in.Converted.Acquired
	case !in.Source.Acquired.IsZero():
		rec.Datetime = in.Source.Acquired
	default:
		if t, ok := in.Meta.AcquiredTime(); ok {
			rec.Datetime = t
		} else {
			rec.Datetime = rec.UploadedAt.Truncate(24 * time.Hour)
		}
	}
	rec.Datetime = rec.Datetime.UTC().Truncate(time.Millisecond)
	return rec
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
