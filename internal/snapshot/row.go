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
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// Row is the on-disk layout shared by snapshots and sidecars. Times are
// epoch milliseconds; geometry is WKB.
type Row struct {
	ID            string   `parquet:"id"`
	Title         string   `parquet:"title"`
	DatetimeMs    int64    `parquet:"datetime_ms"`
	GSD           *float64 `parquet:"gsd,optional"`
	PlatformType  string   `parquet:"platform_type"`
	ProducerName  string   `parquet:"producer_name"`
	License       string   `parquet:"license"`
	COGHref       string   `parquet:"cog_href"`
	ThumbnailHref string   `parquet:"thumbnail_href"`
	FileSize      int64    `parquet:"file_size"`
	Width         int64    `parquet:"width"`
	Height        int64    `parquet:"height"`
	Bands         int64    `parquet:"bands"`
	EPSG          int64    `parquet:"epsg"`
	UploadedBy    string   `parquet:"uploaded_by"`
	UploadedAtMs  int64    `parquet:"uploaded_at_ms"`
	Geometry      []byte   `parquet:"geometry"`
	BBoxXMin      float64  `parquet:"bbox_xmin"`
	BBoxYMin      float64  `parquet:"bbox_ymin"`
	BBoxXMax      float64  `parquet:"bbox_xmax"`
	BBoxYMax      float64  `parquet:"bbox_ymax"`
}

// RowFromRecord converts a record for storage.
func RowFromRecord(r catalog.Record) (Row, error) {
	row := Row{
		ID:            r.ID,
		Title:         r.Title,
		DatetimeMs:    r.Datetime.UnixMilli(),
		GSD:           r.GSD,
		PlatformType:  r.PlatformType,
		ProducerName:  r.ProducerName,
		License:       r.License,
		COGHref:       r.COGHref,
		ThumbnailHref: r.ThumbnailHref,
		FileSize:      r.FileSize,
		Width:         r.Width,
		Height:        r.Height,
		Bands:         r.Bands,
		EPSG:          r.EPSG,
		UploadedBy:    r.UploadedBy,
		UploadedAtMs:  r.UploadedAt.UnixMilli(),
		BBoxXMin:      r.BBox.XMin,
		BBoxYMin:      r.BBox.YMin,
		BBoxXMax:      r.BBox.XMax,
		BBoxYMax:      r.BBox.YMax,
	}
	if len(r.Geometry) > 0 {
		g, err := wkb.Marshal(r.Geometry)
		if err != nil {
			return Row{}, fmt.Errorf("record %s: encode geometry: %w", r.ID, err)
		}
		row.Geometry = g
	}
	return row, nil
}

// Record converts a stored row back. A row whose covering columns are all
// zero gets its bbox recomputed from the geometry.
func (row Row) Record() (catalog.Record, error) {
	r := catalog.Record{
		ID:            row.ID,
		Title:         row.Title,
		Datetime:      time.UnixMilli(row.DatetimeMs).UTC(),
		GSD:           row.GSD,
		PlatformType:  row.PlatformType,
		ProducerName:  row.ProducerName,
		License:       row.License,
		COGHref:       row.COGHref,
		ThumbnailHref: row.ThumbnailHref,
		FileSize:      row.FileSize,
		Width:         row.Width,
		Height:        row.Height,
		Bands:         row.Bands,
		EPSG:          row.EPSG,
		UploadedBy:    row.UploadedBy,
		UploadedAt:    time.UnixMilli(row.UploadedAtMs).UTC(),
		BBox: catalog.BBox{
			XMin: row.BBoxXMin,
			YMin: row.BBoxYMin,
			XMax: row.BBoxXMax,
			YMax: row.BBoxYMax,
		},
	}
	if len(row.Geometry) > 0 {
		g, err := wkb.Unmarshal(row.Geometry)
		if err != nil {
			return catalog.Record{}, fmt.Errorf("record %s: decode geometry: %w", row.ID, err)
		}
		switch poly := g.(type) {
		case orb.Polygon:
			r.Geometry = poly
		case orb.MultiPolygon:
			if len(poly) > 0 {
				r.Geometry = poly[0]
			}
		case orb.Bound:
			r.Geometry = poly.ToPolygon()
		default:
			return catalog.Record{}, fmt.Errorf("record %s: unsupported geometry %s", row.ID, g.GeoJSONType())
		}
	}
	r.FillBBox()
	r.FillGeometry()
	return r, nil
}
