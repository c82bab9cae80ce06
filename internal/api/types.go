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

package api

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// Image is one search result on the wire.
type Image struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Datetime      time.Time         `json:"datetime"`
	GSD           *float64          `json:"gsd"`
	Platform      string            `json:"platform"`
	ProducerName  string            `json:"producer_name,omitempty"`
	License       string            `json:"license"`
	COGHref       string            `json:"cog_href"`
	ThumbnailHref string            `json:"thumbnail_href"`
	FileSize      int64             `json:"file_size"`
	Width         int64             `json:"width"`
	Height        int64             `json:"height"`
	Bands         int64             `json:"bands"`
	EPSG          int64             `json:"epsg"`
	BBox          []float64         `json:"bbox"`
	Geometry      *geojson.Geometry `json:"geometry"`
	UploadedAt    time.Time         `json:"uploaded_at"`
}

type SearchResponse struct {
	Results []Image `json:"results"`
	Count   int     `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// ImageFromRecord converts a catalog record for output.
func ImageFromRecord(rec catalog.Record) Image {
	rec.FillGeometry()
	img := Image{
		ID:            rec.ID,
		Title:         rec.Title,
		Datetime:      rec.Datetime.UTC(),
		GSD:           rec.GSD,
		Platform:      rec.PlatformType,
		ProducerName:  rec.ProducerName,
		License:       rec.License,
		COGHref:       rec.COGHref,
		ThumbnailHref: rec.ThumbnailHref,
		FileSize:      rec.FileSize,
		Width:         rec.Width,
		Height:        rec.Height,
		Bands:         rec.Bands,
		EPSG:          rec.EPSG,
		BBox:          []float64{rec.BBox.XMin, rec.BBox.YMin, rec.BBox.XMax, rec.BBox.YMax},
		UploadedAt:    rec.UploadedAt.UTC(),
	}
	if len(rec.Geometry) > 0 {
		img.Geometry = geojson.NewGeometry(rec.Geometry)
	}
	return img
}
