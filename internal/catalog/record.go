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

package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// BBox is an axis-aligned rectangle in WGS84 degrees.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// EmptyBBox returns a bbox that any Extend call will replace.
func EmptyBBox() BBox {
	return BBox{XMin: math.Inf(1), YMin: math.Inf(1), XMax: math.Inf(-1), YMax: math.Inf(-1)}
}

// IsZero reports whether no coordinate has been set.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Valid reports whether all coordinates are finite and min <= max on both axes.
func (b BBox) Valid() bool {
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// Overlaps uses closed-interval semantics, so touching edges count.
// No anti-meridian handling.
func (b BBox) Overlaps(o BBox) bool {
	return b.XMax >= o.XMin && b.XMin <= o.XMax && b.YMax >= o.YMin && b.YMin <= o.YMax
}

func (b BBox) Extend(o BBox) BBox {
	return BBox{
		XMin: math.Min(b.XMin, o.XMin),
		YMin: math.Min(b.YMin, o.YMin),
		XMax: math.Max(b.XMax, o.XMax),
		YMax: math.Max(b.YMax, o.YMax),
	}
}

func (b BBox) Center() (float64, float64) {
	return (b.XMin + b.XMax) / 2, (b.YMin + b.YMax) / 2
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.XMin, b.YMin}, Max: orb.Point{b.XMax, b.YMax}}
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.XMin, b.YMin, b.XMax, b.YMax)
}

func BBoxFromBound(bd orb.Bound) BBox {
	return BBox{XMin: bd.Min.X(), YMin: bd.Min.Y(), XMax: bd.Max.X(), YMax: bd.Max.Y()}
}

// Record is one searchable catalog entry.
type Record struct {
	ID            string
	Title         string
	Geometry      orb.Polygon
	BBox          BBox
	Datetime      time.Time
	GSD           *float64
	PlatformType  string
	ProducerName  string
	License       string
	COGHref       string
	ThumbnailHref string
	FileSize      int64
	Width         int64
	Height        int64
	Bands         int64
	EPSG          int64
	UploadedBy    string
	UploadedAt    time.Time
}

// FillBBox derives the covering bbox from the footprint when it is missing.
func (r *Record) FillBBox() {
	if r.BBox.IsZero() && len(r.Geometry) > 0 {
		r.BBox = BBoxFromBound(r.Geometry.Bound())
	}
}

// FillGeometry derives a rectangular footprint from the bbox when it is missing.
func (r *Record) FillGeometry() {
	if len(r.Geometry) == 0 && !r.BBox.IsZero() {
		r.Geometry = r.BBox.Bound().ToPolygon()
	}
}

// Validate checks the record invariants that every stored row must satisfy.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("record id is empty")
	}
	if !r.BBox.Valid() {
		return fmt.Errorf("record %s: invalid bbox %s", r.ID, r.BBox)
	}
	if len(r.Geometry) > 0 {
		gb := BBoxFromBound(r.Geometry.Bound())
		if !bboxClose(gb, r.BBox) {
			return fmt.Errorf("record %s: bbox %s does not match geometry bounds %s", r.ID, r.BBox, gb)
		}
	}
	if r.GSD != nil && !(*r.GSD > 0) {
		return fmt.Errorf("record %s: gsd must be positive", r.ID)
	}
	if r.Datetime.IsZero() {
		return fmt.Errorf("record %s: datetime is required", r.ID)
	}
	return nil
}

func bboxClose(a, b BBox) bool {
	const eps = 1e-9
	return math.Abs(a.XMin-b.XMin) < eps && math.Abs(a.YMin-b.YMin) < eps &&
		math.Abs(a.XMax-b.XMax) < eps && math.Abs(a.YMax-b.YMax) < eps
}

// ResultLess orders search results: newest acquisition first, then id ascending.
func ResultLess(a, b *Record) bool {
	if !a.Datetime.Equal(b.Datetime) {
		return a.Datetime.After(b.Datetime)
	}
	return a.ID < b.ID
}

// SortResults sorts records in result order.
func SortResults(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return ResultLess(&recs[i], &recs[j]) })
}
