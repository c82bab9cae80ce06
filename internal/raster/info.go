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

// Package raster inspects and converts uploaded imagery with the GDAL
// command line tools.
package raster

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// Info is what the pipeline needs to know about a raster.
type Info struct {
	Driver    string
	Width     int64
	Height    int64
	Bands     int64
	DataType  string
	HasMask   bool
	CRS       string // WKT, empty when the raster has no spatial reference
	EPSG      int64
	PixelSize float64
	WGS84     *catalog.BBox
	Acquired  time.Time
}

// gdalinfo -json, only the fields used here.
type gdalInfo struct {
	DriverShortName  string  `json:"driverShortName"`
	Size             []int64 `json:"size"`
	CoordinateSystem *struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
	GeoTransform []float64                    `json:"geoTransform"`
	Metadata     map[string]map[string]string `json:"metadata"`
	WGS84Extent  *struct {
		Coordinates [][][]float64 `json:"coordinates"`
	} `json:"wgs84Extent"`
	Bands []struct {
		Type string `json:"type"`
		Mask *struct {
			Flags []string `json:"flags"`
		} `json:"mask"`
		ColorInterpretation string `json:"colorInterpretation"`
	} `json:"bands"`
	STAC map[string]json.RawMessage `json:"stac"`
}

var (
	wkt2ID = regexp.MustCompile(`ID\["EPSG",\s*(\d+)\]\]\s*$`)
	wkt1ID = regexp.MustCompile(`AUTHORITY\["EPSG",\s*"(\d+)"\]\]\s*$`)
)

const tiffDateLayout = "2006:01:02 15:04:05"

// ParseInfo decodes the output of gdalinfo -json.
func ParseInfo(data []byte) (Info, error) {
	var gi gdalInfo
	if err := json.Unmarshal(data, &gi); err != nil {
		return Info{}, fmt.Errorf("parse gdalinfo output: %w", err)
	}
	if len(gi.Size) != 2 {
		return Info{}, fmt.Errorf("gdalinfo output has no raster size")
	}

	info := Info{
		Driver: gi.DriverShortName,
		Width:  gi.Size[0],
		Height: gi.Size[1],
		Bands:  int64(len(gi.Bands)),
	}
	if len(gi.Bands) > 0 {
		info.DataType = gi.Bands[0].Type
		for _, b := range gi.Bands {
			if b.ColorInterpretation == "Alpha" {
				info.HasMask = true
			}
			if b.Mask == nil {
				continue
			}
			for _, f := range b.Mask.Flags {
				if f == "PER_DATASET" || f == "ALPHA" {
					info.HasMask = true
				}
			}
		}
	}
	if gi.CoordinateSystem != nil {
		info.CRS = strings.TrimSpace(gi.CoordinateSystem.WKT)
	}
	if info.CRS != "" {
		info.EPSG = epsgCode(gi.STAC, info.CRS)
	}
	if len(gi.GeoTransform) == 6 {
		info.PixelSize = math.Abs(gi.GeoTransform[1])
	}
	if gi.WGS84Extent != nil {
		if b, ok := extentBBox(gi.WGS84Extent.Coordinates); ok {
			info.WGS84 = &b
		}
	}
	if md, ok := gi.Metadata[""]; ok {
		if s := strings.TrimSpace(md["TIFFTAG_DATETIME"]); s != "" {
			if t, err := time.Parse(tiffDateLayout, s); err == nil {
				info.Acquired = t.UTC()
			}
		}
	}
	return info, nil
}

func epsgCode(stac map[string]json.RawMessage, wkt string) int64 {
	if raw, ok := stac["proj:epsg"]; ok {
		var code int64
		if err := json.Unmarshal(raw, &code); err == nil && code > 0 {
			return code
		}
	}
	for _, re := range []*regexp.Regexp{wkt2ID, wkt1ID} {
		if m := re.FindStringSubmatch(wkt); m != nil {
			code, _ := strconv.ParseInt(m[1], 10, 64)
			return code
		}
	}
	return 0
}

func extentBBox(rings [][][]float64) (catalog.BBox, bool) {
	b := catalog.EmptyBBox()
	n := 0
	for _, ring := range rings {
		for _, pt := range ring {
			if len(pt) < 2 {
				continue
			}
			b = b.Extend(catalog.BBox{XMin: pt[0], YMin: pt[1], XMax: pt[0], YMax: pt[1]})
			n++
		}
	}
	return b, n > 0
}
