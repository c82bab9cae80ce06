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
	"math"
	"sort"

	"github.com/google/hilbert"
)

// hilbertOrder is the grid side length; must be a power of two.
const hilbertOrder = 1 << 16

var curve *hilbert.Hilbert

func init() {
	var err error
	curve, err = hilbert.NewHilbert(hilbertOrder)
	if err != nil {
		panic(err)
	}
}

// HilbertKey maps the center of a bbox onto a Hilbert curve over the whole
// lon/lat plane. Nearby footprints get nearby keys.
func HilbertKey(b BBox) uint64 {
	cx, cy := b.Center()
	x := gridCell(cx, -180, 180)
	y := gridCell(cy, -90, 90)
	t, err := curve.MapInverse(x, y)
	if err != nil {
		return math.MaxUint64
	}
	return uint64(t)
}

func gridCell(v, lo, hi float64) int {
	if math.IsNaN(v) {
		return 0
	}
	f := (v - lo) / (hi - lo)
	cell := int(f * hilbertOrder)
	if cell < 0 {
		return 0
	}
	if cell >= hilbertOrder {
		return hilbertOrder - 1
	}
	return cell
}

// SortSpatially orders records along the Hilbert curve, breaking ties by id so
// the order is deterministic.
func SortSpatially(recs []Record) {
	keys := make([]uint64, len(recs))
	for i := range recs {
		keys[i] = HilbertKey(recs[i].BBox)
	}
	sort.Sort(hilbertSorter{recs: recs, keys: keys})
}

type hilbertSorter struct {
	recs []Record
	keys []uint64
}

func (s hilbertSorter) Len() int { return len(s.recs) }

func (s hilbertSorter) Less(i, j int) bool {
	if s.keys[i] != s.keys[j] {
		return s.keys[i] < s.keys[j]
	}
	return s.recs[i].ID < s.recs[j].ID
}

func (s hilbertSorter) Swap(i, j int) {
	s.recs[i], s.recs[j] = s.recs[j], s.recs[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}
