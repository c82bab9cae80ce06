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

package queryengine

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

const dateOnly = "2006-01-02"

// Request is a search as submitted by a client.
type Request struct {
	// BBox is west, south, east, north in WGS84 degrees.
	BBox      []float64 `json:"bbox"`
	DateStart string    `json:"dateStart,omitempty"`
	DateEnd   string    `json:"dateEnd,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	License   string    `json:"license,omitempty"`
	Text      string    `json:"q,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Query is a validated Request.
type Query struct {
	BBox     catalog.BBox
	Start    time.Time
	End      time.Time
	Platform string
	License  string
	Text     string
	Limit    int
}

// Normalize validates r. A zero limit becomes defaultLimit; anything above
// maxLimit is clamped.
func (r Request) Normalize(defaultLimit, maxLimit int) (Query, error) {
	if len(r.BBox) != 4 {
		return Query{}, catalog.NewQueryError("bbox", "expected west,south,east,north")
	}
	for _, v := range r.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Query{}, catalog.NewQueryError("bbox", "coordinates must be finite")
		}
	}
	q := Query{
		BBox:     catalog.BBox{XMin: r.BBox[0], YMin: r.BBox[1], XMax: r.BBox[2], YMax: r.BBox[3]},
		Platform: strings.TrimSpace(r.Platform),
		License:  strings.TrimSpace(r.License),
		Text:     strings.ToLower(strings.TrimSpace(r.Text)),
	}
	if q.BBox.XMin > q.BBox.XMax {
		return Query{}, catalog.NewQueryError("bbox", "west must not exceed east")
	}
	if q.BBox.YMin > q.BBox.YMax {
		return Query{}, catalog.NewQueryError("bbox", "south must not exceed north")
	}

	var err error
	if q.Start, err = parseDate("dateStart", r.DateStart, false); err != nil {
		return Query{}, err
	}
	if q.End, err = parseDate("dateEnd", r.DateEnd, true); err != nil {
		return Query{}, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.Start.After(q.End) {
		return Query{}, catalog.NewQueryError("dateStart", "after dateEnd")
	}

	switch {
	case r.Limit < 0:
		return Query{}, catalog.NewQueryError("limit", "must not be negative")
	case r.Limit == 0:
		q.Limit = defaultLimit
	default:
		q.Limit = r.Limit
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q, nil
}

// parseDate accepts RFC 3339 or a bare day. A bare day covers the whole
// day: its start for a lower bound, its last instant for an upper bound.
func parseDate(field, s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return time.Time{}, catalog.NewQueryError(field, "unparseable date "+strconv.Quote(truncate(s)))
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		s = s[:64] + "..."
	}
	return s
}

// Matches applies every predicate of q to rec.
func (q Query) Matches(rec *catalog.Record) bool {
	if !rec.BBox.Overlaps(q.BBox) {
		return false
	}
	if !q.Start.IsZero() && rec.Datetime.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && rec.Datetime.After(q.End) {
		return false
	}
	if q.Platform != "" && !strings.EqualFold(rec.PlatformType, q.Platform) {
		return false
	}
	if q.License != "" && !strings.EqualFold(rec.License, q.License) {
		return false
	}
	if q.Text != "" && !strings.Contains(strings.ToLower(rec.Title), q.Text) {
		return false
	}
	return true
}
