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

package compactor

import (
	"fmt"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// Merge folds batches into base by record id. For the same id the record
// with the later UploadedAt wins; on a tie the one seen later wins, so
// batches must be passed oldest first. The output order is unspecified.
func Merge(base []catalog.Record, batches ...[]catalog.Record) ([]catalog.Record, int, error) {
	byID := make(map[string]int, len(base))
	out := make([]catalog.Record, 0, len(base))

	add := func(rec catalog.Record) error {
		rec.FillBBox()
		rec.FillGeometry()
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("record %q: %w", rec.ID, err)
		}
		if i, ok := byID[rec.ID]; ok {
			if !rec.UploadedAt.Before(out[i].UploadedAt) {
				out[i] = rec
			}
			return nil
		}
		byID[rec.ID] = len(out)
		out = append(out, rec)
		return nil
	}

	for _, rec := range base {
		if err := add(rec); err != nil {
			return nil, 0, err
		}
	}
	merged := 0
	for _, batch := range batches {
		for _, rec := range batch {
			if err := add(rec); err != nil {
				return nil, 0, err
			}
			merged++
		}
	}
	return out, merged, nil
}
