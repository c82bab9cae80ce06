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
	"context"
	"log/slog"

	"github.com/cardinalhq/imagelake/internal/periodic"
)

// Run compacts on the configured interval until ctx is done.
func (c *Compactor) Run(ctx context.Context) {
	r := periodic.New("compactor", func(ctx context.Context) error {
		res, err := c.Compact(ctx)
		if err != nil {
			return err
		}
		if !res.NoOp && !res.Skipped {
			slog.Debug("Compaction run finished",
				slog.String("version", res.Version),
				slog.Int("merged", res.Merged),
				slog.Int("deleted", res.Deleted))
		}
		return nil
	}, c.cfg.Interval, slog.Default())
	r.Run(ctx)
}
