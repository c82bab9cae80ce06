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

package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/internal/api"
	"github.com/cardinalhq/imagelake/internal/queryengine"
)

func GetSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a catalog search directly against storage",
		Long:  `Runs a search in-process and prints the results as JSON, with the number of blocks and bytes read.`,
		RunE: func(c *cobra.Command, _ []string) error {
			bbox, err := c.Flags().GetFloat64Slice("bbox")
			if err != nil {
				return fmt.Errorf("failed to get bbox flag: %w", err)
			}
			start, _ := c.Flags().GetString("start")
			end, _ := c.Flags().GetString("end")
			platform, _ := c.Flags().GetString("platform")
			limit, _ := c.Flags().GetInt("limit")

			ctx := context.Background()
			store, cfg, err := openStore(ctx, c)
			if err != nil {
				return err
			}

			var ranged, bytesRead atomic.Int64
			handle := queryengine.NewHandle(store, queryengine.HandleOptions{
				Observer: func(_ string, _, n int64) {
					ranged.Add(1)
					bytesRead.Add(n)
				},
			})
			defer handle.Close()

			var blocks atomic.Int64
			engine, err := queryengine.NewEngine(handle, cfg.Query, queryengine.WithFetchObserver(func(string, int) {
				blocks.Add(1)
			}))
			if err != nil {
				return err
			}

			recs, err := engine.Search(ctx, queryengine.Request{
				BBox:      bbox,
				DateStart: start,
				DateEnd:   end,
				Platform:  platform,
				Limit:     limit,
			})
			if err != nil {
				return err
			}

			resp := api.SearchResponse{Results: make([]api.Image, 0, len(recs)), Count: len(recs)}
			for _, rec := range recs {
				resp.Results = append(resp.Results, api.ImageFromRecord(rec))
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
			slog.Info("Search finished",
				slog.Int("results", len(recs)),
				slog.Int64("blocks", blocks.Load()),
				slog.Int64("rangedReads", ranged.Load()),
				slog.Int64("bytesRead", bytesRead.Load()))
			return nil
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().Float64Slice("bbox", nil, "west,south,east,north")
	if err := cmd.MarkFlagRequired("bbox"); err != nil {
		panic(fmt.Errorf("failed to mark bbox flag as required: %w", err))
	}
	cmd.Flags().String("start", "", "Earliest acquisition date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("end", "", "Latest acquisition date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().String("platform", "", "Platform type filter")
	cmd.Flags().Int("limit", 0, "Maximum results (0 for the server default)")

	return cmd
}
