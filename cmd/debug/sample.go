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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

func GetSampleCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample-catalog",
		Short: "Publish a synthetic catalog for testing searches",
		Long: `Generates random image footprints across a bounding box and either publishes
them as a snapshot or writes them as pending entries for the compactor.`,
		RunE: func(c *cobra.Command, _ []string) error {
			count, err := c.Flags().GetInt("count")
			if err != nil {
				return fmt.Errorf("failed to get count flag: %w", err)
			}
			pending, err := c.Flags().GetBool("pending")
			if err != nil {
				return fmt.Errorf("failed to get pending flag: %w", err)
			}
			seed, err := c.Flags().GetUint64("seed")
			if err != nil {
				return fmt.Errorf("failed to get seed flag: %w", err)
			}
			area, err := c.Flags().GetFloat64Slice("area")
			if err != nil {
				return fmt.Errorf("failed to get area flag: %w", err)
			}
			if len(area) != 4 {
				return fmt.Errorf("area needs 4 values, got %d", len(area))
			}
			blockRows, err := c.Flags().GetInt("block-rows")
			if err != nil {
				return fmt.Errorf("failed to get block-rows flag: %w", err)
			}

			ctx := context.Background()
			store, _, err := openStore(ctx, c)
			if err != nil {
				return err
			}

			bounds := catalog.BBox{XMin: area[0], YMin: area[1], XMax: area[2], YMax: area[3]}
			recs := SampleRecords(count, bounds, seed, time.Now().UTC())

			if pending {
				for _, rec := range recs {
					if _, err := snapshot.WriteSidecar(ctx, store, rec); err != nil {
						return err
					}
				}
				slog.Info("Wrote pending catalog entries", slog.Int("count", len(recs)))
				return nil
			}

			m, err := snapshot.Publish(ctx, store, recs, snapshot.PublishOptions{BlockRows: blockRows})
			if err != nil {
				return err
			}
			slog.Info("Published sample snapshot",
				slog.String("version", m.Version),
				slog.Int64("rows", m.Rows),
				slog.Int("blocks", len(m.Blocks)))
			return nil
		},
	}

	addStoreFlags(cmd)
	cmd.Flags().Int("count", 1000, "Number of records to generate")
	cmd.Flags().Bool("pending", false, "Write pending entries instead of publishing a snapshot")
	cmd.Flags().Uint64("seed", 1, "Random seed")
	cmd.Flags().Float64Slice("area", []float64{-180, -85, 180, 85}, "west,south,east,north to scatter footprints over")
	cmd.Flags().Int("block-rows", snapshot.DefaultBlockRows, "Rows per snapshot block")

	return cmd
}

var samplePlatforms = []string{"uav", "aircraft", "satellite"}

// SampleRecords returns n valid records with footprints inside bounds.
func SampleRecords(n int, bounds catalog.BBox, seed uint64, now time.Time) []catalog.Record {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := bounds.XMax - bounds.XMin
	h := bounds.YMax - bounds.YMin

	recs := make([]catalog.Record, 0, n)
	for i := range n {
		size := 0.001 + rng.Float64()*0.05
		x := bounds.XMin + rng.Float64()*max(w-size, 0)
		y := bounds.YMin + rng.Float64()*max(h-size, 0)
		gsd := 0.02 + rng.Float64()*2
		id := fmt.Sprintf("sample-%06d-%s", i, idgen.ShortID())
		rec := catalog.Record{
			ID:            id,
			Title:         fmt.Sprintf("Sample scene %d", i),
			BBox:          catalog.BBox{XMin: x, YMin: y, XMax: x + size, YMax: y + size},
			Datetime:      now.Add(-time.Duration(rng.IntN(5*365*24)) * time.Hour),
			GSD:           &gsd,
			PlatformType:  samplePlatforms[rng.IntN(len(samplePlatforms))],
			ProducerName:  "imagelake sample",
			License:       "CC-BY 4.0",
			COGHref:       "https://example.invalid/imagery/" + id + ".tif",
			ThumbnailHref: "https://example.invalid/thumbnails/" + id + ".webp",
			FileSize:      int64(1+rng.IntN(500)) << 20,
			Width:         int64(512 + rng.IntN(8192)),
			Height:        int64(512 + rng.IntN(8192)),
			Bands:         3,
			EPSG:          4326,
			UploadedBy:    "sample",
			UploadedAt:    now,
		}
		rec.FillGeometry()
		recs = append(recs, rec)
	}
	return recs
}
