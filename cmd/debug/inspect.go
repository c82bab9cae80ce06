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
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

type blockReport struct {
	Index       int          `json:"index"`
	Rows        int64        `json:"rows"`
	BBox        catalog.BBox `json:"bbox"`
	MinDatetime time.Time    `json:"min_datetime"`
	MaxDatetime time.Time    `json:"max_datetime"`
	Offset      int64        `json:"offset"`
	Length      int64        `json:"length"`
}

type snapshotReport struct {
	Version  string        `json:"version"`
	DataKey  string        `json:"data_key"`
	DataSize int64         `json:"data_size"`
	Rows     int64         `json:"rows"`
	Blocks   []blockReport `json:"blocks"`
}

func GetInspectSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect-snapshot",
		Short: "Show the blocks of the current catalog snapshot",
		Long:  `Prints the manifest of the current snapshot with each block's statistics and byte extent as JSON.`,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := context.Background()
			store, _, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			snap, err := snapshot.OpenCurrent(ctx, store, snapshot.OpenOptions{})
			if err != nil {
				return fmt.Errorf("open current snapshot: %w", err)
			}
			return writeSnapshotReport(os.Stdout, snap)
		},
	}
	addStoreFlags(cmd)
	return cmd
}

func writeSnapshotReport(w io.Writer, snap *snapshot.Snapshot) error {
	m := snap.Manifest
	rep := snapshotReport{
		Version:  m.Version,
		DataKey:  m.DataKey,
		DataSize: m.DataSize,
		Rows:     m.Rows,
		Blocks:   make([]blockReport, 0, len(m.Blocks)),
	}
	for i, b := range m.Blocks {
		off, n, err := snap.BlockExtent(i)
		if err != nil {
			return err
		}
		rep.Blocks = append(rep.Blocks, blockReport{
			Index:       i,
			Rows:        b.Rows,
			BBox:        b.BBox,
			MinDatetime: b.MinDatetime,
			MaxDatetime: b.MaxDatetime,
			Offset:      off,
			Length:      n,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
