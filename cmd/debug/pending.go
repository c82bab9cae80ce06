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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

func GetPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List catalog entries waiting for compaction",
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := context.Background()
			store, _, err := openStore(ctx, c)
			if err != nil {
				return err
			}
			infos, err := snapshot.ListSidecars(ctx, store)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSIZE\tMODIFIED")
			for _, info := range infos {
				id, _ := catalog.JobIDFromSidecarKey(info.Key)
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\n", id, info.Size, info.LastModified.Format("2006-01-02T15:04:05Z07:00"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(os.Stdout, "%d pending\n", len(infos))
			return nil
		},
	}
	addStoreFlags(cmd)
	return cmd
}
