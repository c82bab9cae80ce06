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

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/config"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// addStoreFlags lets a debug command point at a local directory instead
// of the configured bucket.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("root", "", "Use a local directory as the store instead of the configured bucket")
}

func openStore(ctx context.Context, c *cobra.Command) (objstore.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	root, err := c.Flags().GetString("root")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get root flag: %w", err)
	}
	if root != "" {
		bucket := cfg.Storage.Bucket
		if bucket == "" {
			bucket = "local"
		}
		return objstore.NewFileStore(root, bucket), cfg, nil
	}
	store, err := objstore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}
