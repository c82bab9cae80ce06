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

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/imagelake/config"
	"github.com/cardinalhq/imagelake/internal/compactor"
	"github.com/cardinalhq/imagelake/internal/healthcheck"
)

func init() {
	var once bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "fold pending catalog entries into a new snapshot",
		RunE: func(_ *cobra.Command, _ []string) error {
			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry(config.ServiceCompact, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			return runCompact(doneCtx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single compaction and exit")

	rootCmd.AddCommand(cmd)
}

func runCompact(ctx context.Context, once bool) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	c := compactor.New(svc.store, svc.cfg.Compaction)

	if once {
		res, err := c.Compact(ctx)
		if err != nil {
			return err
		}
		slog.Info("Compaction finished",
			slog.Bool("noop", res.NoOp),
			slog.String("version", res.Version),
			slog.Int64("rows", res.Rows),
			slog.Int("merged", res.Merged))
		return nil
	}

	health := healthcheck.NewServer(svc.cfg.Health)
	go func() {
		if err := health.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	health.SetStatus(healthcheck.StatusHealthy)

	c.Run(ctx)
	return nil
}
