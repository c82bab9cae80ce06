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
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cardinalhq/imagelake/config"
	"github.com/cardinalhq/imagelake/internal/statustracker"
)

func init() {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "process-image <upload-id>",
		Short: "run the ingestion pipeline for one upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			addlAttrs := attribute.NewSet(attribute.String("jobID", args[0]))
			doneCtx, doneFx, err := setupTelemetry(config.ServiceProcessImage, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			return runProcessImage(doneCtx, args[0], wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "timeout", time.Hour, "Give up on the job after this long")

	rootCmd.AddCommand(cmd)
}

func runProcessImage(ctx context.Context, jobID string, timeout time.Duration) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := svc.pipeline().Run(ctx, jobID); err != nil {
		return err
	}

	job, err := svc.tracker.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("read final status: %w", err)
	}
	if job.Status != statustracker.StatusComplete {
		return fmt.Errorf("job %s ended in status %s", jobID, job.Status)
	}
	slog.Info("Upload processed",
		slog.String("jobID", jobID),
		slog.String("cog", job.COGURL),
		slog.String("thumbnail", job.ThumbnailURL))
	return nil
}
