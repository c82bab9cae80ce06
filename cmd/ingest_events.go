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
	"github.com/cardinalhq/imagelake/internal/api"
	"github.com/cardinalhq/imagelake/internal/healthcheck"
	"github.com/cardinalhq/imagelake/internal/pubsub"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest-events",
		Short: "run the ingestion pipeline for storage upload notifications",
		Long: `Listens for object-created notifications on the configured backend
(sqs, gcp, azure, or http for a webhook) and runs the ingestion pipeline for each new upload.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry(config.ServiceIngestEvents, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			return runIngestEvents(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runIngestEvents(ctx context.Context) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	cfg := svc.cfg

	dispatcher := pubsub.NewDispatcher(svc.pipeline(), svc.store.Bucket(), cfg.Events.JobTimeout)
	health := healthcheck.NewServer(cfg.Health)

	if cfg.Events.Backend == pubsub.BackendTypeHTTP {
		events := pubsub.NewHTTPService(ctx, dispatcher, cfg.Events.MaxConcurrent)
		defer events.Close()

		router := api.NewRouter(api.Deps{Events: events, Health: health, Logger: slog.Default()})
		health.SetStatus(healthcheck.StatusHealthy)
		return api.Run(ctx, cfg.HTTP, router)
	}

	backend, err := pubsub.NewBackend(ctx, cfg.Events, dispatcher)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", cfg.Events.Backend, err)
	}

	go func() {
		if err := health.Start(ctx); err != nil {
			slog.Error("Health check server stopped", slog.Any("error", err))
		}
	}()
	health.SetStatus(healthcheck.StatusHealthy)

	slog.Info("Listening for upload events", slog.String("backend", backend.GetName()))
	return backend.Run(ctx)
}
