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
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

func init() {
	cmd := &cobra.Command{
		Use:   "query-api",
		Short: "serve catalog search, upload initiation and job status",
		RunE: func(_ *cobra.Command, _ []string) error {
			addlAttrs := attribute.NewSet()
			doneCtx, doneFx, err := setupTelemetry(config.ServiceQueryAPI, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer shutdownTelemetry(doneFx)

			return runQueryAPI(doneCtx)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runQueryAPI(ctx context.Context) error {
	svc, err := openServices(ctx)
	if err != nil {
		return err
	}
	cfg := svc.cfg

	handle := queryengine.NewHandle(svc.store, queryengine.HandleOptions{
		RefreshInterval: cfg.Query.RefreshInterval,
	})
	defer handle.Close()

	engine, err := queryengine.NewEngine(handle, cfg.Query)
	if err != nil {
		return fmt.Errorf("failed to create query engine: %w", err)
	}

	keys, err := uploadauth.LoadKeys(cfg.Upload.APIKeysFile, cfg.Upload.APIKey)
	if err != nil {
		return fmt.Errorf("failed to load upload api keys: %w", err)
	}
	uploads := uploadauth.NewService(svc.store, keys, cfg.Upload.PresignExpiry)

	health := healthcheck.NewServer(cfg.Health)
	health.AddCheck("catalog", func(ctx context.Context) error {
		_, err := handle.Snapshot(ctx)
		return err
	})

	router := api.NewRouter(api.Deps{
		Search:  engine,
		Uploads: uploads,
		Status:  svc.tracker,
		Health:  health,
		Logger:  slog.Default(),
	})

	health.SetStatus(healthcheck.StatusHealthy)
	return api.Run(ctx, cfg.HTTP, router)
}
