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

	"github.com/cardinalhq/imagelake/config"
	"github.com/cardinalhq/imagelake/internal/helpers"
	"github.com/cardinalhq/imagelake/internal/ingest"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/raster"
	"github.com/cardinalhq/imagelake/internal/statustracker"
)

// services are the collaborators most commands share.
type services struct {
	cfg     *config.Config
	store   objstore.Store
	tracker statustracker.Tracker
}

func openServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := objstore.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	tracker, err := statustracker.Open(ctx, cfg.Status, store)
	if err != nil {
		return nil, fmt.Errorf("failed to open status tracker: %w", err)
	}
	return &services{cfg: cfg, store: store, tracker: tracker}, nil
}

// staleWorkDirAge is how long an abandoned job work dir is left alone.
const staleWorkDirAge = 6 * time.Hour

func (s *services) pipeline() *ingest.Pipeline {
	if n := helpers.CleanStaleWorkDirs(s.cfg.Ingest.WorkDir, "ingest-", staleWorkDirAge, time.Now()); n > 0 {
		slog.Info("Removed stale ingest work dirs", slog.Int("count", n))
	}
	toolkit := raster.NewGDAL(s.cfg.Ingest.GDALInfoPath, s.cfg.Ingest.GDALTranslatePath)
	return ingest.New(s.store, s.tracker, toolkit, s.cfg.Ingest, s.cfg.Storage.PublicURL)
}
