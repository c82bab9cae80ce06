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

// Package compactor folds pending sidecar records into a new catalog
// snapshot. Only one compaction runs at a time per process; the snapshot
// pointer is swapped before any consumed sidecar is removed, so a crash at
// any point leaves either the old catalog plus its sidecars or the new
// catalog plus some already-merged sidecars that the next run re-merges.
package compactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/logctx"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

type Config struct {
	Interval        time.Duration `mapstructure:"interval"`
	BlockRows       int           `mapstructure:"block_rows"`
	DeleteBatch     int           `mapstructure:"delete_batch"`
	ReadConcurrency int           `mapstructure:"read_concurrency"`
}

func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		BlockRows:       snapshot.DefaultBlockRows,
		DeleteBatch:     1000,
		ReadConcurrency: 8,
	}
}

// Result describes one call to Compact.
type Result struct {
	// Skipped is set when another compaction was already running.
	Skipped bool
	// NoOp is set when there were no sidecars to merge.
	NoOp bool

	Version string
	Rows    int64
	Merged  int
	Blocks  int
	Deleted int
}

type Compactor struct {
	store objstore.Store
	cfg   Config
	mu    sync.Mutex
	now   func() time.Time
}

func New(store objstore.Store, cfg Config) *Compactor {
	def := DefaultConfig()
	if cfg.BlockRows <= 0 {
		cfg.BlockRows = def.BlockRows
	}
	if cfg.DeleteBatch <= 0 {
		cfg.DeleteBatch = def.DeleteBatch
	}
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = def.ReadConcurrency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Compactor{store: store, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Compact merges every sidecar visible at the start of the run into a new
// snapshot. A concurrent call returns immediately with Skipped set.
//
// An error before the pointer swap leaves the catalog and all sidecars as
// they were. Failing to delete consumed sidecars afterwards is reported
// but the new snapshot stays published.
func (c *Compactor) Compact(ctx context.Context) (Result, error) {
	if !c.mu.TryLock() {
		recordRun(ctx, "skipped")
		slog.Info("Compaction already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer c.mu.Unlock()

	ctx = logctx.With(ctx, slog.String("compaction", idgen.ShortID()))
	start := time.Now()
	res, err := c.compact(ctx)
	switch {
	case err != nil:
		recordRun(ctx, "failed")
	case res.NoOp:
		recordRun(ctx, "noop")
	default:
		recordRun(ctx, "published")
		runDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res, err
}

func (c *Compactor) compact(ctx context.Context) (Result, error) {
	infos, err := snapshot.ListSidecars(ctx, c.store)
	if err != nil {
		return Result{}, catalog.NewConnectionError("list sidecars", err)
	}
	if len(infos) == 0 {
		logctx.FromContext(ctx).Debug("No pending sidecars")
		return Result{NoOp: true}, nil
	}

	// Key order decides ties on UploadedAt.
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	base, prevVersion, err := c.readCurrent(ctx)
	if err != nil {
		return Result{}, err
	}

	batches, err := c.readSidecars(ctx, infos)
	if err != nil {
		return Result{}, err
	}

	recs, merged, err := Merge(base, batches...)
	if err != nil {
		return Result{}, fmt.Errorf("merge catalog: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m, err := snapshot.Publish(ctx, c.store, recs, snapshot.PublishOptions{
		BlockRows: c.cfg.BlockRows,
		Now:       c.now(),
	})
	if err != nil {
		return Result{}, catalog.NewConnectionError("publish snapshot", err)
	}
	sidecarsMerged.Add(ctx, int64(len(infos)))

	res := Result{
		Version: m.Version,
		Rows:    m.Rows,
		Merged:  merged,
		Blocks:  len(m.Blocks),
	}
	logctx.FromContext(ctx).Info("Published catalog snapshot",
		slog.String("version", m.Version),
		slog.String("previousVersion", prevVersion),
		slog.Int64("rows", m.Rows),
		slog.Int("blocks", len(m.Blocks)),
		slog.Int("sidecars", len(infos)))

	deleted, kept, err := c.deleteConsumed(ctx, infos)
	res.Deleted = deleted
	if err != nil {
		sidecarsLeft.Add(ctx, int64(len(infos)-deleted-kept.Cardinality()))
		return res, fmt.Errorf("snapshot %s published, removing merged sidecars: %w", m.Version, err)
	}
	return res, nil
}

func (c *Compactor) readCurrent(ctx context.Context) ([]catalog.Record, string, error) {
	snap, err := snapshot.OpenCurrent(ctx, c.store, snapshot.OpenOptions{})
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", catalog.NewConnectionError("open current snapshot", err)
	}
	recs, err := snap.ReadAll()
	if err != nil {
		return nil, "", catalog.NewConnectionError("read current snapshot", err)
	}
	return recs, snap.Version(), nil
}

func (c *Compactor) readSidecars(ctx context.Context, infos []objstore.ObjectInfo) ([][]catalog.Record, error) {
	batches := make([][]catalog.Record, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ReadConcurrency)
	for i, info := range infos {
		g.Go(func() error {
			recs, err := snapshot.ReadSidecar(gctx, c.store, info.Key)
			if err != nil {
				return catalog.NewConnectionError("read sidecar", err)
			}
			batches[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

// deleteConsumed removes exactly the sidecars this run merged, each only
// while it still holds the write that was read. A sidecar rewritten since
// the listing is kept for the next run, as is anything listed later.
func (c *Compactor) deleteConsumed(ctx context.Context, infos []objstore.ObjectInfo) (int, mapset.Set[string], error) {
	var (
		mu      sync.Mutex
		errs    *multierror.Error
		deleted int
	)
	kept := mapset.NewSet[string]()

	for batch := range slices.Chunk(infos, c.cfg.DeleteBatch) {
		var g errgroup.Group
		g.SetLimit(c.cfg.ReadConcurrency)
		for _, info := range batch {
			g.Go(func() error {
				ok, err := c.store.DeleteIfUnchanged(ctx, info)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					errs = multierror.Append(errs, fmt.Errorf("delete %s: %w", info.Key, err))
				case ok:
					deleted++
				default:
					kept.Add(info.Key)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	log := logctx.FromContext(ctx)
	if kept.Cardinality() > 0 {
		rewritten := kept.ToSlice()
		sort.Strings(rewritten)
		log.Info("Leaving sidecars that changed during compaction", slog.Any("keys", rewritten))
	}
	if errs != nil {
		log.Warn("Some merged sidecars were not removed; the next run will merge them again",
			slog.Int("removed", deleted), slog.Any("error", errs))
	}
	return deleted, kept, errs.ErrorOrNil()
}
