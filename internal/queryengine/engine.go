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

// Package queryengine answers catalog searches against the published
// snapshot, reading only the blocks whose statistics can match.
package queryengine

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/constants"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

// Config is the query section of the service configuration.
type Config struct {
	DefaultLimit     int           `mapstructure:"default_limit"`
	MaxLimit         int           `mapstructure:"max_limit"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	BlockCacheBlocks int           `mapstructure:"block_cache_blocks"`
}

func DefaultConfig() Config {
	return Config{
		DefaultLimit:     200,
		MaxLimit:         constants.MaxSearchResults,
		RefreshInterval:  time.Minute,
		BlockCacheBlocks: 256,
	}
}

// FetchObserver is told about every block a search reads, cached or not.
type FetchObserver func(version string, block int)

type blockKey struct {
	version string
	block   int
}

// Engine runs searches. It is safe for concurrent use.
type Engine struct {
	handle   *Handle
	cfg      Config
	cache    *lru.Cache[blockKey, []catalog.Record]
	observer FetchObserver
}

type Option func(*Engine)

// WithFetchObserver registers fn to be called for each block read.
func WithFetchObserver(fn FetchObserver) Option {
	return func(e *Engine) { e.observer = fn }
}

func NewEngine(handle *Handle, cfg Config, opts ...Option) (*Engine, error) {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.BlockCacheBlocks <= 0 {
		cfg.BlockCacheBlocks = def.BlockCacheBlocks
	}
	cache, err := lru.New[blockKey, []catalog.Record](cfg.BlockCacheBlocks)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}
	e := &Engine{handle: handle, cfg: cfg, cache: cache}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search returns the records matching req, newest first, ties by id.
// Malformed requests fail with a QueryError; store problems with a
// ConnectionError. Nothing is retried.
func (e *Engine) Search(ctx context.Context, req Request) ([]catalog.Record, error) {
	start := time.Now()
	q, err := req.Normalize(e.cfg.DefaultLimit, e.cfg.MaxLimit)
	if err != nil {
		searchCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "invalid")))
		return nil, err
	}

	recs, err := e.run(ctx, q)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	searchCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	searchDuration.Record(ctx, time.Since(start).Seconds())
	return recs, err
}

func (e *Engine) run(ctx context.Context, q Query) ([]catalog.Record, error) {
	snap, err := e.handle.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return []catalog.Record{}, nil
	}

	plan := Plan(snap.Manifest, q)
	blocksPruned.Add(ctx, int64(snap.NumBlocks()-len(plan)))

	out := []catalog.Record{}
	for _, i := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := e.block(ctx, snap, i)
		if err != nil {
			return nil, err
		}
		for j := range rows {
			if q.Matches(&rows[j]) {
				out = append(out, rows[j])
			}
		}
	}

	catalog.SortResults(out)
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (e *Engine) block(ctx context.Context, snap *snapshot.Snapshot, i int) ([]catalog.Record, error) {
	if e.observer != nil {
		e.observer(snap.Version(), i)
	}
	key := blockKey{version: snap.Version(), block: i}
	if rows, ok := e.cache.Get(key); ok {
		blockCacheHits.Add(ctx, 1)
		return rows, nil
	}
	rows, err := snap.ReadBlock(i)
	if err != nil {
		return nil, catalog.NewConnectionError("read block", err)
	}
	blocksRead.Add(ctx, 1)
	e.cache.Add(key, rows)
	return rows, nil
}

// Plan lists, in storage order, the blocks of m whose statistics overlap
// the query rectangle and date window. Every other block is skipped.
func Plan(m snapshot.Manifest, q Query) []int {
	var out []int
	for _, b := range m.Blocks {
		if b.Rows > 0 && b.Overlaps(q.BBox, q.Start, q.End) {
			out = append(out, b.Index)
		}
	}
	return out
}
