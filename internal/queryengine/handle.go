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

package queryengine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

const pointerKey = "catalog/CURRENT"

// HandleOptions tunes a Handle.
type HandleOptions struct {
	// RefreshInterval bounds how often CURRENT is re-read once a snapshot
	// is open. Zero re-reads it on every call.
	RefreshInterval time.Duration

	// Observer sees every ranged read against snapshot data files.
	Observer objstore.RangeObserver
}

// Handle is the process-wide connection to the catalog store. Nothing is
// read until the first call to Snapshot; concurrent first callers share a
// single open attempt and all see its outcome.
type Handle struct {
	store    objstore.Store
	opts     HandleOptions
	group    singleflight.Group
	checked  *ttlcache.Cache[string, string]
	attempts atomic.Int64

	lifetime context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	loaded  bool
	current *snapshot.Snapshot
}

func NewHandle(store objstore.Store, opts HandleOptions) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		store: store,
		opts:  opts,
		checked: ttlcache.New(
			ttlcache.WithTTL[string, string](opts.RefreshInterval),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
		lifetime: ctx,
		cancel:   cancel,
	}
}

// Store returns the object store the handle reads from.
func (h *Handle) Store() objstore.Store { return h.store }

// Close aborts any reads still running against open snapshots.
func (h *Handle) Close() {
	h.cancel()
}

// Invalidate forces the next call to Snapshot to re-read CURRENT.
func (h *Handle) Invalidate() {
	h.checked.Delete(pointerKey)
}

// Snapshot returns the currently published snapshot, opening it on first
// use. It returns nil and no error when nothing has been published yet.
func (h *Handle) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	h.mu.RLock()
	loaded, cur := h.loaded, h.current
	h.mu.RUnlock()
	if loaded && h.opts.RefreshInterval > 0 && h.checked.Get(pointerKey) != nil {
		return cur, nil
	}

	ch := h.group.DoChan(pointerKey, func() (any, error) {
		return h.refresh()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot.Snapshot), nil
	}
}

// refresh runs inside the single flight. It uses the handle's own context
// so one caller giving up does not fail the others sharing the flight.
func (h *Handle) refresh() (*snapshot.Snapshot, error) {
	ctx := h.lifetime
	h.attempts.Add(1)
	snapshotOpens.Add(ctx, 1)

	h.mu.RLock()
	loaded, cur := h.loaded, h.current
	h.mu.RUnlock()

	p, err := snapshot.ReadPointer(ctx, h.store)
	switch {
	case errors.Is(err, snapshot.ErrNoSnapshot):
		h.install(nil, "")
		return nil, nil
	case err != nil:
		return h.fail(loaded, cur, catalog.NewConnectionError("read pointer", err))
	}

	if cur != nil && cur.Version() == p.Version {
		h.checked.Set(pointerKey, p.Version, ttlcache.DefaultTTL)
		return cur, nil
	}

	snap, err := snapshot.OpenVersion(ctx, h.store, p.ManifestKey, snapshot.OpenOptions{Observer: h.opts.Observer})
	if err != nil {
		return h.fail(loaded, cur, catalog.NewConnectionError("open snapshot", err))
	}
	h.install(snap, p.Version)
	slog.Info("Opened catalog snapshot",
		slog.String("version", snap.Version()),
		slog.Int64("rows", snap.Manifest.Rows),
		slog.Int("blocks", snap.NumBlocks()))
	return snap, nil
}

func (h *Handle) install(snap *snapshot.Snapshot, version string) {
	h.mu.Lock()
	h.loaded = true
	h.current = snap
	h.mu.Unlock()
	h.checked.Set(pointerKey, version, ttlcache.DefaultTTL)
}

// fail keeps serving a snapshot that was already open when a later refresh
// breaks. With nothing open yet, the error goes to every waiter and the
// next call starts a new attempt.
func (h *Handle) fail(loaded bool, cur *snapshot.Snapshot, err error) (*snapshot.Snapshot, error) {
	snapshotFailure.Add(h.lifetime, 1)
	if loaded && cur != nil {
		slog.Warn("Catalog refresh failed, serving previous snapshot",
			slog.String("version", cur.Version()),
			slog.Any("error", err))
		h.checked.Set(pointerKey, cur.Version(), ttlcache.DefaultTTL)
		return cur, nil
	}
	return nil, err
}
