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

package compactor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/snapshot"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func rec(id, title string, uploadedAt time.Time) catalog.Record {
	r := catalog.Record{
		ID:           id,
		Title:        title,
		BBox:         catalog.BBox{XMin: 10, YMin: 10, XMax: 11, YMax: 11},
		Datetime:     t0,
		PlatformType: "uav",
		License:      "CC-BY 4.0",
		UploadedAt:   uploadedAt,
	}
	r.FillGeometry()
	return r
}

// putSidecar stores recs under an arbitrary pending key, bypassing the
// one-record-per-job layout so that two sidecars can carry the same id.
func putSidecar(t *testing.T, store objstore.Store, name string, recs ...catalog.Record) string {
	t.Helper()
	data, _, err := snapshot.Encode(recs, 10)
	require.NoError(t, err)
	key := catalog.SidecarKey(name)
	require.NoError(t, store.Put(context.Background(), key, data, ""))
	return key
}

func newStore(t *testing.T) *objstore.FileStore {
	return objstore.NewFileStore(t.TempDir(), "bucket")
}

func current(t *testing.T, store objstore.Store) []catalog.Record {
	t.Helper()
	snap, err := snapshot.OpenCurrent(context.Background(), store, snapshot.OpenOptions{})
	require.NoError(t, err)
	recs, err := snap.ReadAll()
	require.NoError(t, err)
	return recs
}

func byID(recs []catalog.Record) map[string]catalog.Record {
	out := make(map[string]catalog.Record, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func pending(t *testing.T, store objstore.Store) []string {
	t.Helper()
	infos, err := snapshot.ListSidecars(context.Background(), store)
	require.NoError(t, err)
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys
}

func TestCompactLaterUploadWins(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	t1 := t0.Add(time.Hour)
	t2 := t0.Add(2 * time.Hour)

	// The newer record is written first so storage order does not decide.
	putSidecar(t, store, "x-second", rec("x", "newer", t2))
	putSidecar(t, store, "x-first", rec("x", "older", t1))

	res, err := New(store, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 2, res.Deleted)

	recs := current(t, store)
	require.Len(t, recs, 1)
	assert.Equal(t, "x", recs[0].ID)
	assert.Equal(t, "newer", recs[0].Title)
	assert.True(t, recs[0].UploadedAt.Equal(t2))
	assert.Empty(t, pending(t, store))
}

func TestCompactSnapshotRecordBeatsStaleSidecar(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := snapshot.Publish(ctx, store, []catalog.Record{rec("x", "current", t0.Add(time.Hour))}, snapshot.PublishOptions{})
	require.NoError(t, err)
	putSidecar(t, store, "x", rec("x", "stale", t0))

	_, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)

	recs := current(t, store)
	require.Len(t, recs, 1)
	assert.Equal(t, "current", recs[0].Title)
}

func TestCompactKeepsEveryRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var base []catalog.Record
	for i := range 25 {
		r := rec(fmt.Sprintf("base-%02d", i), "base", t0)
		r.BBox = catalog.BBox{XMin: float64(i), YMin: 0, XMax: float64(i) + 0.5, YMax: 0.5}
		r.Geometry = nil
		r.FillGeometry()
		base = append(base, r)
	}
	_, err := snapshot.Publish(ctx, store, base, snapshot.PublishOptions{BlockRows: 4})
	require.NoError(t, err)

	for i := range 12 {
		r := rec(fmt.Sprintf("new-%02d", i), "new", t0.Add(time.Minute))
		_, err := snapshot.WriteSidecar(ctx, store, r)
		require.NoError(t, err)
	}
	// An update to an existing record replaces it rather than adding a row.
	_, err = snapshot.WriteSidecar(ctx, store, rec("base-03", "updated", t0.Add(time.Hour)))
	require.NoError(t, err)

	res, err := New(store, Config{BlockRows: 4}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(37), res.Rows)
	assert.Equal(t, 10, res.Blocks)

	got := byID(current(t, store))
	assert.Len(t, got, 37)
	for i := range 25 {
		assert.Contains(t, got, fmt.Sprintf("base-%02d", i))
	}
	for i := range 12 {
		assert.Contains(t, got, fmt.Sprintf("new-%02d", i))
	}
	assert.Equal(t, "updated", got["base-03"].Title)
	assert.Equal(t, catalog.BBox{XMin: 10, YMin: 10, XMax: 11, YMax: 11}, got["base-03"].BBox)
}

func TestCompactNoSidecars(t *testing.T) {
	store := newStore(t)
	res, err := New(store, Config{}).Compact(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NoOp)

	_, err = snapshot.ReadPointer(context.Background(), store)
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
}

// failingPointer refuses to move catalog/CURRENT.
type failingPointer struct {
	objstore.Store
}

func (s failingPointer) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if key == catalog.CurrentKey {
		return errors.New("pointer write refused")
	}
	return s.Store.Put(ctx, key, data, contentType)
}

func TestCompactFailedPublishChangesNothing(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	before, err := snapshot.Publish(ctx, store, []catalog.Record{rec("a", "a", t0)}, snapshot.PublishOptions{})
	require.NoError(t, err)
	_, err = snapshot.WriteSidecar(ctx, store, rec("b", "b", t0))
	require.NoError(t, err)

	_, err = New(failingPointer{store}, Config{}).Compact(ctx)
	require.Error(t, err)
	assert.True(t, catalog.IsConnectionError(err))

	p, err := snapshot.ReadPointer(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, before.Version, p.Version)
	assert.Len(t, current(t, store), 1)
	assert.Equal(t, []string{catalog.SidecarKey("b")}, pending(t, store))
}

func TestCompactUnreadableSidecarAborts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := snapshot.WriteSidecar(ctx, store, rec("good", "good", t0))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, catalog.SidecarKey("bad"), []byte("not parquet"), ""))

	_, err = New(store, Config{}).Compact(ctx)
	require.Error(t, err)

	_, err = snapshot.ReadPointer(ctx, store)
	assert.ErrorIs(t, err, snapshot.ErrNoSnapshot)
	assert.Len(t, pending(t, store), 2)
}

// lateWriter lands a new sidecar right after the compactor lists them.
type lateWriter struct {
	objstore.Store
	once sync.Once
	t    *testing.T
}

func (s *lateWriter) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	infos, err := s.Store.List(ctx, prefix)
	s.once.Do(func() {
		_, werr := snapshot.WriteSidecar(ctx, s.Store, rec("late", "late", t0))
		require.NoError(s.t, werr)
	})
	return infos, err
}

func TestCompactLeavesLateSidecar(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := snapshot.WriteSidecar(ctx, store, rec("early", "early", t0))
	require.NoError(t, err)

	res, err := New(&lateWriter{Store: store, t: t}, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	got := byID(current(t, store))
	assert.Contains(t, got, "early")
	assert.NotContains(t, got, "late")
	assert.Equal(t, []string{catalog.SidecarKey("late")}, pending(t, store))

	// The next run picks it up.
	_, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Len(t, current(t, store), 2)
	assert.Empty(t, pending(t, store))
}

// blockingList parks the first List call until released.
type blockingList struct {
	objstore.Store
	entered chan struct{}
	release chan struct{}
}

func (s *blockingList) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	select {
	case s.entered <- struct{}{}:
		<-s.release
	default:
	}
	return s.Store.List(ctx, prefix)
}

// rewriteBeforeDelete re-registers one job with new content just before
// the compactor removes the sidecars it merged.
type rewriteBeforeDelete struct {
	objstore.Store
	once sync.Once
	t    *testing.T
	with catalog.Record
}

func (s *rewriteBeforeDelete) DeleteIfUnchanged(ctx context.Context, info objstore.ObjectInfo) (bool, error) {
	s.once.Do(func() {
		_, err := snapshot.WriteSidecar(ctx, s.Store, s.with)
		require.NoError(s.t, err)
	})
	return s.Store.DeleteIfUnchanged(ctx, info)
}

func TestCompactKeepsSidecarRewrittenDuringRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, id := range []string{"a", "b"} {
		_, err := snapshot.WriteSidecar(ctx, store, rec(id, id+"-v1", t0))
		require.NoError(t, err)
	}

	rw := &rewriteBeforeDelete{Store: store, t: t, with: rec("b", "b-v2", t0.Add(time.Hour))}
	res, err := New(rw, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, "b-v1", byID(current(t, store))["b"].Title)
	assert.Equal(t, []string{catalog.SidecarKey("b")}, pending(t, store))

	_, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b-v2", byID(current(t, store))["b"].Title)
	assert.Empty(t, pending(t, store))
}

// slowPointerAck stores CURRENT but reports a timeout.
type slowPointerAck struct {
	objstore.Store
}

func (s slowPointerAck) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.Store.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	if key == catalog.CurrentKey {
		return context.DeadlineExceeded
	}
	return nil
}

func TestCompactSurvivesLatePointerAck(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := snapshot.WriteSidecar(ctx, store, rec("a", "a", t0))
	require.NoError(t, err)
	_, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)

	for _, id := range []string{"b", "c"} {
		_, err := snapshot.WriteSidecar(ctx, store, rec(id, id, t0))
		require.NoError(t, err)
	}
	res, err := New(slowPointerAck{Store: store}, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Len(t, current(t, store), 3)
	assert.Empty(t, pending(t, store))

	_, err = snapshot.WriteSidecar(ctx, store, rec("d", "d", t0))
	require.NoError(t, err)
	_, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Len(t, current(t, store), 4)
}

func TestCompactIsNotReentrant(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := snapshot.WriteSidecar(ctx, store, rec("a", "a", t0))
	require.NoError(t, err)

	bl := &blockingList{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	c := New(bl, Config{})

	done := make(chan Result)
	go func() {
		res, err := c.Compact(ctx)
		assert.NoError(t, err)
		done <- res
	}()
	<-bl.entered

	res, err := c.Compact(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(bl.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, int64(1), first.Rows)
}

// stickyDelete fails to remove one key.
type stickyDelete struct {
	objstore.Store
	key string
}

func (s stickyDelete) DeleteIfUnchanged(ctx context.Context, info objstore.ObjectInfo) (bool, error) {
	if info.Key == s.key {
		return false, errors.New("access denied")
	}
	return s.Store.DeleteIfUnchanged(ctx, info)
}

func TestCompactPartialDeleteKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := snapshot.WriteSidecar(ctx, store, rec(id, id, t0))
		require.NoError(t, err)
	}

	res, err := New(stickyDelete{Store: store, key: catalog.SidecarKey("b")}, Config{DeleteBatch: 2}).Compact(ctx)
	require.Error(t, err)
	assert.NotEmpty(t, res.Version)
	assert.Equal(t, 2, res.Deleted)

	p, err := snapshot.ReadPointer(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, res.Version, p.Version)
	assert.Len(t, current(t, store), 3)
	assert.Equal(t, []string{catalog.SidecarKey("b")}, pending(t, store))

	// Re-merging the leftover does not duplicate it.
	res, err = New(store, Config{}).Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Empty(t, pending(t, store))
}

func TestMergeRejectsInvalidRecord(t *testing.T) {
	_, _, err := Merge(nil, []catalog.Record{{ID: "x"}})
	assert.Error(t, err)
}

func TestMergeTieGoesToLaterBatch(t *testing.T) {
	out, merged, err := Merge(
		[]catalog.Record{rec("x", "base", t0)},
		[]catalog.Record{rec("x", "first", t0)},
		[]catalog.Record{rec("x", "second", t0)},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, merged)
	require.Len(t, out, 1)
	assert.Equal(t, "second", out[0].Title)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newStore(t)
	_, err := snapshot.WriteSidecar(context.Background(), store, rec("a", "a", t0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(store, Config{Interval: time.Hour})
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		infos, err := snapshot.ListSidecars(context.Background(), store)
		return err == nil && len(infos) == 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
	assert.Len(t, current(t, store), 1)
}
