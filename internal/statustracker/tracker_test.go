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

package statustracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

func newRedis(t *testing.T, retention time.Duration) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	tr, err := NewRedisTracker(context.Background(), mr.Addr(), retention)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, mr
}

func TestTrackers(t *testing.T) {
	backends := map[string]func(t *testing.T) Tracker{
		"object": func(t *testing.T) Tracker {
			return NewObjectTracker(objstore.NewFileStore(t.TempDir(), "bucket"))
		},
		"redis": func(t *testing.T) Tracker {
			tr, _ := newRedis(t, 0)
			return tr
		},
	}

	for name, mk := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := mk(t)

			_, err := tr.Get(ctx, "job-1")
			assert.ErrorIs(t, err, ErrNotFound)

			now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, tr.Set(ctx, "job-1", Job{Step: "validating", Status: StatusProcessing, CreatedAt: now, UpdatedAt: now}))
			got, err := tr.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, "job-1", got.JobID)
			assert.Equal(t, "validating", got.Step)
			assert.False(t, got.Terminal())

			// Last write wins.
			done := now.Add(time.Minute)
			require.NoError(t, tr.Set(ctx, "job-1", Job{
				Step: "complete", Status: StatusComplete, COGURL: "https://x/imagery/job-1.tif",
				CreatedAt: now, UpdatedAt: done, CompletedAt: &done,
			}))
			got, err = tr.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.True(t, got.Terminal())
			assert.Equal(t, "https://x/imagery/job-1.tif", got.COGURL)
			require.NotNil(t, got.CompletedAt)
			assert.True(t, done.Equal(*got.CompletedAt))

			_, err = tr.Get(ctx, "job-2")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRedisRetention(t *testing.T) {
	ctx := context.Background()
	tr, mr := newRedis(t, time.Hour)
	require.NoError(t, tr.Set(ctx, "j", Job{Step: "received", Status: StatusProcessing}))
	assert.True(t, mr.Exists(redisKeyPrefix+"j"))

	mr.FastForward(2 * time.Hour)
	_, err := tr.Get(ctx, "j")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRedisTrackerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := NewRedisTracker(ctx, "127.0.0.1:1", 0)
	assert.Error(t, err)

	_, err = NewRedisTracker(ctx, "", 0)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	store := objstore.NewFileStore(t.TempDir(), "bucket")
	tr, err := Open(context.Background(), DefaultConfig(), store)
	require.NoError(t, err)
	assert.IsType(t, &ObjectTracker{}, tr)

	_, err = Open(context.Background(), Config{Backend: "etcd"}, store)
	assert.Error(t, err)
}

// scripted returns the queued jobs in order, then repeats the last.
type scripted struct {
	jobs  []*Job
	calls atomic.Int32
}

func (s *scripted) Get(context.Context, string) (*Job, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.jobs) {
		n = len(s.jobs) - 1
	}
	if s.jobs[n] == nil {
		return nil, ErrNotFound
	}
	return s.jobs[n], nil
}

func (s *scripted) Set(context.Context, string, Job) error { return nil }

func TestPollReachesTerminal(t *testing.T) {
	tr := &scripted{jobs: []*Job{
		nil,
		{Step: "converting", Status: StatusProcessing},
		{Step: "complete", Status: StatusComplete},
	}}
	job, err := Poll(context.Background(), tr, "j", PollOptions{Interval: time.Millisecond, MaxAttempts: 10})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, job.Status)
	assert.Equal(t, int32(3), tr.calls.Load())
}

func TestPollReturnsErrorStatus(t *testing.T) {
	tr := &scripted{jobs: []*Job{{Step: "validating", Status: StatusError, Error: "missing CRS"}}}
	job, err := Poll(context.Background(), tr, "j", PollOptions{Interval: time.Millisecond, MaxAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, "missing CRS", job.Error)
}

func TestPollAttemptBudget(t *testing.T) {
	tr := &scripted{jobs: []*Job{{Step: "converting", Status: StatusProcessing}}}
	_, err := Poll(context.Background(), tr, "j", PollOptions{Interval: time.Millisecond, MaxAttempts: 4})
	require.Error(t, err)
	assert.True(t, catalog.IsTimeoutError(err))

	var te catalog.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, "j", te.JobID)
}

func TestPollDurationBudget(t *testing.T) {
	tr := &scripted{jobs: []*Job{nil}}
	start := time.Now()
	_, err := Poll(context.Background(), tr, "j", PollOptions{Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond})
	assert.True(t, catalog.IsTimeoutError(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollCallerCancel(t *testing.T) {
	tr := &scripted{jobs: []*Job{nil}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := Poll(ctx, tr, "j", PollOptions{Interval: 5 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, catalog.IsTimeoutError(err))
}
