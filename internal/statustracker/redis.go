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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"
)

const redisKeyPrefix = "imagelake:status:"

// RedisTracker keeps job status in Redis, optionally expiring it after a
// retention period.
type RedisTracker struct {
	rdb       *redis.Client
	retention time.Duration
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(ctx context.Context, addr string, retention time.Duration) (*RedisTracker, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisTracker{rdb: rdb, retention: retention}, nil
}

func (t *RedisTracker) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := t.rdb.Get(ctx, redisKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis GET status %s: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse status for %s: %w", jobID, err)
	}
	return &job, nil
}

func (t *RedisTracker) Set(ctx context.Context, jobID string, job Job) error {
	job.JobID = jobID
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := t.rdb.Set(ctx, redisKeyPrefix+jobID, data, t.retention).Err(); err != nil {
		return fmt.Errorf("redis SET status %s: %w", jobID, err)
	}
	return nil
}

func (t *RedisTracker) Close() error {
	return t.rdb.Close()
}
