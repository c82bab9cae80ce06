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

// Package statustracker records the progress of upload jobs so clients can
// poll for it.
package statustracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardinalhq/imagelake/internal/objstore"
)

// ErrNotFound means no status has been written for the job yet. For a
// freshly initiated upload that is normal.
var ErrNotFound = errors.New("job status not found")

type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Job is the latest known state of one upload.
type Job struct {
	JobID        string     `json:"job_id"`
	Step         string     `json:"step"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Title        string     `json:"title,omitempty"`
	COGURL       string     `json:"cog_url,omitempty"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job will never change again.
func (j Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusError
}

// Tracker is last-write-wins per job id with read-after-write visibility.
type Tracker interface {
	Get(ctx context.Context, jobID string) (*Job, error)
	Set(ctx context.Context, jobID string, job Job) error
}

// Config is the status section of the service configuration.
type Config struct {
	Backend   string        `mapstructure:"backend"`
	RedisAddr string        `mapstructure:"redis_addr"`
	Retention time.Duration `mapstructure:"retention"`
}

func DefaultConfig() Config {
	return Config{Backend: "object"}
}

// Open builds the configured tracker. The object backend keeps status
// next to the upload in store.
func Open(ctx context.Context, cfg Config, store objstore.Store) (Tracker, error) {
	switch cfg.Backend {
	case "", "object":
		return NewObjectTracker(store), nil
	case "redis":
		return NewRedisTracker(ctx, cfg.RedisAddr, cfg.Retention)
	default:
		return nil, fmt.Errorf("unknown status backend %q", cfg.Backend)
	}
}
