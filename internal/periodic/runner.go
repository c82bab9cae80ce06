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

// Package periodic runs a task immediately and then on a fixed interval.
package periodic

import (
	"context"
	"log/slog"
	"time"
)

// TaskFunc is one run of the task.
type TaskFunc func(ctx context.Context) error

// Runner calls a TaskFunc on a schedule. A failed run is logged and the
// next tick tries again.
type Runner struct {
	task     TaskFunc
	ll       *slog.Logger
	interval time.Duration
}

func New(name string, task TaskFunc, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		task:     task,
		ll:       logger.With(slog.String("task", name)),
		interval: interval,
	}
}

// Start runs the loop in a goroutine and returns a function that stops it.
func (r *Runner) Start(ctx context.Context) context.CancelFunc {
	runCtx, cancel := context.WithCancel(ctx)
	go r.Run(runCtx)
	return cancel
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	r.ll.Debug("Starting periodic task", slog.Duration("interval", r.interval))

	r.once(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.ll.Debug("Context cancelled, stopping periodic task")
			return
		case <-ticker.C:
			r.once(ctx)
		}
	}
}

func (r *Runner) once(ctx context.Context) {
	start := time.Now()
	if err := r.task(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		r.ll.Error("Periodic task failed (continuing)", slog.Any("error", err))
		return
	}
	r.ll.Debug("Periodic task finished", slog.Duration("duration", time.Since(start)))
}
