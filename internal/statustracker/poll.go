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
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// PollOptions bounds a Poll. Zero MaxAttempts or Timeout leaves that
// bound off; at least one should be set.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// Poll reads the job until it is terminal. Running out of attempts or time
// yields a catalog.TimeoutError, which says nothing about the job itself:
// it may still finish later. A missing status counts as still pending.
func Poll(ctx context.Context, t Tracker, jobID string, opts PollOptions) (*Job, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	start := time.Now()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}

	attempts := 0
	for {
		attempts++
		job, err := t.Get(ctx, jobID)
		switch {
		case err == nil && job.Terminal():
			return job, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}

		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			return nil, catalog.TimeoutError{JobID: jobID, Attempts: attempts, Waited: time.Since(start)}
		}
		wait := opts.Interval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, catalog.TimeoutError{JobID: jobID, Attempts: attempts, Waited: time.Since(start)}
			}
			wait = min(wait, left)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
