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

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// ObjectTracker stores each job as uploads/<id>/status.json.
type ObjectTracker struct {
	store objstore.Store
}

var _ Tracker = (*ObjectTracker)(nil)

func NewObjectTracker(store objstore.Store) *ObjectTracker {
	return &ObjectTracker{store: store}
}

func (t *ObjectTracker) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := t.store.Get(ctx, catalog.StatusKey(jobID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read status for %s: %w", jobID, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse status for %s: %w", jobID, err)
	}
	return &job, nil
}

func (t *ObjectTracker) Set(ctx context.Context, jobID string, job Job) error {
	job.JobID = jobID
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := t.store.Put(ctx, catalog.StatusKey(jobID), data, "application/json"); err != nil {
		return fmt.Errorf("write status for %s: %w", jobID, err)
	}
	return nil
}
