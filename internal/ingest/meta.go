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

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// UploadMeta is what the uploader told us about the image, stored next to
// the raw upload as staging/<id>/meta.json.
type UploadMeta struct {
	Title      string    `json:"title,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	License    string    `json:"license,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Acquired   string    `json:"acquired,omitempty"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	defaultTitle   = "Untitled"
	defaultLicense = "CC-BY 4.0"
)

// WriteUploadMeta stores m for jobID.
func WriteUploadMeta(ctx context.Context, store objstore.Store, jobID string, m UploadMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.Put(ctx, catalog.UploadMetaKey(jobID), data, "application/json")
}

// ReadUploadMeta returns the stored metadata. Uploads made without going
// through initiation have none, which yields the zero value.
func ReadUploadMeta(ctx context.Context, store objstore.Store, jobID string) (UploadMeta, error) {
	data, err := store.Get(ctx, catalog.UploadMetaKey(jobID))
	if errors.Is(err, objstore.ErrNotFound) {
		return UploadMeta{}, nil
	}
	if err != nil {
		return UploadMeta{}, fmt.Errorf("read upload metadata: %w", err)
	}
	var m UploadMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return UploadMeta{}, fmt.Errorf("parse upload metadata: %w", err)
	}
	return m, nil
}

// AcquiredTime parses the caller supplied acquisition date, either a bare
// day or RFC 3339.
func (m UploadMeta) AcquiredTime() (time.Time, bool) {
	s := strings.TrimSpace(m.Acquired)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
