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

// Package uploadauth hands out upload tickets: it checks the caller's API
// key, allocates a job id, stores the uploader's metadata next to where
// the raw image will land and returns a presigned write target for it.
package uploadauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/ingest"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

var ErrUnauthorized = errors.New("invalid or missing API key")

const rawContentType = "image/tiff"

type Config struct {
	APIKeysFile   string        `mapstructure:"api_keys_file"`
	APIKey        string        `mapstructure:"api_key"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

func DefaultConfig() Config {
	return Config{PresignExpiry: time.Hour}
}

// Request is what the uploader may say about the image up front.
type Request struct {
	Title    string `json:"title"`
	Platform string `json:"platform"`
	License  string `json:"license"`
	Provider string `json:"provider"`
	Acquired string `json:"acquired"`
}

// Ticket tells the uploader where to PUT the raw image.
type Ticket struct {
	UploadID     string `json:"upload_id"`
	PresignedURL string `json:"presigned_url"`
	ExpiresIn    int    `json:"expires_in"`
}

type Service struct {
	store  objstore.Store
	keys   KeyProvider
	expiry time.Duration
	now    func() time.Time
}

func NewService(store objstore.Store, keys KeyProvider, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = DefaultConfig().PresignExpiry
	}
	return &Service{store: store, keys: keys, expiry: expiry, now: func() time.Time { return time.Now().UTC() }}
}

// Initiate starts a new upload for the holder of apiKey.
func (s *Service) Initiate(ctx context.Context, apiKey string, req Request) (Ticket, error) {
	owner, ok := s.keys.Lookup(apiKey)
	if !ok {
		return Ticket{}, ErrUnauthorized
	}

	meta := ingest.UploadMeta{
		Title:      strings.TrimSpace(req.Title),
		Platform:   strings.TrimSpace(req.Platform),
		License:    strings.TrimSpace(req.License),
		Provider:   strings.TrimSpace(req.Provider),
		Acquired:   strings.TrimSpace(req.Acquired),
		UploadedBy: owner.Name,
		CreatedAt:  s.now(),
	}
	if meta.Title == "" {
		meta.Title = "Untitled"
	}
	if meta.License == "" {
		meta.License = "CC-BY 4.0"
	}
	if meta.Acquired != "" {
		if _, ok := meta.AcquiredTime(); !ok {
			return Ticket{}, catalog.NewQueryError("acquired", "expected RFC 3339 time or YYYY-MM-DD")
		}
	}

	jobID := idgen.NewJobID()
	if err := ingest.WriteUploadMeta(ctx, s.store, jobID, meta); err != nil {
		return Ticket{}, catalog.NewConnectionError("write upload metadata", err)
	}
	url, err := s.store.PresignPut(ctx, catalog.RawImageKey(jobID), rawContentType, s.expiry)
	if err != nil {
		return Ticket{}, catalog.NewConnectionError("presign upload", err)
	}

	slog.Info("Upload initiated",
		slog.String("jobID", jobID),
		slog.String("uploadedBy", owner.Name),
		slog.String("title", meta.Title))

	return Ticket{
		UploadID:     jobID,
		PresignedURL: url,
		ExpiresIn:    int(s.expiry / time.Second),
	}, nil
}
