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

package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cardinalhq/imagelake/internal/awsclient"
	"github.com/cardinalhq/imagelake/internal/azureclient"
	"github.com/cardinalhq/imagelake/internal/gcpclient"
)

// Config selects and configures the backend.
type Config struct {
	Provider       string `mapstructure:"provider"`
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	UsePathStyle   bool   `mapstructure:"use_path_style"`
	InsecureTLS    bool   `mapstructure:"insecure_tls"`
	Role           string `mapstructure:"role"`
	Root           string `mapstructure:"root"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	StorageAccount string `mapstructure:"storage_account"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
}

func DefaultConfig() Config {
	return Config{
		Provider: "aws",
		Region:   "us-east-1",
		Root:     "./data",
	}
}

// PublicURL is the href recorded in catalog entries for key.
func (c Config) PublicURL(key string) string {
	base := c.PublicBaseURL
	if base == "" {
		switch c.Provider {
		case "file":
			base = "file://" + strings.TrimSuffix(c.Root, "/") + "/" + c.Bucket
		case "azure":
			base = fmt.Sprintf("https://%s.blob.core.windows.net/%s", c.StorageAccount, c.Bucket)
		case "gcp", "gcs":
			base = "https://storage.googleapis.com/" + c.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.amazonaws.com", c.Bucket)
		}
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Open builds the store named by cfg.Provider.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	switch cfg.Provider {
	case "aws", "gcp", "":
		mgr, err := awsclient.NewManager(ctx, "imagelake")
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		client, err := mgr.S3(ctx, awsclient.Profile{
			Provider:     cfg.Provider,
			Region:       cfg.Region,
			Role:         cfg.Role,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
			InsecureTLS:  cfg.InsecureTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return NewS3Store(client, cfg.Bucket), nil
	case "azure":
		mgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		client, err := mgr.Blob(ctx, cfg.StorageAccount, cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return NewAzureStore(client, cfg.Bucket), nil
	case "minio":
		endpoint := cfg.Endpoint
		secure := !strings.HasPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")
		client, err := NewMinIOClient(endpoint, cfg.AccessKey, cfg.SecretKey, secure)
		if err != nil {
			return nil, fmt.Errorf("failed to create MinIO client: %w", err)
		}
		return NewMinIOStore(client, cfg.Bucket), nil
	case "gcs":
		mgr, err := gcpclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP manager: %w", err)
		}
		client, err := mgr.Storage(ctx, cfg.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		return NewGCSStore(client, cfg.Bucket), nil
	case "file":
		return NewFileStore(cfg.Root, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}
