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

// Package objstore provides a single bucket-scoped interface over the object
// stores the catalog can live in.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	// ETag changes whenever the object is rewritten. Empty when the
	// backend reported none.
	ETag string
}

// SameVersion reports whether a and b describe the same write of an
// object, by ETag when both carry one.
func SameVersion(a, b ObjectInfo) bool {
	if a.Key != b.Key {
		return false
	}
	if a.ETag != "" && b.ETag != "" {
		return a.ETag == b.ETag
	}
	return a.Size == b.Size && a.LastModified.Equal(b.LastModified)
}

// Store is bound to a single bucket (or container, or directory).
type Store interface {
	// Get returns the whole object.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetRange returns length bytes starting at offset.
	GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes data, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// PutFile uploads a local file, replacing any existing object.
	PutFile(ctx context.Context, key, filename, contentType string) error

	// Download copies the object to a temp file in dir and returns its name.
	Download(ctx context.Context, key, dir string) (filename string, size int64, err error)

	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfUnchanged removes info.Key only while it still holds the
	// write info describes. It returns false, without an error, when the
	// object has since been rewritten or removed.
	DeleteIfUnchanged(ctx context.Context, info ObjectInfo) (bool, error)

	// DeleteMany removes keys in batches and returns the ones that failed.
	DeleteMany(ctx context.Context, keys []string) ([]string, error)

	// PresignPut returns a URL the caller can PUT the object to directly.
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// Bucket names the bucket this store is bound to.
	Bucket() string
}

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
	rangeCount     metric.Int64Counter
	uploadCount    metric.Int64Counter
	uploadBytes    metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/imagelake/internal/objstore")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"imagelake.objstore.download.errors",
		metric.WithDescription("Number of object download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"imagelake.objstore.download.count",
		metric.WithDescription("Number of object downloads, including range reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"imagelake.objstore.download.bytes",
		metric.WithDescription("Bytes downloaded from object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}

	rangeCount, err = meter.Int64Counter(
		"imagelake.objstore.range.count",
		metric.WithDescription("Number of ranged reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create range.count counter: %w", err))
	}

	uploadCount, err = meter.Int64Counter(
		"imagelake.objstore.upload.count",
		metric.WithDescription("Number of object uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"imagelake.objstore.upload.bytes",
		metric.WithDescription("Bytes uploaded to object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}
}

func recordDownload(ctx context.Context, bucket string, n int64, ranged bool) {
	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, n, attrs)
	if ranged {
		rangeCount.Add(ctx, 1, attrs)
	}
}

func recordDownloadError(ctx context.Context, bucket, reason string) {
	downloadErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("reason", reason),
	))
}

func recordUpload(ctx context.Context, bucket string, n int64) {
	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, n, attrs)
}

// checkRange validates a ranged read request.
func checkRange(offset, length int64) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("invalid range offset=%d length=%d", offset, length)
	}
	return nil
}

// batches splits keys into slices of at most size entries.
func batches(keys []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(keys); i += size {
		end := min(i+size, len(keys))
		out = append(out, keys[i:end])
	}
	return out
}

// deleteIfSame is DeleteIfUnchanged for backends without conditional
// deletes. A rewrite landing between the Stat and the Delete is lost.
func deleteIfSame(ctx context.Context, store Store, info ObjectInfo) (bool, error) {
	now, err := store.Stat(ctx, info.Key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !SameVersion(info, now) {
		return false, nil
	}
	return true, store.Delete(ctx, info.Key)
}
