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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/cardinalhq/imagelake/internal/gcpclient"
)

// GCSStore talks to Cloud Storage through its native API rather than the
// S3 interoperability endpoint, so it can sign upload URLs.
type GCSStore struct {
	client *gcpclient.StorageClient
	bucket string
}

var _ Store = (*GCSStore)(nil)

func NewGCSStore(client *gcpclient.StorageClient, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return s.client.Tracer.Start(ctx, "objstore.gcs."+name,
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		),
	)
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.client.Client.Bucket(s.bucket).Object(key)
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.read(ctx, key, 0, -1)
}

func (s *GCSStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	return s.read(ctx, key, offset, length)
}

func (s *GCSStore) read(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	ctx, span := s.span(ctx, "download", key)
	defer span.End()

	r, err := s.object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		recordDownloadError(ctx, s.bucket, "copy_failed")
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	recordDownload(ctx, s.bucket, int64(len(data)), length > 0)
	return data, nil
}

func (s *GCSStore) write(ctx context.Context, key string, src io.Reader, contentType string) (int64, error) {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"writer": "imagelake-go"}

	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("finish gs://%s/%s: %w", s.bucket, key, err)
	}
	return n, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := s.span(ctx, "upload", key)
	defer span.End()

	n, err := s.write(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return err
	}
	recordUpload(ctx, s.bucket, n)
	return nil
}

func (s *GCSStore) PutFile(ctx context.Context, key, filename, contentType string) error {
	ctx, span := s.span(ctx, "uploadFile", key)
	defer span.End()

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", filename, err)
	}
	defer func() { _ = f.Close() }()

	n, err := s.write(ctx, key, f, contentType)
	if err != nil {
		return err
	}
	recordUpload(ctx, s.bucket, n)
	return nil
}

func (s *GCSStore) Download(ctx context.Context, key, dir string) (string, int64, error) {
	ctx, span := s.span(ctx, "downloadFile", key)
	defer span.End()

	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return "", 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return "", 0, fmt.Errorf("read gs://%s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = r.Close() }()

	f, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	size, err := io.Copy(f, r)
	if err != nil {
		_ = os.Remove(f.Name())
		recordDownloadError(ctx, s.bucket, "copy_failed")
		return "", 0, fmt.Errorf("copy object content: %w", err)
	}
	recordDownload(ctx, s.bucket, size, false)
	return f.Name(), size, nil
}

func (s *GCSStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, span := s.span(ctx, "attrs", key)
	defer span.End()

	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("attrs gs://%s/%s: %w", s.bucket, key, err)
	}
	return gcsInfo(attrs), nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := s.span(ctx, "list", prefix)
	defer span.End()

	var out []ObjectInfo
	it := s.client.Client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		out = append(out, gcsInfo(attrs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "delete", key)
	defer span.End()

	if err := s.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// DeleteIfUnchanged deletes on a generation match. The ETag of a GCS
// ObjectInfo is its generation.
func (s *GCSStore) DeleteIfUnchanged(ctx context.Context, info ObjectInfo) (bool, error) {
	gen, err := strconv.ParseInt(info.ETag, 10, 64)
	if err != nil || gen == 0 {
		return deleteIfSame(ctx, s, info)
	}
	ctx, span := s.span(ctx, "delete", info.Key)
	defer span.End()

	err = s.object(info.Key).If(storage.Conditions{GenerationMatch: gen}).Delete(ctx)
	var gerr *googleapi.Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrObjectNotExist):
		return false, nil
	case errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed:
		return false, nil
	}
	span.RecordError(err)
	return false, fmt.Errorf("failed to delete gs://%s/%s: %w", s.bucket, info.Key, err)
}

func (s *GCSStore) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := s.client.Tracer.Start(ctx, "objstore.gcs.deleteMany",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.Int("object_count", len(keys)),
		),
	)
	defer span.End()

	var failed []string
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			failed = append(failed, key)
			span.RecordError(err)
		}
	}
	if len(failed) > 0 {
		span.SetAttributes(attribute.Int("failed_object_count", len(failed)))
	}
	return failed, nil
}

// PresignPut needs credentials that can sign, such as a service account key
// or the IAM signBlob permission on the impersonated account.
func (s *GCSStore) PresignPut(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	u, err := s.client.Client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		GoogleAccessID: s.client.SignerEmail,
		Scheme:         storage.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Expires:        time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign upload url for gs://%s/%s: %w", s.bucket, key, err)
	}
	return u, nil
}

// gcsInfo uses the object generation as the ETag. Every overwrite gets a
// new generation.
func gcsInfo(attrs *storage.ObjectAttrs) ObjectInfo {
	return ObjectInfo{
		Key:          attrs.Name,
		Size:         attrs.Size,
		LastModified: attrs.Updated.UTC(),
		ETag:         strconv.FormatInt(attrs.Generation, 10),
	}
}
