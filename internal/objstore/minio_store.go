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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOStore targets self-hosted S3-compatible deployments with static keys.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinIOStore)(nil)

// NewMinIOClient builds a client for endpoint (host:port, no scheme).
func NewMinIOClient(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
}

func NewMinIOStore(client *minio.Client, bucket string) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket}
}

func (s *MinIOStore) Bucket() string { return s.bucket }

func minioIs404(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key, minio.GetObjectOptions{}, false)
}

func (s *MinIOStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, err
	}
	return s.get(ctx, key, opts, true)
}

func (s *MinIOStore) get(ctx context.Context, key string, opts minio.GetObjectOptions, ranged bool) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		if minioIs404(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if minioIs404(err) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "read_failed")
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, err)
	}
	recordDownload(ctx, s.bucket, int64(len(data)), ranged)
	return data, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", s.bucket, key, err)
	}
	recordUpload(ctx, s.bucket, int64(len(data)))
	return nil
}

func (s *MinIOStore) PutFile(ctx context.Context, key, filename, contentType string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, key, filename, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", s.bucket, key, err)
	}
	recordUpload(ctx, s.bucket, info.Size)
	return nil
}

func (s *MinIOStore) Download(ctx context.Context, key, dir string) (string, int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", 0, fmt.Errorf("get %s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = obj.Close() }()

	f, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(f, obj)
	if err != nil {
		_ = os.Remove(f.Name())
		if minioIs404(err) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return "", 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "copy_failed")
		return "", 0, fmt.Errorf("download %s/%s: %w", s.bucket, key, err)
	}
	recordDownload(ctx, s.bucket, n, false)
	return f.Name(), n, nil
}

func (s *MinIOStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minioIs404(err) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", s.bucket, key, err)
	}
	return ObjectInfo{Key: key, Size: info.Size, LastModified: info.LastModified.UTC(), ETag: info.ETag}, nil
}

func (s *MinIOStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, prefix, obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified.UTC(), ETag: obj.ETag})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !minioIs404(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// DeleteIfUnchanged checks the ETag first; RemoveObject has no
// precondition.
func (s *MinIOStore) DeleteIfUnchanged(ctx context.Context, info ObjectInfo) (bool, error) {
	return deleteIfSame(ctx, s, info)
}

func (s *MinIOStore) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	var failed []string
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			failed = append(failed, key)
		}
	}
	return failed, nil
}

func (s *MinIOStore) PresignPut(ctx context.Context, key, _ string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.bucket, key, err)
	}
	return u.String(), nil
}
