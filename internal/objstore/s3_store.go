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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/imagelake/internal/awsclient"
)

// S3 batch delete supports up to 1000 objects per request.
const s3MaxDeleteBatch = 1000

// S3Store talks to AWS S3 or anything speaking its API (GCS interop, Ceph).
type S3Store struct {
	client *awsclient.S3Client
	bucket string
}

var _ Store = (*S3Store)(nil)

func NewS3Store(client *awsclient.S3Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Bucket() string { return s.bucket }

func s3PreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusPreconditionFailed
}

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Store) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return s.client.Tracer.Start(ctx, "objstore.s3."+name,
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.String("key", key),
		),
	)
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, key, nil)
}

func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	return s.get(ctx, key, aws.String(rng))
}

func (s *S3Store) get(ctx context.Context, key string, rng *string) ([]byte, error) {
	ctx, span := s.span(ctx, "get", key)
	defer span.End()

	out, err := s.client.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  rng,
	})
	if err != nil {
		if s3ErrorIs404(err) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return nil, fmt.Errorf("get %s/%s: %w", s.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		recordDownloadError(ctx, s.bucket, "read_failed")
		return nil, fmt.Errorf("read %s/%s: %w", s.bucket, key, err)
	}
	recordDownload(ctx, s.bucket, int64(len(data)), rng != nil)
	return data, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return s.upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func (s *S3Store) PutFile(ctx context.Context, key, filename, contentType string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", filename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	return s.upload(ctx, key, file, stat.Size(), contentType)
}

func (s *S3Store) upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	ctx, span := s.span(ctx, "upload", key)
	defer span.End()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
		Metadata: map[string]string{
			"writer": "imagelake-go",
		},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	uploader := manager.NewUploader(s.client.Client)
	if _, err := uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s/%s: %w", s.bucket, key, err)
	}
	recordUpload(ctx, s.bucket, size)
	return nil
}

func (s *S3Store) Download(ctx context.Context, key, dir string) (string, int64, error) {
	ctx, span := s.span(ctx, "download", key)
	defer span.End()

	f, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	downloader := manager.NewDownloader(s.client.Client)
	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		if s3ErrorIs404(err) {
			recordDownloadError(ctx, s.bucket, "not_found")
			return "", 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return "", 0, fmt.Errorf("download %s/%s: %w", s.bucket, key, err)
	}
	recordDownload(ctx, s.bucket, size, false)

	// close on success; the SDK has already flushed the bytes
	_ = f.Close()
	return f.Name(), size, nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, span := s.span(ctx, "head", key)
	defer span.End()

	out, err := s.client.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("head %s/%s: %w", s.bucket, key, err)
	}
	info := ObjectInfo{Key: key, Size: aws.ToInt64(out.ContentLength), ETag: aws.ToString(out.ETag)}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.UTC()
	}
	return info, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := s.span(ctx, "list", prefix)
	defer span.End()

	var out []ObjectInfo
	pager := s3.NewListObjectsV2Paginator(s.client.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size), ETag: aws.ToString(obj.ETag)}
			if obj.LastModified != nil {
				info.LastModified = obj.LastModified.UTC()
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "delete", key)
	defer span.End()

	_, err := s.client.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !s3ErrorIs404(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// DeleteIfUnchanged sends the listed ETag as If-Match. Endpoints that
// ignore the header delete unconditionally.
func (s *S3Store) DeleteIfUnchanged(ctx context.Context, info ObjectInfo) (bool, error) {
	if info.ETag == "" {
		return deleteIfSame(ctx, s, info)
	}
	ctx, span := s.span(ctx, "delete", info.Key)
	defer span.End()

	_, err := s.client.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket:  aws.String(s.bucket),
		Key:     aws.String(info.Key),
		IfMatch: aws.String(info.ETag),
	})
	switch {
	case err == nil:
		return true, nil
	case s3ErrorIs404(err), s3PreconditionFailed(err):
		return false, nil
	}
	span.RecordError(err)
	return false, fmt.Errorf("failed to delete %s/%s: %w", s.bucket, info.Key, err)
}

func (s *S3Store) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := s.client.Tracer.Start(ctx, "objstore.s3.deleteMany",
		trace.WithAttributes(
			attribute.String("bucket", s.bucket),
			attribute.Int("object_count", len(keys)),
		),
	)
	defer span.End()

	var allFailed []string
	for _, batch := range batches(keys, s3MaxDeleteBatch) {
		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		result, err := s.client.Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			// If the entire batch fails, consider all keys failed
			allFailed = append(allFailed, batch...)
			continue
		}
		for _, failed := range result.Errors {
			if failed.Key != nil {
				allFailed = append(allFailed, *failed.Key)
			}
		}
	}
	if len(allFailed) > 0 {
		span.SetAttributes(attribute.Int("failed_object_count", len(allFailed)))
	}
	return allFailed, nil
}

func (s *S3Store) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := s.client.Presigner.PresignPutObject(ctx, input, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.bucket, key, err)
	}
	return req.URL, nil
}
