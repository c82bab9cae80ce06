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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/imagelake/internal/azureclient"
)

// AzureStore maps the bucket onto a blob container.
type AzureStore struct {
	client    *azureclient.BlobClient
	container string
}

var _ Store = (*AzureStore)(nil)

func NewAzureStore(client *azureclient.BlobClient, container string) *AzureStore {
	return &AzureStore{client: client, container: container}
}

func (s *AzureStore) Bucket() string { return s.container }

func (s *AzureStore) span(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return s.client.Tracer.Start(ctx, "objstore.azure."+name,
		trace.WithAttributes(
			attribute.String("bucket", s.container),
			attribute.String("key", key),
		),
	)
}

func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.download(ctx, key, blob.HTTPRange{})
}

func (s *AzureStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	return s.download(ctx, key, blob.HTTPRange{Offset: offset, Count: length})
}

func (s *AzureStore) download(ctx context.Context, key string, rng blob.HTTPRange) ([]byte, error) {
	ctx, span := s.span(ctx, "download", key)
	defer span.End()

	resp, err := s.client.Client.DownloadStream(ctx, s.container, key, &azblob.DownloadStreamOptions{Range: rng})
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			recordDownloadError(ctx, s.container, "not_found")
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.container, "unknown")
		return nil, fmt.Errorf("download blob %s/%s: %w", s.container, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		recordDownloadError(ctx, s.container, "copy_failed")
		return nil, fmt.Errorf("read blob %s/%s: %w", s.container, key, err)
	}
	recordDownload(ctx, s.container, int64(len(data)), rng.Count > 0)
	return data, nil
}

func (s *AzureStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, span := s.span(ctx, "upload", key)
	defer span.End()

	opts := &azblob.UploadBufferOptions{
		Metadata: map[string]*string{"writer": to.Ptr("imagelake-go")},
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if _, err := s.client.Client.UploadBuffer(ctx, s.container, key, data, opts); err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", s.container, key, err)
	}
	recordUpload(ctx, s.container, int64(len(data)))
	return nil
}

func (s *AzureStore) PutFile(ctx context.Context, key, filename, contentType string) error {
	ctx, span := s.span(ctx, "uploadFile", key)
	defer span.End()

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", filename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	opts := &azblob.UploadStreamOptions{
		Metadata: map[string]*string{"writer": to.Ptr("imagelake-go")},
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}
	if _, err := s.client.Client.UploadStream(ctx, s.container, key, file, opts); err != nil {
		return fmt.Errorf("failed to upload blob %s/%s: %w", s.container, key, err)
	}
	recordUpload(ctx, s.container, stat.Size())
	return nil
}

func (s *AzureStore) Download(ctx context.Context, key, dir string) (string, int64, error) {
	ctx, span := s.span(ctx, "downloadFile", key)
	defer span.End()

	resp, err := s.client.Client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			recordDownloadError(ctx, s.container, "not_found")
			return "", 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.container, "unknown")
		return "", 0, fmt.Errorf("download blob %s/%s: %w", s.container, key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	size, err := io.Copy(f, resp.Body)
	if err != nil {
		_ = os.Remove(f.Name())
		recordDownloadError(ctx, s.container, "copy_failed")
		return "", 0, fmt.Errorf("copy blob content: %w", err)
	}
	recordDownload(ctx, s.container, size, false)
	return f.Name(), size, nil
}

func (s *AzureStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, span := s.span(ctx, "properties", key)
	defer span.End()

	bc := s.client.Client.ServiceClient().NewContainerClient(s.container).NewBlobClient(key)
	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("properties %s/%s: %w", s.container, key, err)
	}
	info := ObjectInfo{Key: key}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		info.LastModified = props.LastModified.UTC()
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	return info, nil
}

func (s *AzureStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, span := s.span(ctx, "list", prefix)
	defer span.End()

	var out []ObjectInfo
	pager := s.client.Client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.container, prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := ObjectInfo{Key: *item.Name}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					info.Size = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					info.LastModified = item.Properties.LastModified.UTC()
				}
				if item.Properties.ETag != nil {
					info.ETag = string(*item.Properties.ETag)
				}
			}
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *AzureStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.span(ctx, "delete", key)
	defer span.End()

	_, err := s.client.Client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete blob %s/%s: %w", s.container, key, err)
	}
	return nil
}

func (s *AzureStore) DeleteIfUnchanged(ctx context.Context, info ObjectInfo) (bool, error) {
	if info.ETag == "" {
		return deleteIfSame(ctx, s, info)
	}
	ctx, span := s.span(ctx, "delete", info.Key)
	defer span.End()

	_, err := s.client.Client.DeleteBlob(ctx, s.container, info.Key, &blob.DeleteOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: to.Ptr(azcore.ETag(info.ETag))},
		},
	})
	switch {
	case err == nil:
		return true, nil
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ConditionNotMet):
		return false, nil
	}
	span.RecordError(err)
	return false, fmt.Errorf("failed to delete blob %s/%s: %w", s.container, info.Key, err)
}

// DeleteMany deletes sequentially; the blob API has no batch delete here.
func (s *AzureStore) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := s.client.Tracer.Start(ctx, "objstore.azure.deleteMany",
		trace.WithAttributes(
			attribute.String("bucket", s.container),
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

// PresignPut hands out a user delegation SAS. Uploaders must also send
// "x-ms-blob-type: BlockBlob".
func (s *AzureStore) PresignPut(ctx context.Context, key, _ string, expiry time.Duration) (string, error) {
	ctx, span := s.span(ctx, "presign", key)
	defer span.End()

	u, err := s.client.UploadURL(ctx, s.container, key, expiry)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("presign azure://%s/%s: %w", s.container, key, err)
	}
	return u, nil
}
