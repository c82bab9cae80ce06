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
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileStore keeps objects as files under base/bucket. It backs local
// development and every test that would otherwise need a cloud bucket.
type FileStore struct {
	base   string
	bucket string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at base with bucket as a subdirectory.
func NewFileStore(base, bucket string) *FileStore {
	return &FileStore{base: base, bucket: bucket}
}

func (s *FileStore) Bucket() string { return s.bucket }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.base, s.bucket, filepath.FromSlash(key))
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		recordDownloadError(ctx, s.bucket, "unknown")
		return nil, err
	}
	recordDownload(ctx, s.bucket, int64(len(data)), false)
	return data, nil
}

func (s *FileStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		recordDownloadError(ctx, s.bucket, "unknown")
		return nil, err
	}
	recordDownload(ctx, s.bucket, int64(n), true)
	return buf[:n], nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// Write then rename so readers never observe a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	recordUpload(ctx, s.bucket, int64(len(data)))
	return nil
}

func (s *FileStore) PutFile(ctx context.Context, key, filename, contentType string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read source file %s: %w", filename, err)
	}
	return s.Put(ctx, key, data, contentType)
}

// Download copies the requested object to a temp file and returns the filename.
func (s *FileStore) Download(ctx context.Context, key, dir string) (string, int64, error) {
	src, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", 0, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return "", 0, err
	}
	defer func() { _ = src.Close() }()

	// Keep the original name so extension-based detection still works.
	dst, err := os.CreateTemp(dir, "*-"+filepath.Base(key))
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = dst.Close() }()

	n, err := io.Copy(dst, src)
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", 0, err
	}
	recordDownload(ctx, s.bucket, n, false)
	return dst.Name(), n, nil
}

func (s *FileStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	fi, err := os.Stat(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return ObjectInfo{}, err
	}
	return fileInfo(key, fi), nil
}

func (s *FileStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	root := filepath.Join(s.base, s.bucket)
	var out []ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") || strings.HasPrefix(d.Name(), ".del-") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, fileInfo(key, fi))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteIfUnchanged moves the file aside before comparing it. A Put that
// lands after the move becomes the object and is kept; if the moved file
// turns out to be a newer write it is linked back unless an even newer
// one already took its place.
func (s *FileStore) DeleteIfUnchanged(_ context.Context, info ObjectInfo) (bool, error) {
	src := s.path(info.Key)
	tomb, err := os.CreateTemp(filepath.Dir(src), ".del-*")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = tomb.Close()
	defer func() { _ = os.Remove(tomb.Name()) }()

	if err := os.Rename(src, tomb.Name()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if fi, err := os.Stat(tomb.Name()); err == nil && SameVersion(info, fileInfo(info.Key, fi)) {
		return true, nil
	}
	if err := os.Link(tomb.Name(), src); err != nil && !errors.Is(err, fs.ErrExist) {
		return false, fmt.Errorf("restore %s: %w", info.Key, err)
	}
	return false, nil
}

// DeleteMany has no native batch form on a filesystem, so it deletes one by one.
func (s *FileStore) DeleteMany(ctx context.Context, keys []string) ([]string, error) {
	var failed []string
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			failed = append(failed, key)
		}
	}
	return failed, nil
}

// PresignPut returns a file:// URL pointing at where the object will live.
// There is no signature; local mode trusts the caller.
func (s *FileStore) PresignPut(_ context.Context, key, _ string, expiry time.Duration) (string, error) {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(key))}
	q := u.Query()
	q.Set("expires", time.Now().Add(expiry).UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// fileInfo derives an ETag from mtime, size and inode.
func fileInfo(key string, fi fs.FileInfo) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UTC(),
		ETag:         fmt.Sprintf("%x-%x-%x", fi.ModTime().UnixNano(), fi.Size(), inode(fi)),
	}
}
