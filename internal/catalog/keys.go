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

package catalog

import (
	"path"
	"strings"
)

// Object key layout. Everything a job produces is keyed by its id so a
// re-run overwrites rather than duplicates.
const (
	StagingPrefix   = "staging/"
	UploadsPrefix   = "uploads/"
	ImageryPrefix   = "imagery/"
	ThumbnailPrefix = "thumbnails/"
	PendingPrefix   = "catalog/pending/"
	SnapshotPrefix  = "catalog/snapshots/"
	CurrentKey      = "catalog/CURRENT"

	rawImageName = "image.tif"
	sidecarExt   = ".parquet"
)

func StagingDir(jobID string) string        { return StagingPrefix + jobID + "/" }
func RawImageKey(jobID string) string       { return StagingDir(jobID) + rawImageName }
func UploadMetaKey(jobID string) string     { return StagingDir(jobID) + "meta.json" }
func StatusKey(jobID string) string         { return UploadsPrefix + jobID + "/status.json" }
func COGKey(jobID string) string            { return ImageryPrefix + jobID + ".tif" }
func ThumbnailKey(jobID string) string      { return ThumbnailPrefix + jobID + ".webp" }
func SidecarKey(jobID string) string        { return PendingPrefix + jobID + sidecarExt }
func SnapshotDataKey(ver string) string     { return SnapshotPrefix + ver + ".parquet" }
func SnapshotManifestKey(ver string) string { return SnapshotPrefix + ver + ".json" }

// JobIDFromRawKey extracts the job id from a staging/{id}/image.* key.
// It returns false for any other key, including the metadata object.
func JobIDFromRawKey(key string) (string, bool) {
	if !strings.HasPrefix(key, StagingPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, StagingPrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", false
	}
	if !strings.HasPrefix(parts[1], "image.") {
		return "", false
	}
	return parts[0], true
}

// JobIDFromSidecarKey returns the job id a pending sidecar belongs to.
func JobIDFromSidecarKey(key string) (string, bool) {
	if !strings.HasPrefix(key, PendingPrefix) || !strings.HasSuffix(key, sidecarExt) {
		return "", false
	}
	id := strings.TrimSuffix(path.Base(key), sidecarExt)
	return id, id != ""
}
