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

package snapshot

import (
	"context"
	"fmt"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

// WriteSidecar stores rec as a one-row pending file keyed by its id.
// Writing the same record twice yields the same object.
func WriteSidecar(ctx context.Context, store objstore.Store, rec catalog.Record) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", err
	}
	data, _, err := Encode([]catalog.Record{rec}, 1)
	if err != nil {
		return "", err
	}
	key := catalog.SidecarKey(rec.ID)
	if err := store.Put(ctx, key, data, parquetContentType); err != nil {
		return "", fmt.Errorf("write sidecar %s: %w", key, err)
	}
	return key, nil
}

// ReadSidecar loads every record in a pending file.
func ReadSidecar(ctx context.Context, store objstore.Store, key string) ([]catalog.Record, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", key, err)
	}
	recs, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", key, err)
	}
	return recs, nil
}

// ListSidecars returns the pending sidecar keys in key order.
func ListSidecars(ctx context.Context, store objstore.Store) ([]objstore.ObjectInfo, error) {
	infos, err := store.List(ctx, catalog.PendingPrefix)
	if err != nil {
		return nil, fmt.Errorf("list sidecars: %w", err)
	}
	out := infos[:0]
	for _, info := range infos {
		if _, ok := catalog.JobIDFromSidecarKey(info.Key); ok {
			out = append(out, info)
		}
	}
	return out, nil
}
