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
	"io"
)

// RangeObserver is told about every ranged read a RangeReaderAt issues.
type RangeObserver func(key string, offset, length int64)

// RangeReaderAt exposes one remote object as an io.ReaderAt, turning each
// ReadAt into a ranged GET. Columnar readers only touch the byte ranges they
// need, so nothing is fetched that the caller did not ask for.
type RangeReaderAt struct {
	ctx      context.Context
	store    Store
	key      string
	size     int64
	observer RangeObserver
}

var _ io.ReaderAt = (*RangeReaderAt)(nil)

// NewRangeReaderAt binds ctx for the lifetime of the reader; every ReadAt
// made through it is cancelled with ctx.
func NewRangeReaderAt(ctx context.Context, store Store, key string, size int64, observer RangeObserver) *RangeReaderAt {
	return &RangeReaderAt{ctx: ctx, store: store, key: key, size: size, observer: observer}
}

func (r *RangeReaderAt) Size() int64 { return r.size }

func (r *RangeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	short := false
	if off+length > r.size {
		length = r.size - off
		short = true
	}
	if r.observer != nil {
		r.observer(r.key, off, length)
	}
	data, err := r.store.GetRange(r.ctx, r.key, off, length)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if short || int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}
