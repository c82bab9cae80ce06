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

package idgen

import (
	crand "crypto/rand"
	"encoding/base32"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sony/sonyflake"
)

// Epoch is where instance ids start counting; ids fit 39 bits of 10ms
// ticks from here.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// InstanceID identifies this process in telemetry. It is drawn once, on
// first use; if sonyflake cannot work out a machine id the value is random.
var InstanceID = sync.OnceValue(func() int64 {
	flake, err := NewFlake()
	if err != nil {
		return rand.Int64N(1 << 62)
	}
	return flake.Next()
})

// Flake hands out positive int64 ids that grow with time.
type Flake struct {
	sf *sonyflake.Sonyflake
}

func NewFlake() (*Flake, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: Epoch})
	switch {
	case err != nil:
		return nil, err
	case sf == nil:
		return nil, errors.New("sonyflake: no machine id")
	}
	return &Flake{sf: sf}, nil
}

// Next falls back to a random id once the clock range is exhausted.
func (f *Flake) Next() int64 {
	if v, err := f.sf.NextID(); err == nil {
		return int64(v)
	}
	return rand.Int64N(1 << 62)
}

// ULIDGenerator makes lexically sortable ids, strictly increasing within one
// process even when called in the same millisecond.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(crand.Reader, 0)}
}

func (u *ULIDGenerator) Make(t time.Time) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), u.entropy).String()
}

// NewJobID returns a fresh upload job id.
func NewJobID() string {
	return uuid.NewString()
}

// ValidJobID reports whether s looks like a job id. Job ids end up inside
// object keys, so anything with a path separator is refused.
func ValidJobID(s string) bool {
	if s == "" || len(s) > 128 || strings.ContainsAny(s, "/\\") || s == "." || s == ".." {
		return false
	}
	return true
}

// ShortID returns an 8 character base32 id for log correlation.
// Not for anything security sensitive.
func ShortID() string {
	b := make([]byte, 5)
	_, _ = crand.Read(b)
	return strings.ToLower(base32.StdEncoding.EncodeToString(b))
}
