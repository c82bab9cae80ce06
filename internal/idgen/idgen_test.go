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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlakeIncreases(t *testing.T) {
	flake, err := NewFlake()
	require.NoError(t, err)

	first := flake.Next()
	assert.Greater(t, flake.Next(), first)
}

func TestInstanceIDIsStable(t *testing.T) {
	id := InstanceID()
	assert.Positive(t, id)
	assert.Equal(t, id, InstanceID())
}

func TestULIDGeneratorMonotonic(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Now()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.Make(now)
	}
	assert.True(t, sort.StringsAreSorted(ids))
	assert.NotEqual(t, ids[0], ids[1])
}

func TestULIDGeneratorConcurrent(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Now()

	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.Make(now)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 400)
}

func TestJobIDs(t *testing.T) {
	a, b := NewJobID(), NewJobID()
	assert.NotEqual(t, a, b)
	assert.True(t, ValidJobID(a))

	assert.False(t, ValidJobID(""))
	assert.False(t, ValidJobID("../etc"))
	assert.False(t, ValidJobID(".."))
	assert.False(t, ValidJobID(`a\b`))
}

func TestShortID(t *testing.T) {
	id := ShortID()
	assert.Len(t, id, 8)
	assert.NotContains(t, id, "=")
}
