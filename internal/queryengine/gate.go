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

package queryengine

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned for a search whose result arrived after a
// newer search had already started or finished.
var ErrSuperseded = errors.New("search superseded by a newer request")

// Gate serializes the visible outcome of overlapping searches. Every Run
// gets a sequence number; starting a run cancels the one still in flight,
// and a result is only published if no newer run has published first.
// Ordering is by issue order, never by completion order.
type Gate[T any] struct {
	mu           sync.Mutex
	issued       uint64
	published    uint64
	inflightSeq  uint64
	cancelFlight context.CancelFunc
	value        T
}

// Run executes fn as the newest search. It returns ErrSuperseded when the
// result must be discarded.
func (g *Gate[T]) Run(ctx context.Context, fn func(context.Context) (T, error)) (T, uint64, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.issued++
	seq := g.issued
	if g.cancelFlight != nil {
		g.cancelFlight()
	}
	g.inflightSeq, g.cancelFlight = seq, cancel
	g.mu.Unlock()

	v, err := fn(runCtx)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflightSeq == seq {
		g.inflightSeq, g.cancelFlight = 0, nil
	}
	var zero T
	if seq <= g.published || (err != nil && seq < g.issued) {
		return zero, seq, ErrSuperseded
	}
	if err != nil {
		return zero, seq, err
	}
	g.published = seq
	g.value = v
	return v, seq, nil
}

// Latest returns the most recently published result and its sequence
// number. ok is false until something has been published.
func (g *Gate[T]) Latest() (v T, seq uint64, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value, g.published, g.published > 0
}
