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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateDiscardsOutOfOrderCompletion(t *testing.T) {
	var g Gate[string]
	ctx := context.Background()

	started := make(chan struct{})
	finish := make(chan struct{})
	var firstCtx context.Context
	type outcome struct {
		v   string
		seq uint64
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		v, seq, err := g.Run(ctx, func(ctx context.Context) (string, error) {
			firstCtx = ctx
			close(started)
			<-finish
			// Ignores cancellation and completes anyway.
			return "older viewport", nil
		})
		first <- outcome{v, seq, err}
	}()
	<-started

	v, seq2, err := g.Run(ctx, func(context.Context) (string, error) {
		return "newer viewport", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "newer viewport", v)
	assert.Equal(t, uint64(2), seq2)
	assert.Error(t, firstCtx.Err(), "older search is cancelled when a newer one starts")

	close(finish)
	res := <-first
	assert.Equal(t, uint64(1), res.seq)
	assert.ErrorIs(t, res.err, ErrSuperseded)
	assert.Empty(t, res.v)

	latest, seq, ok := g.Latest()
	require.True(t, ok)
	assert.Equal(t, "newer viewport", latest)
	assert.Equal(t, uint64(2), seq)
}

func TestGateInOrderCompletionPublishesBoth(t *testing.T) {
	var g Gate[int]
	ctx := context.Background()

	v, _, err := g.Run(ctx, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, _, err = g.Run(ctx, func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	latest, _, _ := g.Latest()
	assert.Equal(t, 2, latest)
}

func TestGateCancelledOlderRunReportsSuperseded(t *testing.T) {
	var g Gate[int]
	ctx := context.Background()

	started := make(chan struct{})
	res := make(chan error, 1)
	go func() {
		_, _, err := g.Run(ctx, func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		res <- err
	}()
	<-started

	_, _, err := g.Run(ctx, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.ErrorIs(t, <-res, ErrSuperseded)
}

func TestGatePassesThroughErrors(t *testing.T) {
	var g Gate[int]
	boom := errors.New("boom")
	_, _, err := g.Run(context.Background(), func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	_, _, ok := g.Latest()
	assert.False(t, ok)
}
