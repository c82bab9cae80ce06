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

package gcpclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestStorageCachesByPrincipal(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, WithClientOptions(option.WithoutAuthentication()))
	require.NoError(t, err)

	c, err := m.Storage(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, c.SignerEmail)
	assert.NotNil(t, c.Tracer)

	again, err := m.Storage(ctx, "")
	require.NoError(t, err)
	assert.Same(t, c, again)

	require.NoError(t, m.Close())
	fresh, err := m.Storage(ctx, "")
	require.NoError(t, err)
	assert.NotSame(t, c, fresh)
	require.NoError(t, m.Close())
}

func TestPubSubClient(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(ctx, WithClientOptions(option.WithoutAuthentication(), option.WithEndpoint("localhost:8085")))
	require.NoError(t, err)

	_, err = m.PubSub(ctx, "", "")
	assert.Error(t, err)

	client, err := m.PubSub(ctx, "imagery", "")
	require.NoError(t, err)
	assert.Equal(t, "imagery", client.Project())
	require.NoError(t, client.Close())
}
