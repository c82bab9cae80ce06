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
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSub returns a new, uncached Pub/Sub client for project. The caller
// owns it and must Close it.
func (m *Manager) PubSub(ctx context.Context, project, principal string) (*pubsub.Client, error) {
	if project == "" {
		return nil, fmt.Errorf("pubsub: project is required")
	}
	opts, err := m.options(ctx, principal, pubsub.ScopePubSub)
	if err != nil {
		return nil, err
	}
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCP pubsub client: %w", err)
	}
	return client, nil
}
