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

package azureclient

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// Queue returns a client for the storage queue at queueURL, e.g.
// https://<account>.queue.core.windows.net/<queue>. Queue clients are cheap
// and not cached.
func (m *Manager) Queue(_ context.Context, queueURL string) (*azqueue.QueueClient, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	qc, err := azqueue.NewQueueClient(queueURL, m.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return qc, nil
}
