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

package pubsub

import (
	"context"
	"fmt"
)

// NewBackend creates a new Backend implementation based on the configured type
func NewBackend(ctx context.Context, cfg Config, dispatcher *Dispatcher) (Backend, error) {
	switch cfg.Backend {
	case BackendTypeSQS, "":
		return NewSQSService(ctx, cfg, dispatcher)
	case BackendTypeGCPPubSub:
		return NewGCPPubSubService(ctx, cfg, dispatcher)
	case BackendTypeAzure:
		return NewAzureQueueService(ctx, cfg, dispatcher)
	case BackendTypeHTTP:
		return nil, fmt.Errorf("backend %s is served by the events webhook, not a poller", cfg.Backend)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Backend)
	}
}
