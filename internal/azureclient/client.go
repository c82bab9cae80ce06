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

// Package azureclient builds and caches Azure Storage clients for the blob
// store and the event queue.
package azureclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Manager struct {
	cred   azcore.TokenCredential
	tracer trace.Tracer

	mu    sync.Mutex
	blobs map[string]*BlobClient
}

type ManagerOption func(*Manager)

// WithCredential replaces the default credential chain.
func WithCredential(cred azcore.TokenCredential) ManagerOption {
	return func(m *Manager) { m.cred = cred }
}

// NewManager uses DefaultAzureCredential unless a credential is supplied.
func NewManager(_ context.Context, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		tracer: otel.Tracer("github.com/cardinalhq/imagelake/internal/azureclient"),
		blobs:  map[string]*BlobClient{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cred == nil {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("loading Azure credentials: %w", err)
		}
		m.cred = cred
	}
	return m, nil
}
