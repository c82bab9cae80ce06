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

// Package gcpclient builds Cloud Storage and Pub/Sub clients, optionally
// acting as an impersonated service account.
package gcpclient

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

// StorageClient is a Cloud Storage client plus the identity that signs URLs
// for it. SignerEmail is empty when the client library can work it out from
// the credentials itself.
type StorageClient struct {
	Client      *storage.Client
	SignerEmail string
	Tracer      trace.Tracer
}

type Manager struct {
	base   []option.ClientOption
	tracer trace.Tracer

	mu      sync.Mutex
	clients map[string]*StorageClient
}

type ManagerOption func(*Manager)

// WithClientOptions are passed to every client the manager creates.
func WithClientOptions(opts ...option.ClientOption) ManagerOption {
	return func(m *Manager) { m.base = append(m.base, opts...) }
}

func NewManager(_ context.Context, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		tracer:  otel.Tracer("github.com/cardinalhq/imagelake/internal/gcpclient"),
		clients: map[string]*StorageClient{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Storage returns the cached client acting as principal, or as the
// Application Default Credentials when principal is empty.
func (m *Manager) Storage(ctx context.Context, principal string) (*StorageClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[principal]; ok {
		return c, nil
	}

	opts, err := m.options(ctx, principal, storage.ScopeFullControl)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCP storage client: %w", err)
	}
	c := &StorageClient{Client: client, SignerEmail: principal, Tracer: m.tracer}
	m.clients[principal] = c
	return c, nil
}

// options are the manager's base options plus, for a non-empty principal,
// an impersonated token source limited to scope.
func (m *Manager) options(ctx context.Context, principal, scope string) ([]option.ClientOption, error) {
	opts := append([]option.ClientOption{}, m.base...)
	if principal == "" {
		return opts, nil
	}
	ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
		TargetPrincipal: principal,
		Scopes:          []string{scope},
	})
	if err != nil {
		return nil, fmt.Errorf("impersonating %s: %w", principal, err)
	}
	return append(opts, option.WithTokenSource(ts)), nil
}

// Close closes every cached client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for k, c := range m.clients {
		if err := c.Client.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.clients, k)
	}
	return first
}
