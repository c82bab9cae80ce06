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

package uploadauth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/ingest"
	"github.com/cardinalhq/imagelake/internal/objstore"
)

func writeKeys(t *testing.T, contents string) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "keys.yaml")
	require.NoError(t, os.WriteFile(name, []byte(contents), 0644))
	return name
}

func TestLoadKeys(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		single    string
		apiKey    string
		wantOwner string
		wantOK    bool
	}{
		{
			name: "listed key",
			config: `apikeys:
  - name: "field-team"
    key: "uk_123"
    description: "Drone crew"`,
			apiKey:    "uk_123",
			wantOwner: "field-team",
			wantOK:    true,
		},
		{
			name: "unknown key",
			config: `apikeys:
  - name: "field-team"
    key: "uk_123"`,
			apiKey: "uk_999",
		},
		{
			name:   "empty list rejects",
			config: "apikeys: []",
			apiKey: "anything",
		},
		{
			name:      "single key from env",
			config:    "other: value",
			single:    "solo",
			apiKey:    "solo",
			wantOwner: "default",
			wantOK:    true,
		},
		{
			name:   "empty key never matches",
			config: "apikeys:\n  - name: blank\n    key: \"\"",
			apiKey: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadKeys(writeKeys(t, tt.config), tt.single)
			require.NoError(t, err)
			owner, ok := p.Lookup(tt.apiKey)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantOwner, owner.Name)
			assert.Empty(t, owner.Key)
		})
	}
}

func TestLoadKeysFromEnv(t *testing.T) {
	t.Setenv("IMAGELAKE_TEST_KEYS", "apikeys:\n  - name: ci\n    key: k1\n")
	p, err := LoadKeys("env:IMAGELAKE_TEST_KEYS", "")
	require.NoError(t, err)
	_, ok := p.Lookup("k1")
	assert.True(t, ok)

	_, err = LoadKeys("env:IMAGELAKE_TEST_KEYS_UNSET", "")
	assert.Error(t, err)
}

func TestLoadKeysErrors(t *testing.T) {
	_, err := LoadKeys("/nonexistent/keys.yaml", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read api keys")

	_, err = LoadKeys(writeKeys(t, "apikeys: [nope: "), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal api keys")
}

func newService(t *testing.T) (*Service, *objstore.FileStore) {
	store := objstore.NewFileStore(t.TempDir(), "bucket")
	s := NewService(store, NewStaticKeys(APIKey{Name: "field-team", Key: "uk_123"}), 30*time.Minute)
	s.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
	return s, store
}

func TestInitiate(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)

	ticket, err := s.Initiate(ctx, "uk_123", Request{Title: "  Harbour  ", Platform: "uav", Acquired: "2024-01-30"})
	require.NoError(t, err)
	assert.True(t, idgen.ValidJobID(ticket.UploadID))
	assert.Equal(t, 1800, ticket.ExpiresIn)
	assert.Contains(t, ticket.PresignedURL, catalog.RawImageKey(ticket.UploadID))

	meta, err := ingest.ReadUploadMeta(ctx, store, ticket.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "Harbour", meta.Title)
	assert.Equal(t, "uav", meta.Platform)
	assert.Equal(t, "CC-BY 4.0", meta.License)
	assert.Equal(t, "field-team", meta.UploadedBy)
	assert.Equal(t, "2024-01-30", meta.Acquired)
	assert.True(t, meta.CreatedAt.Equal(s.now()))
}

func TestInitiateDefaults(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)

	ticket, err := s.Initiate(ctx, "uk_123", Request{})
	require.NoError(t, err)
	meta, err := ingest.ReadUploadMeta(ctx, store, ticket.UploadID)
	require.NoError(t, err)
	assert.Equal(t, "Untitled", meta.Title)
	assert.Equal(t, "CC-BY 4.0", meta.License)
}

func TestInitiateUnauthorized(t *testing.T) {
	ctx := context.Background()
	s, store := newService(t)

	_, err := s.Initiate(ctx, "wrong", Request{})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = s.Initiate(ctx, "", Request{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	infos, err := store.List(ctx, catalog.StagingPrefix)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestInitiateBadAcquired(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Initiate(context.Background(), "uk_123", Request{Acquired: "last tuesday"})
	assert.True(t, catalog.IsQueryError(err))
}

var errNoDelegation = errors.New("user delegation key denied")

type noPresign struct {
	objstore.Store
}

func (noPresign) PresignPut(context.Context, string, string, time.Duration) (string, error) {
	return "", errNoDelegation
}

func TestInitiatePresignFailure(t *testing.T) {
	store := objstore.NewFileStore(t.TempDir(), "bucket")
	s := NewService(noPresign{store}, NewStaticKeys(APIKey{Name: "a", Key: "k"}), 0)
	_, err := s.Initiate(context.Background(), "k", Request{})
	require.Error(t, err)
	assert.True(t, catalog.IsConnectionError(err))
	assert.True(t, errors.Is(err, errNoDelegation))
	assert.True(t, strings.Contains(err.Error(), "presign"))
}
