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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/pubsub"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, time.Hour, cfg.Compaction.Interval)
	require.Equal(t, 1000, cfg.Compaction.DeleteBatch)
	require.Equal(t, pubsub.BackendTypeSQS, cfg.Events.Backend)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "object", cfg.Status.Backend)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IMAGELAKE_STORAGE_BUCKET", "imagery")
	t.Setenv("IMAGELAKE_COMPACTION_INTERVAL", "15m")
	t.Setenv("IMAGELAKE_QUERY_MAX_LIMIT", "250")
	t.Setenv("IMAGELAKE_EVENTS_BACKEND", "azure")
	t.Setenv("IMAGELAKE_STATUS_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "imagery", cfg.Storage.Bucket)
	require.Equal(t, 15*time.Minute, cfg.Compaction.Interval)
	require.Equal(t, 250, cfg.Query.MaxLimit)
	require.Equal(t, pubsub.BackendTypeAzure, cfg.Events.Backend)
	require.Equal(t, "localhost:6379", cfg.Status.RedisAddr)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("IMAGELAKE_UPLOAD_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("IMAGELAKE_UPLOAD_API_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Upload.APIKey)
}

func TestLoadExplicitConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "lake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  provider: file
  root: /srv/lake
query:
  default_limit: 50
`), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("IMAGELAKE_QUERY_DEFAULT_LIMIT", "75")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "file", cfg.Storage.Provider)
	require.Equal(t, "/srv/lake", cfg.Storage.Root)
	require.Equal(t, 75, cfg.Query.DefaultLimit)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := defaults()
	cfg.Storage.Provider = "tape"
	cfg.Events.Backend = "carrier-pigeon"
	cfg.Query.DefaultLimit = cfg.Query.MaxLimit + 1

	err := cfg.Validate()
	require.Error(t, err)
	require.ErrorContains(t, err, "storage.provider")
	require.ErrorContains(t, err, "events.backend")
	require.ErrorContains(t, err, "query.default_limit")

	require.NoError(t, defaults().Validate())
}
