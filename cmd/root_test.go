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

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/config"
)

func TestConfigFlag(t *testing.T) {
	t.Setenv(config.ConfigFileEnv, "")
	t.Cleanup(func() { configFile = "" })

	configFile = filepath.Join(t.TempDir(), "absent.yaml")
	assert.Error(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Empty(t, os.Getenv(config.ConfigFileEnv))

	configFile = filepath.Join(t.TempDir(), "lake.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("storage:\n  provider: file\n  root: /srv\n"), 0o600))
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, configFile, os.Getenv(config.ConfigFileEnv))
}

func TestRootListsCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"query-api", "process-image", "ingest-events", "compact", "debug"} {
		assert.True(t, names[want], want)
		assert.Contains(t, rootCmd.Long, want)
	}
}
