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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/imagelake/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "imagelake",
	Short: "Catalog, search and ingest Cloud Optimized GeoTIFFs",
	Long: `imagelake keeps a searchable catalog of georeferenced imagery in object storage.

  query-api       serve bounding-box and date searches, upload initiation and job status
  process-image   run the ingestion pipeline for one staged upload
  ingest-events   start pipeline runs from storage notifications
  compact         fold pending catalog entries into a new snapshot
  debug           inspect snapshots, pending entries and the store

Settings come from config.yaml, a .env file and IMAGELAKE_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if configFile == "" {
			return nil
		}
		if _, err := os.Stat(configFile); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		return os.Setenv(config.ConfigFileEnv, configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file to read instead of ./config.yaml (also "+config.ConfigFileEnv+")")
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the command named on the command line. main calls it once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
