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

// Package config assembles the per-package configuration sections into
// one tree loaded from a config file, a .env file and the environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/cardinalhq/imagelake/internal/api"
	"github.com/cardinalhq/imagelake/internal/compactor"
	"github.com/cardinalhq/imagelake/internal/healthcheck"
	"github.com/cardinalhq/imagelake/internal/ingest"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/pubsub"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

const envPrefix = "IMAGELAKE"

// ConfigFileEnv names a config file to read instead of ./config.*.
const ConfigFileEnv = envPrefix + "_CONFIG"

type Config struct {
	Storage    objstore.Config      `mapstructure:"storage"`
	Query      queryengine.Config   `mapstructure:"query"`
	Ingest     ingest.Config        `mapstructure:"ingest"`
	Compaction compactor.Config     `mapstructure:"compaction"`
	Status     statustracker.Config `mapstructure:"status"`
	Upload     uploadauth.Config    `mapstructure:"upload"`
	HTTP       api.Config           `mapstructure:"http"`
	Events     pubsub.Config        `mapstructure:"events"`
	Health     healthcheck.Config   `mapstructure:"health"`
}

func defaults() *Config {
	return &Config{
		Storage:    objstore.DefaultConfig(),
		Query:      queryengine.DefaultConfig(),
		Ingest:     ingest.DefaultConfig(),
		Compaction: compactor.DefaultConfig(),
		Status:     statustracker.DefaultConfig(),
		Upload:     uploadauth.DefaultConfig(),
		HTTP:       api.DefaultConfig(),
		Events:     pubsub.DefaultConfig(),
		Health:     healthcheck.GetConfigFromEnv(),
	}
}

// Load builds the configuration. Precedence, lowest first: package
// defaults, the config file, .env, then the process environment.
//
// Environment keys are the dotted key upper-cased with "_" for "." and an
// IMAGELAKE_ prefix, so "storage.bucket" is IMAGELAKE_STORAGE_BUCKET.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	v := viper.New()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig()
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every setting that cannot work, not just the first.
func (c *Config) Validate() error {
	var errs *multierror.Error
	bad := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	switch c.Storage.Provider {
	case "", "aws", "gcp", "gcs", "azure", "minio", "file":
	default:
		bad("storage.provider: unknown provider %q", c.Storage.Provider)
	}
	if c.Storage.Provider == "file" && c.Storage.Root == "" {
		bad("storage.root: required for the file provider")
	}
	if c.Storage.Provider == "azure" && c.Storage.StorageAccount == "" {
		bad("storage.storage_account: required for the azure provider")
	}
	if c.Query.MaxLimit > 0 && c.Query.DefaultLimit > c.Query.MaxLimit {
		bad("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Compaction.Interval < 0 {
		bad("compaction.interval: must not be negative")
	}
	switch c.Events.Backend {
	case pubsub.BackendTypeSQS, pubsub.BackendTypeGCPPubSub, pubsub.BackendTypeAzure, pubsub.BackendTypeHTTP:
	default:
		bad("events.backend: unknown backend %q", c.Events.Backend)
	}
	if c.Events.JobTimeout < time.Second {
		bad("events.job_timeout: %s is too short", c.Events.JobTimeout)
	}
	return errs.ErrorOrNil()
}

// bindEnvs walks cfg and binds one environment variable per leaf key, so
// AutomaticEnv also covers keys that never appear in a config file.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	for i := range typ.NumField() {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(append([]string{}, parts...), tag)
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			bindEnvs(v, reflect.Zero(f.Type).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
