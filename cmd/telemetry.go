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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/imagelake/internal/debugging"
	"github.com/cardinalhq/imagelake/internal/helpers"
	"github.com/cardinalhq/imagelake/internal/idgen"
)

var meter = otel.Meter("github.com/cardinalhq/imagelake")

// logSettings is what the environment says about logging.
type logSettings struct {
	debug bool
	json  bool
	otlp  bool
}

func logSettingsFromEnv() logSettings {
	return logSettings{
		debug: helpers.GetBoolEnv("DEBUG", false) || helpers.GetBoolEnv("IMAGELAKE_DEBUG", false),
		json:  strings.EqualFold(os.Getenv("IMAGELAKE_LOG_FORMAT"), "json"),
		otlp:  os.Getenv("OTEL_SERVICE_NAME") != "" && helpers.GetBoolEnv("ENABLE_OTLP_TELEMETRY", false),
	}
}

// newLogger writes to w, and also to the OpenTelemetry log bridge when
// otlp is set. Every record carries the service and instance id.
func newLogger(w io.Writer, servicename string, instanceID int64, s logSettings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if s.debug {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if s.json {
		h = slog.NewJSONHandler(w, opts)
	}
	if s.otlp {
		h = slogmulti.Fanout(h, otelslog.NewHandler(servicename))
	}
	return slog.New(h).With(
		slog.String("service", servicename),
		slog.Int64("instanceID", instanceID),
	)
}

// setupTelemetry installs the default logger, starts OTLP export when
// enabled, and returns a context cancelled on SIGINT/SIGTERM together with
// the function that tears everything down.
func setupTelemetry(servicename string, addlAttrs *attribute.Set) (context.Context, func() error, error) {
	instanceID := idgen.InstanceID()
	doneCtx, doneCancel := handleSignals(context.Background())

	settings := logSettingsFromEnv()
	slog.SetDefault(newLogger(os.Stdout, servicename, instanceID, settings))

	shutdown := func() error {
		doneCancel()
		return nil
	}
	if settings.otlp {
		otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
		if err != nil {
			doneCancel()
			return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
		}
		if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
			slog.Warn("Failed to start runtime metrics", slog.Any("error", err))
		}
		if err := host.Start(); err != nil {
			slog.Warn("Failed to start host metrics", slog.Any("error", err))
		}
		slog.Info("OpenTelemetry exporting enabled")

		shutdown = func() error {
			defer doneCancel()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return otelShutdown(ctx)
		}
	}

	attrs := []attribute.KeyValue{
		attribute.String("service", servicename),
		attribute.Int64("instanceID", instanceID),
	}
	if addlAttrs != nil {
		attrs = append(attrs, addlAttrs.ToSlice()...)
	}
	recordExists(attribute.NewSet(attrs...))
	debugging.RunPprof(doneCtx)

	return doneCtx, shutdown, nil
}

// recordExists publishes a constant 1 so dashboards can count live
// instances per service.
func recordExists(attrs attribute.Set) {
	g, err := meter.Int64Gauge("imagelake.exists",
		metric.WithDescription("Set to 1 while the service is running"))
	if err != nil {
		panic(fmt.Errorf("failed to create imagelake.exists gauge: %w", err))
	}
	g.Record(context.Background(), 1, metric.WithAttributeSet(attrs))
}

// shutdownTelemetry runs doneFx, logging rather than returning its error.
func shutdownTelemetry(doneFx func() error) {
	if err := doneFx(); err != nil {
		slog.Error("Error shutting down telemetry", slog.Any("error", err))
	}
}
