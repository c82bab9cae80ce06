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

package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

var (
	stepDuration metric.Float64Histogram
	stepFailures metric.Int64Counter
	jobCount     metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/imagelake/internal/ingest")

	var err error
	stepDuration, err = meter.Float64Histogram(
		"imagelake.ingest.step.duration",
		metric.WithDescription("Time spent in each ingestion step"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.step.duration histogram: %w", err))
	}

	stepFailures, err = meter.Int64Counter(
		"imagelake.ingest.step.failures",
		metric.WithDescription("Ingestion steps that failed, by step and error kind"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.step.failures counter: %w", err))
	}

	jobCount, err = meter.Int64Counter(
		"imagelake.ingest.jobs",
		metric.WithDescription("Ingestion jobs finished, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create ingest.jobs counter: %w", err))
	}
}

func recordStep(ctx context.Context, step Step, d time.Duration, err error) {
	stepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("step", step.String())))
	if err != nil {
		stepFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step", step.String()),
			attribute.String("kind", errorKind(err)),
		))
	}
}

func recordJob(ctx context.Context, outcome string) {
	jobCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func errorKind(err error) string {
	switch {
	case catalog.IsValidationError(err):
		return "validation"
	case catalog.IsProcessingError(err):
		return "processing"
	case catalog.IsRegistrationError(err):
		return "registration"
	default:
		return "other"
	}
}
