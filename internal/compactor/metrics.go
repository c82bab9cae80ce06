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

package compactor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	runCount       metric.Int64Counter
	runDuration    metric.Float64Histogram
	sidecarsMerged metric.Int64Counter
	sidecarsLeft   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/imagelake/internal/compactor")

	var err error
	runCount, err = meter.Int64Counter(
		"imagelake.compactor.runs",
		metric.WithDescription("Compaction runs, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create compactor.runs counter: %w", err))
	}

	runDuration, err = meter.Float64Histogram(
		"imagelake.compactor.duration",
		metric.WithDescription("Time taken by compaction runs that published a snapshot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create compactor.duration histogram: %w", err))
	}

	sidecarsMerged, err = meter.Int64Counter(
		"imagelake.compactor.sidecars.merged",
		metric.WithDescription("Pending sidecars folded into a published snapshot"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create compactor.sidecars.merged counter: %w", err))
	}

	sidecarsLeft, err = meter.Int64Counter(
		"imagelake.compactor.sidecars.undeleted",
		metric.WithDescription("Consumed sidecars that could not be deleted after publishing"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create compactor.sidecars.undeleted counter: %w", err))
	}
}

func recordRun(ctx context.Context, outcome string) {
	runCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
