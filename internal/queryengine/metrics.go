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

package queryengine

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	searchCount     metric.Int64Counter
	searchDuration  metric.Float64Histogram
	blocksRead      metric.Int64Counter
	blocksPruned    metric.Int64Counter
	blockCacheHits  metric.Int64Counter
	snapshotOpens   metric.Int64Counter
	snapshotFailure metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/imagelake/internal/queryengine")

	var err error
	searchCount, err = meter.Int64Counter(
		"imagelake.query.searches",
		metric.WithDescription("Number of searches executed"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.searches counter: %w", err))
	}

	searchDuration, err = meter.Float64Histogram(
		"imagelake.query.duration",
		metric.WithDescription("Search latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.duration histogram: %w", err))
	}

	blocksRead, err = meter.Int64Counter(
		"imagelake.query.blocks.read",
		metric.WithDescription("Snapshot blocks read because their statistics matched"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.blocks.read counter: %w", err))
	}

	blocksPruned, err = meter.Int64Counter(
		"imagelake.query.blocks.pruned",
		metric.WithDescription("Snapshot blocks skipped by statistics"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.blocks.pruned counter: %w", err))
	}

	blockCacheHits, err = meter.Int64Counter(
		"imagelake.query.blocks.cache_hits",
		metric.WithDescription("Block reads served from the decoded block cache"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.blocks.cache_hits counter: %w", err))
	}

	snapshotOpens, err = meter.Int64Counter(
		"imagelake.query.snapshot.opens",
		metric.WithDescription("Snapshot open attempts"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.snapshot.opens counter: %w", err))
	}

	snapshotFailure, err = meter.Int64Counter(
		"imagelake.query.snapshot.failures",
		metric.WithDescription("Snapshot open or refresh failures"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create query.snapshot.failures counter: %w", err))
	}
}
