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

package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	itemsProcessed metric.Int64Counter
	itemsSkipped   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/imagelake/internal/pubsub")

	var err error
	itemsProcessed, err = meter.Int64Counter(
		"imagelake.pubsub.items.processed",
		metric.WithDescription("Raw uploads handed to the ingestion pipeline, by outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsProcessed counter: %w", err))
	}

	itemsSkipped, err = meter.Int64Counter(
		"imagelake.pubsub.items.skipped",
		metric.WithDescription("Notifications that did not start a pipeline run"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create itemsSkipped counter: %w", err))
	}
}

// JobRunner runs the ingestion pipeline for one job.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher starts a pipeline run for every raw upload in a notification.
type Dispatcher struct {
	runner     JobRunner
	bucket     string
	jobTimeout time.Duration
}

// NewDispatcher returns a Dispatcher. When bucket is set, notifications for
// other buckets are ignored.
func NewDispatcher(runner JobRunner, bucket string, jobTimeout time.Duration) *Dispatcher {
	if jobTimeout <= 0 {
		jobTimeout = DefaultConfig().JobTimeout
	}
	return &Dispatcher{runner: runner, bucket: bucket, jobTimeout: jobTimeout}
}

// errUnusable marks a notification that no redelivery can fix.
var errUnusable = errors.New("unusable notification")

// HandleMessage returns an error only when the message itself is unusable.
// A failed pipeline run has already recorded its error in the job status,
// and runs are never retried automatically, so the message is consumed.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg []byte) error {
	if len(msg) == 0 {
		return fmt.Errorf("%w: empty message", errUnusable)
	}

	items, err := ParseEvents(msg)
	if errors.Is(err, errTestEvent) {
		slog.Info("Ignoring S3 test event")
		itemsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "test_event")))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errUnusable, err)
	}
	d.Dispatch(ctx, items)
	return nil
}

// Dispatch runs the pipeline for each item in turn, skipping items from a
// bucket other than the configured one.
func (d *Dispatcher) Dispatch(ctx context.Context, items []Item) {
	if len(items) == 0 {
		itemsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "not_raw_upload")))
		return
	}
	for _, item := range items {
		if d.bucket != "" && item.Bucket != "" && item.Bucket != d.bucket {
			slog.Warn("Ignoring upload in unexpected bucket",
				slog.String("bucket", item.Bucket),
				slog.String("key", item.Key))
			itemsSkipped.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", "foreign_bucket"),
				attribute.String("bucket", item.Bucket),
			))
			continue
		}
		d.run(ctx, item)
	}
}

func (d *Dispatcher) run(ctx context.Context, item Item) {
	runCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	slog.Info("Starting ingestion from storage event",
		slog.String("jobID", item.JobID),
		slog.String("key", item.Key),
		slog.Int64("size", item.Size))

	outcome := "complete"
	if err := d.runner.Run(runCtx, item.JobID); err != nil {
		outcome = "error"
		slog.Error("Ingestion failed",
			slog.String("jobID", item.JobID),
			slog.Any("error", err))
	}
	itemsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
