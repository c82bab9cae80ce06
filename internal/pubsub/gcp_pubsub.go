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

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/imagelake/internal/gcpclient"
)

type GCPPubSubService struct {
	tracer     trace.Tracer
	client     *pubsub.Client
	sub        *pubsub.Subscription
	dispatcher *Dispatcher
}

var _ Backend = (*GCPPubSubService)(nil)

// NewGCPPubSubService subscribes to Cloud Storage notifications, acting
// as cfg.Role when it is set. Credentials otherwise come from ADC.
func NewGCPPubSubService(ctx context.Context, cfg Config, dispatcher *Dispatcher) (*GCPPubSubService, error) {
	if cfg.GCPSubscription == "" {
		return nil, fmt.Errorf("events.gcp_subscription is required for the gcp backend")
	}
	mgr, err := gcpclient.NewManager(ctx)
	if err != nil {
		return nil, err
	}
	client, err := mgr.PubSub(ctx, cfg.GCPProject, cfg.Role)
	if err != nil {
		return nil, err
	}

	sub := client.Subscription(cfg.GCPSubscription)
	sub.ReceiveSettings.MaxOutstandingMessages = max(cfg.MaxConcurrent, 1)
	sub.ReceiveSettings.NumGoroutines = 1

	return &GCPPubSubService{
		tracer:     otel.Tracer("github.com/cardinalhq/imagelake/internal/pubsub"),
		client:     client,
		sub:        sub,
		dispatcher: dispatcher,
	}, nil
}

func (ps *GCPPubSubService) GetName() string {
	return "gcp"
}

func (ps *GCPPubSubService) Run(doneCtx context.Context) error {
	slog.Info("Receiving Cloud Storage notifications", slog.String("subscription", ps.sub.String()))
	defer func() { _ = ps.client.Close() }()

	// Receive returns nil once doneCtx is cancelled.
	if err := ps.sub.Receive(doneCtx, ps.messageHandler); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive from %s: %w", ps.sub.ID(), err)
	}
	return nil
}

func (ps *GCPPubSubService) messageHandler(ctx context.Context, msg *pubsub.Message) {
	ctx, span := ps.tracer.Start(ctx, "pubsub.gcp.message", trace.WithAttributes(
		attribute.String("message_id", msg.ID),
		attribute.Int("delivery_attempt", deliveryAttempt(msg)),
	))
	defer span.End()

	err := ps.handle(ctx, msg.Data, msg.Attributes)
	if err == nil {
		msg.Ack()
		return
	}
	span.RecordError(err)
	// A body that cannot be parsed never will be; only redeliver what
	// failed for other reasons.
	if errors.Is(err, errUnusable) {
		slog.Warn("Dropping unusable Cloud Storage notification",
			slog.String("message_id", msg.ID), slog.Any("error", err))
		msg.Ack()
		return
	}
	slog.Error("Failed to handle Cloud Storage notification",
		slog.String("message_id", msg.ID), slog.Any("error", err))
	msg.Nack()
}

// handle accepts both notification payload formats. With NONE the body is
// empty and the object is named by the attributes.
func (ps *GCPPubSubService) handle(ctx context.Context, data []byte, attrs map[string]string) error {
	if et := attrs["eventType"]; et != "" && et != "OBJECT_FINALIZE" {
		return nil
	}
	if attrs["payloadFormat"] == "NONE" || len(data) == 0 {
		items, ok := ItemsFromGCSAttributes(attrs)
		if !ok {
			return fmt.Errorf("%w: no payload or object attributes", errUnusable)
		}
		ps.dispatcher.Dispatch(ctx, items)
		return nil
	}
	return ps.dispatcher.HandleMessage(ctx, data)
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}
