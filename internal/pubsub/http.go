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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/imagelake/internal/constants"
)

// HTTPService is the webhook backend. Notifications are parsed on arrival,
// acknowledged, and run in the background by a fixed set of workers.
type HTTPService struct {
	dispatcher *Dispatcher
	work       chan []Item
	tracer     trace.Tracer
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// webhookQueueDepth bounds accepted notifications not yet picked up.
const webhookQueueDepth = 100

// NewHTTPService starts workers draining the queue. Stop them with Close.
func NewHTTPService(ctx context.Context, dispatcher *Dispatcher, workers int) *HTTPService {
	if workers <= 0 {
		workers = DefaultConfig().MaxConcurrent
	}
	ps := &HTTPService{
		dispatcher: dispatcher,
		work:       make(chan []Item, webhookQueueDepth),
		tracer:     otel.Tracer("github.com/cardinalhq/imagelake/internal/pubsub"),
	}
	for range workers {
		ps.wg.Go(func() {
			for items := range ps.work {
				ps.process(ctx, items)
			}
		})
	}
	return ps
}

func (ps *HTTPService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.HTTPBodyLimitBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "Empty body", http.StatusBadRequest)
		return
	}

	if code, ok := gridValidationCode(body); ok {
		slog.Info("Answering Event Grid subscription validation")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"validationResponse": code})
		return
	}

	items, err := ParseEvents(body)
	switch {
	case errors.Is(err, errTestEvent):
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case ps.work <- items:
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "Event queue full", http.StatusServiceUnavailable)
	}
}

func (ps *HTTPService) process(ctx context.Context, items []Item) {
	ctx, span := ps.tracer.Start(ctx, "pubsub.webhook.process",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()
	ps.dispatcher.Dispatch(ctx, items)
}

// Close stops accepting work and waits for queued events to finish. Call
// it only after the HTTP server has stopped routing requests here.
func (ps *HTTPService) Close() {
	ps.closeOnce.Do(func() { close(ps.work) })
	ps.wg.Wait()
}

// gridValidationCode recognises the handshake Event Grid sends when a
// webhook subscription is created.
func gridValidationCode(body []byte) (string, bool) {
	var events []struct {
		EventType string `json:"eventType"`
		Data      struct {
			ValidationCode string `json:"validationCode"`
		} `json:"data"`
	}
	if json.Unmarshal(body, &events) != nil || len(events) == 0 {
		return "", false
	}
	if events[0].EventType != "Microsoft.EventGrid.SubscriptionValidationEvent" || events[0].Data.ValidationCode == "" {
		return "", false
	}
	return events[0].Data.ValidationCode, true
}
