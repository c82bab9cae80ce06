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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/cardinalhq/imagelake/internal/azureclient"
)

// queueAPI is the part of *azqueue.QueueClient the poller uses.
type queueAPI interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID string, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

type AzureQueueService struct {
	queue      queueAPI
	queueURL   string
	dispatcher *Dispatcher
	visibility int32
	idleDelay  time.Duration
	retryDelay time.Duration
}

var _ Backend = (*AzureQueueService)(nil)

func NewAzureQueueService(ctx context.Context, cfg Config, dispatcher *Dispatcher) (*AzureQueueService, error) {
	if cfg.AzureQueueURL == "" {
		return nil, fmt.Errorf("events.azure_queue_url is required for the azure backend")
	}
	azureMgr, err := azureclient.NewManager(ctx)
	if err != nil {
		slog.Error("Failed to create Azure manager", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create Azure manager: %w", err)
	}
	qc, err := azureMgr.Queue(ctx, cfg.AzureQueueURL)
	if err != nil {
		slog.Error("Failed to create Azure Queue client", slog.Any("error", err))
		return nil, err
	}
	return newAzureQueueService(qc, cfg.AzureQueueURL, dispatcher), nil
}

// maxDequeueCount is how often a message may come back before it is
// treated as poison. Storage queues have no dead-letter queue of their own.
const maxDequeueCount = 5

func newAzureQueueService(queue queueAPI, queueURL string, dispatcher *Dispatcher) *AzureQueueService {
	return &AzureQueueService{
		queue:      queue,
		queueURL:   queueURL,
		dispatcher: dispatcher,
		visibility: int32((dispatcher.jobTimeout + time.Minute) / time.Second),
		idleDelay:  time.Second,
		retryDelay: 5 * time.Second,
	}
}

func (ps *AzureQueueService) GetName() string {
	return "azure"
}

func (ps *AzureQueueService) Run(doneCtx context.Context) error {
	slog.Info("Starting Azure Queue polling loop", slog.String("queue", ps.queueURL))

	for doneCtx.Err() == nil {
		n, err := ps.poll(doneCtx)
		var delay time.Duration
		switch {
		case err != nil && doneCtx.Err() == nil:
			slog.Error("Failed to receive messages from Azure Queue", slog.Any("error", err))
			delay = ps.retryDelay
		case n == 0:
			delay = ps.idleDelay
		}
		if delay > 0 {
			select {
			case <-doneCtx.Done():
			case <-time.After(delay):
			}
		}
	}
	slog.Info("Azure Queue polling loop stopped")
	return nil
}

// poll dequeues a single message, hidden for as long as its pipeline run
// may take, and handles it. It returns how many messages it saw.
func (ps *AzureQueueService) poll(doneCtx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(doneCtx, 30*time.Second)
	result, err := ps.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to32(1),
		VisibilityTimeout: to32(ps.visibility),
	})
	cancel()
	if err != nil {
		return 0, err
	}
	for _, msg := range result.Messages {
		ps.handle(doneCtx, msg)
	}
	return len(result.Messages), nil
}

func (ps *AzureQueueService) handle(ctx context.Context, msg *azqueue.DequeuedMessage) {
	if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
		return
	}
	id := *msg.MessageID

	switch {
	case msg.DequeueCount != nil && *msg.DequeueCount > maxDequeueCount:
		slog.Error("Dropping Azure Queue message that keeps failing",
			slog.String("messageId", id), slog.Int64("dequeueCount", *msg.DequeueCount))
	case msg.MessageText != nil:
		if err := ps.dispatcher.HandleMessage(ctx, decodeIfBase64(*msg.MessageText)); err != nil {
			slog.Error("Failed to handle Azure Queue message, leaving it for redelivery",
				slog.Any("error", err), slog.String("messageId", id))
			return
		}
	}

	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := ps.queue.DeleteMessage(delCtx, id, *msg.PopReceipt, nil); err != nil {
		slog.Error("Failed to delete Azure Queue message", slog.String("messageId", id), slog.Any("error", err))
	}
}

func to32(v int32) *int32 { return &v }

// decodeIfBase64 undoes the base64 wrapping Event Grid applies when it
// delivers to a storage queue. Text that does not decode to JSON is
// returned unchanged.
func decodeIfBase64(s string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !json.Valid(decoded) {
		return []byte(s)
	}
	return decoded
}
