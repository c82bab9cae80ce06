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
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/imagelake/internal/awsclient"
)

// sqsAPI is the part of *sqs.Client the poller uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSService struct {
	client        sqsAPI
	queueURL      string
	dispatcher    *Dispatcher
	maxConcurrent int
	visibility    int32
	retryDelay    time.Duration
}

// Ensure SQSService implements Backend interface
var _ Backend = (*SQSService)(nil)

func NewSQSService(ctx context.Context, cfg Config, dispatcher *Dispatcher) (*SQSService, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("events.queue_url is required for the sqs backend")
	}

	awsMgr, err := awsclient.NewManager(ctx, "imagelake-ingest")
	if err != nil {
		slog.Error("Failed to create AWS manager", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create AWS manager: %w", err)
	}
	sqsClient := awsMgr.SQS(ctx, awsclient.Profile{Region: cfg.Region, Role: cfg.Role})

	return newSQSService(sqsClient, cfg.QueueURL, dispatcher, cfg.MaxConcurrent), nil
}

// maxVisibility is the SQS ceiling of 12 hours.
const maxVisibility = 12 * time.Hour

// visibilityFor hides a received message for as long as its pipeline run
// may take, so it is not redelivered to another poller mid-run.
func visibilityFor(jobTimeout time.Duration) int32 {
	v := min(jobTimeout+time.Minute, maxVisibility)
	return int32(v / time.Second)
}

func newSQSService(client sqsAPI, queueURL string, dispatcher *Dispatcher, maxConcurrent int) *SQSService {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &SQSService{
		client:        client,
		queueURL:      queueURL,
		dispatcher:    dispatcher,
		maxConcurrent: maxConcurrent,
		visibility:    visibilityFor(dispatcher.jobTimeout),
		retryDelay:    5 * time.Second,
	}
}

func (ps *SQSService) GetName() string {
	return "sqs"
}

// Run long-polls until ctx is done. Runs already started finish first.
func (ps *SQSService) Run(doneCtx context.Context) error {
	slog.Info("Starting SQS polling loop",
		slog.String("queueURL", ps.queueURL),
		slog.Int("visibilitySeconds", int(ps.visibility)))

	for doneCtx.Err() == nil {
		err := ps.poll(doneCtx)
		if err == nil || doneCtx.Err() != nil {
			continue
		}
		slog.Error("Failed to receive messages from SQS", slog.Any("error", err))
		select {
		case <-doneCtx.Done():
		case <-time.After(ps.retryDelay):
		}
	}
	slog.Info("SQS polling loop stopped")
	return nil
}

// poll receives one batch and handles it with at most maxConcurrent
// pipeline runs in flight.
func (ps *SQSService) poll(ctx context.Context) error {
	result, err := ps.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(ps.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   ps.visibility,
	})
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(ps.maxConcurrent)
	for _, msg := range result.Messages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ps.handle(ctx, msg)
			return nil
		})
	}
	return g.Wait()
}

// handle deletes the message only when it was usable. Unusable messages
// are left for redelivery and, eventually, the dead-letter queue.
func (ps *SQSService) handle(ctx context.Context, msg types.Message) {
	id := aws.ToString(msg.MessageId)
	if msg.Body == nil {
		slog.Warn("Received SQS message with nil body", slog.String("messageId", id))
		return
	}
	if err := ps.dispatcher.HandleMessage(ctx, []byte(*msg.Body)); err != nil {
		slog.Error("Failed to handle storage event, leaving message for redelivery",
			slog.Any("error", err), slog.String("messageId", id))
		return
	}

	// Deletion gets its own context so it completes during shutdown.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := ps.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(ps.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	}); err != nil {
		slog.Error("Failed to delete SQS message after handling",
			slog.Any("error", err), slog.String("messageId", id))
		return
	}
	slog.Debug("Processed and deleted SQS message", slog.String("messageId", id))
}
