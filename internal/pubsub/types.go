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

// Package pubsub turns object-created notifications for raw uploads into
// ingestion runs. Notifications arrive from SQS (S3 events), GCP Pub/Sub
// (Cloud Storage notifications), Azure Storage queues (Event Grid blob
// events) or an HTTP webhook.
package pubsub

import (
	"context"
	"time"
)

// Service defines the interface for pubsub services
type Service interface {
	Run(ctx context.Context) error
}

// BackendType represents supported pubsub backend types
type BackendType string

const (
	BackendTypeSQS       BackendType = "sqs"
	BackendTypeGCPPubSub BackendType = "gcp"
	BackendTypeAzure     BackendType = "azure"
	// BackendTypeHTTP has no poller; events arrive on the webhook.
	BackendTypeHTTP BackendType = "http"
)

// Backend defines the interface for different pubsub backends
type Backend interface {
	Service
	GetName() string
}

// Item is one newly created raw upload.
type Item struct {
	Bucket string
	Key    string
	JobID  string
	Size   int64
}

type Config struct {
	Backend         BackendType   `mapstructure:"backend"`
	QueueURL        string        `mapstructure:"queue_url"`
	Region          string        `mapstructure:"region"`
	Role            string        `mapstructure:"role"`
	GCPProject      string        `mapstructure:"gcp_project"`
	GCPSubscription string        `mapstructure:"gcp_subscription"`
	AzureQueueURL   string        `mapstructure:"azure_queue_url"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Backend:       BackendTypeSQS,
		MaxConcurrent: 4,
		JobTimeout:    time.Hour,
	}
}
