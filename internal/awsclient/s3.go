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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client    *s3.Client
	Presigner *s3.PresignClient
	Tracer    trace.Tracer
}

// S3 builds a client for p. Endpoint covers MinIO, Ceph and the Cloud
// Storage XML API.
func (m *Manager) S3(_ context.Context, p Profile) (*S3Client, error) {
	client := s3.NewFromConfig(m.configFor(p), func(o *s3.Options) {
		if p.Endpoint != "" {
			o.BaseEndpoint = aws.String(p.Endpoint)
		}
		o.UsePathStyle = p.UsePathStyle
		if p.Provider == "gcp" {
			o.APIOptions = append(o.APIOptions, unsignedAcceptEncoding)
		}
	})
	return &S3Client{
		Client:    client,
		Presigner: s3.NewPresignClient(client),
		Tracer:    m.tracer,
	}, nil
}
