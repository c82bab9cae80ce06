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

// Package catalogclient talks to the imagelake HTTP API.
package catalogclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cardinalhq/imagelake/internal/api"
	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 16 * 1024 * 1024
)

// Re-exported wire types.
type (
	Image          = api.Image
	SearchResponse = api.SearchResponse
	SearchRequest  = queryengine.Request
	UploadRequest  = uploadauth.Request
	Ticket         = uploadauth.Ticket
	Job            = statustracker.Job
)

// ErrUnauthorized is returned when the server rejects the API key.
var ErrUnauthorized = uploadauth.ErrUnauthorized

// ErrNotFound is returned for a job with no recorded status.
var ErrNotFound = statustracker.ErrNotFound

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search runs one search.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]Image, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Initiate asks for a presigned upload URL.
func (c *Client) Initiate(ctx context.Context, req UploadRequest) (Ticket, error) {
	var t Ticket
	if err := c.do(ctx, http.MethodPost, "/api/v1/uploads", req, &t); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Upload sends the raw image to the presigned URL from ticket.
func (c *Client) Upload(ctx context.Context, t Ticket, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.PresignedURL, body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "image/tiff")
	// Required by Azure SAS targets, ignored elsewhere.
	req.Header.Set("x-ms-blob-type", "BlockBlob")

	resp, err := c.http.Do(req)
	if err != nil {
		return catalog.NewConnectionError("upload", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Status returns the latest status of an upload.
func (c *Client) Status(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/uploads/"+url.PathEscape(jobID)+"/status", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitOptions bounds WaitForStatus.
type WaitOptions = statustracker.PollOptions

// WaitForStatus polls until the job is complete or failed. When the budget
// runs out it returns a catalog.TimeoutError; the job may still finish.
func (c *Client) WaitForStatus(ctx context.Context, jobID string, opts WaitOptions) (*Job, error) {
	return statustracker.Poll(ctx, remoteStatus{c}, jobID, opts)
}

// remoteStatus adapts the status endpoint to the tracker interface Poll
// reads through.
type remoteStatus struct{ c *Client }

func (r remoteStatus) Get(ctx context.Context, jobID string) (*Job, error) {
	return r.c.Status(ctx, jobID)
}

func (remoteStatus) Set(context.Context, string, Job) error {
	return errors.New("status is read-only over the API")
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return catalog.NewConnectionError(method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return catalog.NewConnectionError("read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return responseError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return catalog.NewConnectionError("decode response", err)
	}
	return nil
}

// responseError turns an error response back into the error taxonomy.
func responseError(code int, data []byte) error {
	var er api.ErrorResponse
	_ = json.Unmarshal(data, &er)
	msg := er.Error
	if msg == "" {
		msg = http.StatusText(code)
	}

	switch code {
	case http.StatusBadRequest:
		return catalog.QueryError{Field: er.Field, Reason: msg}
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return catalog.NewConnectionError(fmt.Sprintf("server returned %d", code), errors.New(msg))
	default:
		return fmt.Errorf("server returned %d: %s", code, msg)
	}
}
