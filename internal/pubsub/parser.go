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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/cardinalhq/imagelake/internal/catalog"
)

// errTestEvent marks the s3:TestEvent S3 sends when notifications are
// first configured.
var errTestEvent = errors.New("s3 test event")

type eventFormat string

const (
	formatS3        eventFormat = "s3"
	formatGCS       eventFormat = "gcs"
	formatEventGrid eventFormat = "eventgrid"
)

// envelope holds the fields that tell the notification formats apart.
type envelope struct {
	Kind        string            `json:"kind"`
	Records     []json.RawMessage `json:"Records"`
	Event       string            `json:"Event"`
	EventType   string            `json:"eventType"`
	Type        string            `json:"type"`
	SpecVersion string            `json:"specversion"`
}

func detectFormat(raw []byte) (eventFormat, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.HasPrefix(raw, []byte("[")) {
		return formatEventGrid, nil
	}
	var p envelope
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("unable to determine event type: %w", err)
	}
	switch {
	case p.Kind == "storage#object":
		return formatGCS, nil
	case len(p.Records) > 0:
		return formatS3, nil
	case p.Event == "s3:TestEvent":
		return "", errTestEvent
	case strings.HasPrefix(p.EventType, "Microsoft.Storage."), strings.HasPrefix(p.Type, "Microsoft.Storage."):
		return formatEventGrid, nil
	}
	return "", fmt.Errorf("unable to determine event type from content")
}

// ParseEvents extracts the raw uploads named in an S3, Cloud Storage
// (JSON_API_V1) or Event Grid notification. Other objects are dropped.
func ParseEvents(raw []byte) ([]Item, error) {
	format, err := detectFormat(raw)
	if err != nil {
		return nil, err
	}
	var items []Item
	switch format {
	case formatS3:
		items, err = parseS3(raw)
	case formatGCS:
		items, err = parseGCS(raw)
	case formatEventGrid:
		items, err = parseEventGrid(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s event: %w", format, err)
	}
	return items, nil
}

type s3Notification struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func parseS3(raw []byte) ([]Item, error) {
	var evt s3Notification
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(evt.Records))
	for _, rec := range evt.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}
		// Keys arrive form-encoded.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			slog.Error("Failed to unescape S3 key", slog.String("key", rec.S3.Object.Key), slog.Any("error", err))
			continue
		}
		if item, ok := rawUpload(rec.S3.Bucket.Name, key); ok {
			item.Size = rec.S3.Object.Size
			out = append(out, item)
		}
	}
	return out, nil
}

func parseGCS(raw []byte) ([]Item, error) {
	var obj struct {
		Name   string `json:"name"`
		Bucket string `json:"bucket"`
		Size   string `json:"size"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	item, ok := rawUpload(obj.Bucket, obj.Name)
	if !ok {
		return []Item{}, nil
	}
	// Sizes are decimal strings.
	if n, err := strconv.ParseInt(obj.Size, 10, 64); err == nil {
		item.Size = n
	}
	return []Item{item}, nil
}

// ItemsFromGCSAttributes reads a Cloud Storage notification sent with
// payload format NONE, where everything is in the message attributes. ok
// is false when the attributes do not describe a finalized object.
func ItemsFromGCSAttributes(attrs map[string]string) (items []Item, ok bool) {
	if attrs["bucketId"] == "" || attrs["objectId"] == "" {
		return nil, false
	}
	if et := attrs["eventType"]; et != "" && et != "OBJECT_FINALIZE" {
		return []Item{}, true
	}
	item, raw := rawUpload(attrs["bucketId"], attrs["objectId"])
	if !raw {
		return []Item{}, true
	}
	return []Item{item}, true
}

// gridEvent covers both the Event Grid schema (eventType) and the
// CloudEvents schema (type).
type gridEvent struct {
	EventType string `json:"eventType"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	Data      struct {
		ContentLength int64 `json:"contentLength"`
	} `json:"data"`
}

func parseEventGrid(raw []byte) ([]Item, error) {
	var events []gridEvent
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, err
		}
	} else {
		var evt gridEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		events = []gridEvent{evt}
	}

	out := make([]Item, 0, len(events))
	for _, evt := range events {
		if evt.EventType != "Microsoft.Storage.BlobCreated" && evt.Type != "Microsoft.Storage.BlobCreated" {
			continue
		}
		// /blobServices/default/containers/<container>/blobs/<key>
		rest, ok := strings.CutPrefix(evt.Subject, "/blobServices/default/containers/")
		if !ok {
			continue
		}
		container, key, ok := strings.Cut(rest, "/blobs/")
		if !ok {
			continue
		}
		if item, ok := rawUpload(container, key); ok {
			item.Size = evt.Data.ContentLength
			out = append(out, item)
		}
	}
	return out, nil
}

// rawUpload keeps only staged raw images; metadata, COGs, thumbnails and
// catalog files written to the same bucket are ignored.
func rawUpload(bucket, key string) (Item, bool) {
	jobID, ok := catalog.JobIDFromRawKey(key)
	if !ok {
		return Item{}, false
	}
	return Item{Bucket: bucket, Key: key, JobID: jobID}, true
}
