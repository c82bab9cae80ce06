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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  []Item
	}{
		{
			name: "s3 raw upload",
			event: `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"imagery"},
				"object":{"key":"staging/job-1/image.tif","size":2048}}}]}`,
			want: []Item{{Bucket: "imagery", Key: "staging/job-1/image.tif", JobID: "job-1", Size: 2048}},
		},
		{
			name: "s3 escaped key",
			event: `{"Records":[{"eventName":"ObjectCreated:CompleteMultipartUpload","s3":{"bucket":{"name":"imagery"},
				"object":{"key":"staging/job%2B2/image.tif","size":1}}}]}`,
			want: []Item{{Bucket: "imagery", Key: "staging/job+2/image.tif", JobID: "job+2", Size: 1}},
		},
		{
			name: "s3 metadata and outputs ignored",
			event: `{"Records":[
				{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"b"},"object":{"key":"staging/job-1/meta.json"}}},
				{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"b"},"object":{"key":"imagery/job-1.tif"}}},
				{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"b"},"object":{"key":"catalog/pending/job-1.parquet"}}}]}`,
			want: []Item{},
		},
		{
			name: "s3 removal ignored",
			event: `{"Records":[{"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"b"},
				"object":{"key":"staging/job-1/image.tif"}}}]}`,
			want: []Item{},
		},
		{
			name:  "gcs finalize",
			event: `{"kind":"storage#object","name":"staging/job-3/image.tif","bucket":"gcs-bucket","size":"4096"}`,
			want:  []Item{{Bucket: "gcs-bucket", Key: "staging/job-3/image.tif", JobID: "job-3", Size: 4096}},
		},
		{
			name: "azure single event",
			event: `{"eventType":"Microsoft.Storage.BlobCreated",
				"subject":"/blobServices/default/containers/lake/blobs/staging/job-4/image.tif",
				"data":{"contentLength":77}}`,
			want: []Item{{Bucket: "lake", Key: "staging/job-4/image.tif", JobID: "job-4", Size: 77}},
		},
		{
			name: "azure event array",
			event: `[{"eventType":"Microsoft.Storage.BlobCreated",
				"subject":"/blobServices/default/containers/lake/blobs/staging/job-5/image.tif","data":{}},
				{"eventType":"Microsoft.Storage.BlobDeleted",
				"subject":"/blobServices/default/containers/lake/blobs/staging/job-6/image.tif","data":{}}]`,
			want: []Item{{Bucket: "lake", Key: "staging/job-5/image.tif", JobID: "job-5"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvents([]byte(tt.event))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEventsErrors(t *testing.T) {
	_, err := ParseEvents([]byte(`{"Service":"Amazon S3","Event":"s3:TestEvent"}`))
	assert.ErrorIs(t, err, errTestEvent)

	_, err = ParseEvents([]byte(`{"hello":"world"}`))
	assert.Error(t, err)

	_, err = ParseEvents([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvents([]byte(`{"kind":"storage#object","name":`))
	assert.Error(t, err)
}

func TestDecodeIfBase64(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(decodeIfBase64("eyJhIjoxfQ==")))
	assert.Equal(t, `{"a":1}`, string(decodeIfBase64(`{"a":1}`)))
	assert.Equal(t, "abc", string(decodeIfBase64("abc")))
}

func TestParseCloudEventsSchema(t *testing.T) {
	got, err := ParseEvents([]byte(`{"specversion":"1.0","type":"Microsoft.Storage.BlobCreated",
		"subject":"/blobServices/default/containers/lake/blobs/staging/job-7/image.tif",
		"data":{"contentLength":12}}`))
	require.NoError(t, err)
	assert.Equal(t, []Item{{Bucket: "lake", Key: "staging/job-7/image.tif", JobID: "job-7", Size: 12}}, got)
}

func TestItemsFromGCSAttributes(t *testing.T) {
	items, ok := ItemsFromGCSAttributes(map[string]string{
		"bucketId":  "b",
		"objectId":  "staging/job-8/image.tif",
		"eventType": "OBJECT_FINALIZE",
	})
	require.True(t, ok)
	assert.Equal(t, []Item{{Bucket: "b", Key: "staging/job-8/image.tif", JobID: "job-8"}}, items)

	items, ok = ItemsFromGCSAttributes(map[string]string{
		"bucketId":  "b",
		"objectId":  "staging/job-8/image.tif",
		"eventType": "OBJECT_DELETE",
	})
	require.True(t, ok)
	assert.Empty(t, items)

	items, ok = ItemsFromGCSAttributes(map[string]string{"bucketId": "b", "objectId": "thumbnails/job-8.webp"})
	require.True(t, ok)
	assert.Empty(t, items)

	_, ok = ItemsFromGCSAttributes(map[string]string{"eventType": "OBJECT_FINALIZE"})
	assert.False(t, ok)
}
