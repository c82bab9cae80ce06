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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/healthcheck"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

type fakeSearcher struct {
	got  queryengine.Request
	recs []catalog.Record
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req queryengine.Request) ([]catalog.Record, error) {
	f.got = req
	return f.recs, f.err
}

type fakeInitiator struct {
	gotKey string
	got    uploadauth.Request
}

func (f *fakeInitiator) Initiate(_ context.Context, apiKey string, req uploadauth.Request) (uploadauth.Ticket, error) {
	f.gotKey, f.got = apiKey, req
	if apiKey != "secret" {
		return uploadauth.Ticket{}, uploadauth.ErrUnauthorized
	}
	return uploadauth.Ticket{UploadID: "job-1", PresignedURL: "https://upload.example/job-1", ExpiresIn: 3600}, nil
}

func sampleRecord() catalog.Record {
	gsd := 0.05
	rec := catalog.Record{
		ID:           "img-1",
		Title:        "Harbour",
		BBox:         catalog.BBox{XMin: 10, YMin: 20, XMax: 11, YMax: 21},
		Datetime:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		GSD:          &gsd,
		PlatformType: "uav",
		License:      "CC-BY 4.0",
		COGHref:      "https://cdn.example/img-1.tif",
		Width:        100,
		Height:       80,
		Bands:        3,
		EPSG:         4326,
		UploadedAt:   time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	rec.FillGeometry()
	return rec
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSearchGet(t *testing.T) {
	s := &fakeSearcher{recs: []catalog.Record{sampleRecord()}}
	h := NewRouter(Deps{Search: s})

	w := do(t, h, http.MethodGet, "/api/v1/search?bbox=10,20,12,22&date_start=2024-01-01&platform=uav&limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, []float64{10, 20, 12, 22}, s.got.BBox)
	assert.Equal(t, "2024-01-01", s.got.DateStart)
	assert.Equal(t, "uav", s.got.Platform)
	assert.Equal(t, 5, s.got.Limit)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	img := resp.Results[0]
	assert.Equal(t, "img-1", img.ID)
	assert.Equal(t, "uav", img.Platform)
	assert.Equal(t, []float64{10, 20, 11, 21}, img.BBox)
	require.NotNil(t, img.Geometry)
	assert.Equal(t, "Polygon", img.Geometry.Type)
	require.NotNil(t, img.GSD)
	assert.InDelta(t, 0.05, *img.GSD, 1e-9)
}

func TestSearchPost(t *testing.T) {
	s := &fakeSearcher{}
	h := NewRouter(Deps{Search: s})

	w := do(t, h, http.MethodPost, "/api/v1/search", `{"bbox":[-1,-1,1,1],"dateEnd":"2024-02-01","q":"harbour"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "harbour", s.got.Text)
	assert.Equal(t, "2024-02-01", s.got.DateEnd)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Results)
}

func TestSearchErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"query", catalog.NewQueryError("bbox", "west > east"), http.StatusBadRequest},
		{"connection", catalog.NewConnectionError("open snapshot", errors.New("boom")), http.StatusServiceUnavailable},
		{"timeout", catalog.TimeoutError{JobID: "j"}, http.StatusGatewayTimeout},
		{"other", errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(Deps{Search: &fakeSearcher{err: tt.err}})
			w := do(t, h, http.MethodPost, "/api/v1/search", `{"bbox":[0,0,1,1]}`, nil)
			assert.Equal(t, tt.code, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestSearchBadInput(t *testing.T) {
	s := &fakeSearcher{}
	h := NewRouter(Deps{Search: s})

	w := do(t, h, http.MethodGet, "/api/v1/search?bbox=a,b,c,d", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "bbox", resp.Field)

	w = do(t, h, http.MethodGet, "/api/v1/search?bbox=0,0,1,1&limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/search", `{"bbox":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseSearchQueryAliases(t *testing.T) {
	req, err := ParseSearchQuery(url.Values{"dateStart": {"2024-01-01"}, "date_end": {"2024-02-01"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", req.DateStart)
	assert.Equal(t, "2024-02-01", req.DateEnd)
	assert.Nil(t, req.BBox)
}

func TestInitiateUpload(t *testing.T) {
	ini := &fakeInitiator{}
	h := NewRouter(Deps{Uploads: ini})

	w := do(t, h, http.MethodPost, "/api/v1/uploads?title=Harbour&platform=uav", "", map[string]string{"x-api-key": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Harbour", ini.got.Title)
	assert.Equal(t, "uav", ini.got.Platform)

	var ticket uploadauth.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	assert.Equal(t, "job-1", ticket.UploadID)

	w = do(t, h, http.MethodPost, "/api/v1/uploads", `{"title":"From body","license":"CC0"}`, map[string]string{"x-api-key": "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "From body", ini.got.Title)
	assert.Equal(t, "CC0", ini.got.License)

	w = do(t, h, http.MethodPost, "/api/v1/uploads", "", map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadStatus(t *testing.T) {
	ctx := context.Background()
	tracker := statustracker.NewObjectTracker(objstore.NewFileStore(t.TempDir(), "bucket"))
	require.NoError(t, tracker.Set(ctx, "job-7", statustracker.Job{
		Step:   "converting",
		Status: statustracker.StatusProcessing,
		Title:  "Harbour",
	}))
	h := NewRouter(Deps{Status: tracker})

	w := do(t, h, http.MethodGet, "/api/v1/uploads/job-7/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job statustracker.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "job-7", job.JobID)
	assert.Equal(t, "converting", job.Step)
	assert.Equal(t, statustracker.StatusProcessing, job.Status)

	w = do(t, h, http.MethodGet, "/api/v1/uploads/job-8/status", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/uploads/..%5Cx/status", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventsAndHealthMounted(t *testing.T) {
	var hits int
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusAccepted)
	})
	health := healthcheck.NewServer(healthcheck.Config{Port: 0})
	health.SetStatus(healthcheck.StatusHealthy)
	h := NewRouter(Deps{Events: events, Health: health})

	w := do(t, h, http.MethodPost, "/api/v1/events", `{}`, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, hits)

	w = do(t, h, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Routes without a dependency are not registered.
	w = do(t, h, http.MethodGet, "/api/v1/search", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Deps{Search: &fakeSearcher{}})
	w := do(t, h, http.MethodOptions, "/api/v1/search", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "x-api-key")
}
