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

package catalogclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/imagelake/internal/api"
	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/objstore"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

func record(id string, x float64) catalog.Record {
	rec := catalog.Record{
		ID:           id,
		Title:        id,
		BBox:         catalog.BBox{XMin: x, YMin: 0, XMax: x + 1, YMax: 1},
		Datetime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PlatformType: "uav",
		License:      "CC0",
	}
	rec.FillGeometry()
	return rec
}

// slowSearcher holds any search whose bbox starts at west=0 until its
// context ends.
type slowSearcher struct {
	started chan struct{}
}

func (s *slowSearcher) Search(ctx context.Context, req queryengine.Request) ([]catalog.Record, error) {
	if _, err := req.Normalize(10, 100); err != nil {
		return nil, err
	}
	if len(req.BBox) == 4 && req.BBox[0] == 0 {
		close(s.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(req.BBox) == 4 && req.BBox[0] > 90 {
		return nil, catalog.NewConnectionError("open snapshot", errors.New("store down"))
	}
	return []catalog.Record{record("fresh", req.BBox[0])}, nil
}

type keyInitiator struct{}

func (keyInitiator) Initiate(_ context.Context, apiKey string, req uploadauth.Request) (uploadauth.Ticket, error) {
	if apiKey != "k1" {
		return uploadauth.Ticket{}, uploadauth.ErrUnauthorized
	}
	return uploadauth.Ticket{UploadID: "up-1", PresignedURL: "http://unused/" + req.Title, ExpiresIn: 60}, nil
}

func newServer(t *testing.T, tracker statustracker.Tracker) (*httptest.Server, *slowSearcher) {
	t.Helper()
	s := &slowSearcher{started: make(chan struct{})}
	srv := httptest.NewServer(api.NewRouter(api.Deps{
		Search:  s,
		Uploads: keyInitiator{},
		Status:  tracker,
	}))
	t.Cleanup(srv.Close)
	return srv, s
}

func TestSearch(t *testing.T) {
	srv, _ := newServer(t, nil)
	c := New(srv.URL)

	imgs, err := c.Search(context.Background(), SearchRequest{BBox: []float64{5, 0, 6, 1}})
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "fresh", imgs[0].ID)
	assert.Equal(t, []float64{5, 0, 6, 1}, imgs[0].BBox)
}

func TestSearchErrorsMapBack(t *testing.T) {
	srv, _ := newServer(t, nil)
	c := New(srv.URL)

	_, err := c.Search(context.Background(), SearchRequest{BBox: []float64{95, 0, 96, 1}})
	assert.True(t, catalog.IsConnectionError(err), "got %v", err)

	_, err = c.Search(context.Background(), SearchRequest{BBox: []float64{1, 2}})
	var qe catalog.QueryError
	require.ErrorAs(t, err, &qe)
}

func TestUnreachableServerIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL).Search(context.Background(), SearchRequest{BBox: []float64{0, 0, 1, 1}})
	assert.True(t, catalog.IsConnectionError(err), "got %v", err)
}

func TestInitiate(t *testing.T) {
	srv, _ := newServer(t, nil)

	ticket, err := New(srv.URL, WithAPIKey("k1")).Initiate(context.Background(), UploadRequest{Title: "harbour"})
	require.NoError(t, err)
	assert.Equal(t, "up-1", ticket.UploadID)
	assert.True(t, strings.HasSuffix(ticket.PresignedURL, "/harbour"))

	_, err = New(srv.URL, WithAPIKey("nope")).Initiate(context.Background(), UploadRequest{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpload(t *testing.T) {
	var got string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		got = buf.String()
	}))
	defer target.Close()

	err := New("http://unused").Upload(context.Background(), Ticket{PresignedURL: target.URL + "/raw"}, strings.NewReader("tiff"), 4)
	require.NoError(t, err)
	assert.Equal(t, "tiff", got)
}

// A search issued after another still in flight wins even though the
// older one would finish later.
func TestSearcherDiscardsSupersededResults(t *testing.T) {
	srv, slow := newServer(t, nil)
	s := NewSearcher(New(srv.URL))

	var wg sync.WaitGroup
	var oldErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, oldErr = s.Search(context.Background(), SearchRequest{BBox: []float64{0, 0, 1, 1}})
	}()
	<-slow.started

	imgs, err := s.Search(context.Background(), SearchRequest{BBox: []float64{10, 0, 11, 1}})
	require.NoError(t, err)
	require.Len(t, imgs, 1)

	wg.Wait()
	assert.ErrorIs(t, oldErr, ErrSuperseded)

	latest, ok := s.Latest()
	require.True(t, ok)
	require.Len(t, latest, 1)
	assert.Equal(t, []float64{10, 0, 11, 1}, latest[0].BBox)
}

func TestStatusAndWait(t *testing.T) {
	ctx := context.Background()
	tracker := statustracker.NewObjectTracker(objstore.NewFileStore(t.TempDir(), "bucket"))
	srv, _ := newServer(t, tracker)
	c := New(srv.URL)

	_, err := c.Status(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tracker.Set(ctx, "job-1", statustracker.Job{Step: "converting", Status: statustracker.StatusProcessing}))
	job, err := c.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "converting", job.Step)

	_, err = c.WaitForStatus(ctx, "job-1", WaitOptions{Interval: 5 * time.Millisecond, MaxAttempts: 3})
	var te catalog.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)

	require.NoError(t, tracker.Set(ctx, "job-1", statustracker.Job{Step: "complete", Status: statustracker.StatusComplete}))
	job, err = c.WaitForStatus(ctx, "job-1", WaitOptions{Interval: 5 * time.Millisecond, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, statustracker.StatusComplete, job.Status)
}
