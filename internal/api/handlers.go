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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/constants"
	"github.com/cardinalhq/imagelake/internal/idgen"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

func (h *handlers) searchGet(w http.ResponseWriter, r *http.Request) {
	req, err := ParseSearchQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.search(w, r, req)
}

func (h *handlers) searchPost(w http.ResponseWriter, r *http.Request) {
	var req queryengine.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.search(w, r, req)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request, req queryengine.Request) {
	recs, err := h.deps.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := SearchResponse{Results: make([]Image, 0, len(recs)), Count: len(recs)}
	for _, rec := range recs {
		resp.Results = append(resp.Results, ImageFromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ParseSearchQuery reads a search from URL parameters:
// bbox=w,s,e,n&date_start=&date_end=&platform=&license=&q=&limit=
func ParseSearchQuery(v url.Values) (queryengine.Request, error) {
	req := queryengine.Request{
		DateStart: first(v, "date_start", "dateStart"),
		DateEnd:   first(v, "date_end", "dateEnd"),
		Platform:  v.Get("platform"),
		License:   v.Get("license"),
		Text:      v.Get("q"),
	}
	if raw := strings.TrimSpace(v.Get("bbox")); raw != "" {
		parts := strings.Split(raw, ",")
		req.BBox = make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return queryengine.Request{}, catalog.NewQueryError("bbox", "coordinates must be numbers")
			}
			req.BBox = append(req.BBox, f)
		}
	}
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return queryengine.Request{}, catalog.NewQueryError("limit", "must be an integer")
		}
		req.Limit = n
	}
	return req, nil
}

func first(v url.Values, keys ...string) string {
	for _, k := range keys {
		if s := v.Get(k); s != "" {
			return s
		}
	}
	return ""
}

func (h *handlers) initiate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := uploadauth.Request{
		Title:    q.Get("title"),
		Platform: q.Get("platform"),
		License:  q.Get("license"),
		Provider: q.Get("provider"),
		Acquired: q.Get("acquired"),
	}
	if r.ContentLength != 0 && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	ticket, err := h.deps.Uploads.Initiate(r.Context(), r.Header.Get("x-api-key"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || !idgen.ValidJobID(id) {
		writeError(w, r, catalog.NewQueryError("id", "invalid upload id"))
		return
	}
	job, err := h.deps.Status.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, statustracker.ErrNotFound) {
			err = catalog.NewConnectionError("read status", err)
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.HTTPBodyLimitBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return catalog.NewQueryError("body", "empty request body")
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return catalog.NewQueryError("body", "request body too large")
		}
		return catalog.NewQueryError("body", "invalid JSON: "+err.Error())
	}
	return nil
}
