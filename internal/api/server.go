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

// Package api exposes search, upload initiation, job status and the
// storage-event webhook over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cardinalhq/imagelake/internal/catalog"
	"github.com/cardinalhq/imagelake/internal/healthcheck"
	"github.com/cardinalhq/imagelake/internal/logctx"
	"github.com/cardinalhq/imagelake/internal/queryengine"
	"github.com/cardinalhq/imagelake/internal/statustracker"
	"github.com/cardinalhq/imagelake/internal/uploadauth"
)

type Config struct {
	Addr string `mapstructure:"addr"`
}

func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Searcher answers catalog searches.
type Searcher interface {
	Search(ctx context.Context, req queryengine.Request) ([]catalog.Record, error)
}

// Initiator starts uploads.
type Initiator interface {
	Initiate(ctx context.Context, apiKey string, req uploadauth.Request) (uploadauth.Ticket, error)
}

// Deps are the collaborators the routes use. A nil dependency leaves its
// routes unregistered.
type Deps struct {
	Search  Searcher
	Uploads Initiator
	Status  statustracker.Tracker
	Events  http.Handler
	Health  *healthcheck.Server
	Logger  *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging(d.Logger))
	r.Use(cors())

	if d.Health != nil {
		d.Health.Mount(r)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if d.Search != nil {
			r.Get("/search", h.searchGet)
			r.Post("/search", h.searchPost)
		}
		if d.Uploads != nil {
			r.Post("/uploads", h.initiate)
		}
		if d.Status != nil {
			r.Get("/uploads/{id}/status", h.status)
		}
		if d.Events != nil {
			r.Method(http.MethodPost, "/events", d.Events)
		}
	})
	return r
}

// Run serves handler on cfg.Addr until ctx is done.
func Run(ctx context.Context, cfg Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

// writeError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var qe catalog.QueryError
	var ve catalog.ValidationError
	resp := ErrorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	switch {
	case errors.As(err, &qe):
		code = http.StatusBadRequest
		resp.Field = qe.Field
	case errors.As(err, &ve):
		code = http.StatusBadRequest
	case errors.Is(err, uploadauth.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, statustracker.ErrNotFound):
		code = http.StatusNotFound
	case catalog.IsConnectionError(err):
		code = http.StatusServiceUnavailable
	case catalog.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads this.
		code = http.StatusServiceUnavailable
	}

	ll := logctx.FromContext(r.Context())
	if code >= 500 {
		ll.Error("Request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		ll.Debug("Request rejected", slog.String("path", r.URL.Path), slog.Int("status", code), slog.Any("error", err))
	}
	writeJSON(w, code, resp)
}
