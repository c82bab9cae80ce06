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

// Package debugging serves runtime profiles on a side port.
package debugging

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cardinalhq/imagelake/internal/helpers"
)

// RunPprof serves profiles on the port named by IMAGELAKE_PPROF_PORT (or
// PPROF_PORT) until ctx is done. Unset, zero or "off" disables it. A port
// that cannot be bound is logged and profiling stays off.
func RunPprof(ctx context.Context) {
	port := pprofPort(helpers.FirstEnv("IMAGELAKE_PPROF_PORT", "PPROF_PORT"))
	if port <= 0 {
		return
	}
	if _, err := Serve(ctx, net.JoinHostPort("", strconv.Itoa(port))); err != nil {
		slog.Error("Pprof server not started", slog.Any("error", err))
	}
}

// Serve binds addr, then serves Handler in the background until ctx is
// done. It returns the bound address, which matters when addr ends in :0.
func Serve(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}

	slog.Info("Starting pprof server", slog.String("address", ln.Addr().String()))
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Pprof server error", slog.Any("error", err))
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	return ln.Addr(), nil
}

// Handler mounts chi's profiler under /debug: the pprof index at
// /debug/pprof/ and expvar at /debug/vars. It leaves
// http.DefaultServeMux alone.
func Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount("/debug", middleware.Profiler())
	return r
}

func pprofPort(raw string) int {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch raw {
	case "", "0", "false", "off":
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 0 || port > 65535 {
		slog.Warn("Invalid pprof port, profiling disabled", slog.String("value", raw))
		return 0
	}
	return port
}
