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

// Package healthcheck serves /healthz, /readyz and /livez, either on its
// own port or mounted on another router.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultPort = 8090

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

var statusNames = map[Status]string{
	StatusStarting:  "starting",
	StatusHealthy:   "healthy",
	StatusUnhealthy: "unhealthy",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// CheckFunc reports whether one dependency is usable.
type CheckFunc func(ctx context.Context) error

type Response struct {
	Healthy bool              `json:"healthy"`
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

type Config struct {
	Port int `mapstructure:"port"`
}

// GetConfigFromEnv reads HEALTH_CHECK_PORT, falling back to 8090.
func GetConfigFromEnv() Config {
	if p, err := strconv.Atoi(os.Getenv("HEALTH_CHECK_PORT")); err == nil && p > 0 && p < 65536 {
		return Config{Port: p}
	}
	return Config{Port: defaultPort}
}

type Server struct {
	port         int
	checkTimeout time.Duration
	status       atomic.Int32

	mu     sync.RWMutex
	checks map[string]CheckFunc

	server *http.Server
}

func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = defaultPort
	}
	return &Server{
		port:         config.Port,
		checkTimeout: 2 * time.Second,
		checks:       map[string]CheckFunc{},
	}
}

func (s *Server) SetStatus(status Status) {
	if Status(s.status.Swap(int32(status))) != status {
		slog.Debug("Health status changed", slog.String("status", status.String()))
	}
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

// AddCheck registers a readiness check. /readyz fails while any check does.
func (s *Server) AddCheck(name string, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

func (s *Server) RemoveCheck(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checks, name)
}

// Ready runs every check concurrently, each bounded by the check timeout,
// and returns the failures by name. A status other than healthy is
// reported as the failure "status".
func (s *Server) Ready(ctx context.Context) (bool, map[string]string) {
	s.mu.RLock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for name, fn := range s.checks {
		checks[name] = fn
	}
	s.mu.RUnlock()

	failing := map[string]string{}
	if st := s.GetStatus(); st != StatusHealthy {
		failing["status"] = st.String()
	}

	var (
		wg  sync.WaitGroup
		fmu sync.Mutex
	)
	for name, fn := range checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()
			if err := fn(cctx); err != nil {
				fmu.Lock()
				failing[name] = err.Error()
				fmu.Unlock()
			}
		})
	}
	wg.Wait()

	if len(failing) == 0 {
		return true, nil
	}
	return false, failing
}

// Mount adds the health routes to r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := s.GetStatus()
		writeResponse(w, Response{Healthy: st == StatusHealthy, Status: st.String()})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, failing := s.Ready(r.Context())
		writeResponse(w, Response{Healthy: ready, Status: s.GetStatus().String(), Failing: failing})
	})
	// Liveness ignores readiness checks; a slow store must not get the
	// process restarted.
	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		st := s.GetStatus()
		writeResponse(w, Response{Healthy: st != StatusUnhealthy, Status: st.String()})
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Mount(r)
	return r
}

// Start serves the health routes on the configured port until ctx is done.
// A port that cannot be bound is reported immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("health check listen: %w", err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
