/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/capacity"
	"github.com/supercheck-io/supercheck/internal/metrics"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/store"
)

// Version is the supercheck version (set at build time)
var Version = "dev"

// Server is the REST API server
type Server struct {
	store        store.Store
	queue        queue.Service
	gate         *capacity.Gate
	alerts       *alerting.Engine
	applier      Applier
	artifactsDir string
	startTime    time.Time
	port         int
	log          logr.Logger
	server       *http.Server
}

// ServerOptions contains options for creating the server
type ServerOptions struct {
	Store        store.Store
	Queue        queue.Service
	Gate         *capacity.Gate
	Alerts       *alerting.Engine
	Applier      Applier
	ArtifactsDir string
	Port         int
	Log          logr.Logger
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}

	return &Server{
		store:        opts.Store,
		queue:        opts.Queue,
		gate:         opts.Gate,
		alerts:       opts.Alerts,
		applier:      opts.Applier,
		artifactsDir: opts.ArtifactsDir,
		startTime:    time.Now(),
		port:         opts.Port,
		log:          opts.Log.WithName("api-server"),
	}
}

// Start starts the API server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.log.Info("starting API server", "port", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "API server error")
		}
	}()

	<-ctx.Done()

	s.log.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the router
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS for UI
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Create handlers
	h := NewHandlers(s.store, s.queue, s.gate, s.alerts, s.applier, s.log)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health", h.GetHealth)

		// Jobs
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/runs", h.ListRuns)
		r.Post("/jobs/{id}/trigger", h.TriggerJob)
		r.Get("/runs/{id}", h.GetRun)

		// Monitors
		r.Get("/monitors", h.ListMonitors)
		r.Get("/monitors/{id}", h.GetMonitor)
		r.Get("/monitors/{id}/results", h.ListResults)
		r.Post("/monitors/{id}/pause", h.PauseMonitor)
		r.Post("/monitors/{id}/resume", h.ResumeMonitor)

		// Heartbeat ingress; GET is accepted for curl-in-crontab callers
		r.Post("/heartbeat/{token}", h.Heartbeat)
		r.Get("/heartbeat/{token}", h.Heartbeat)

		// Alerts
		r.Get("/alerts/history", h.ListAlertHistory)

		// Notification providers
		r.Get("/providers", h.ListProviders)
		r.Post("/providers/{id}/test", h.TestProvider)
	})

	// Prometheus metrics
	r.Get("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)

	// Playwright reports and traces
	if s.artifactsDir != "" {
		fileServer := http.FileServer(http.Dir(s.artifactsDir))
		r.Get("/artifacts/*", func(w http.ResponseWriter, r *http.Request) {
			http.StripPrefix("/artifacts/", fileServer).ServeHTTP(w, r)
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Supercheck</title></head>
<body>
<h1>Supercheck</h1>
<p>API available at <a href="/api/v1/health">/api/v1/health</a></p>
</body>
</html>`))
	})

	return r
}
