// Package server wires the HTTP routes: thumbnail fetches, health checks
// and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/health"
	"github.com/s3thumbs/s3thumbs/thumbnail"
	"github.com/s3thumbs/s3thumbs/version"
)

// Server is the HTTP front of the service.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	log        logrus.FieldLogger
}

// New builds the router and the server around it. rec may be nil to
// disable request stats.
func New(settings config.AppSettings, bucketsMap *config.BucketsMap, thumbs *thumbnail.Service,
	healthState *health.State, rec Recorder, log logrus.FieldLogger) *Server {

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)
	if rec != nil {
		r.Use(recordStats(bucketsMap, rec, log))
	}

	hc := health.Handler(healthState, version.Version)
	r.Get("/hc", hc)
	r.Get("/health", hc)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/{bucket}/{fileName}", func(w http.ResponseWriter, r *http.Request) {
		thumbs.ServeThumbnail(w, r, chi.URLParam(r, "bucket"), chi.URLParam(r, "fileName"))
	})
	r.Get("/{bucket}/{fileName}/{alias}", func(w http.ResponseWriter, r *http.Request) {
		thumbs.ServeByAlias(w, r, chi.URLParam(r, "bucket"), chi.URLParam(r, "fileName"), chi.URLParam(r, "alias"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              settings.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: r,
		log:    log,
	}
}

// Router exposes the handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.log.Infof("serving on http://%s/", s.httpServer.Addr)
		errs <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
