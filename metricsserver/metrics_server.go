/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package metricsserver provides an HTTP server exposing Prometheus metrics
// (and optionally pprof) of a long-running process. It implements service.Unit.
package metricsserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-crptclient/log"
	"github.com/acronis/go-crptclient/service"
)

// MetricsPath is a path of the Prometheus metrics endpoint.
const MetricsPath = "/metrics"

const shutdownTimeout = 5 * time.Second

// Opts represents an options for MetricsServer.
type Opts struct {
	// Gatherer is used for /metrics. prometheus.DefaultGatherer is used by default.
	Gatherer prometheus.Gatherer
}

// MetricsServer is an HTTP server for Prometheus metrics.
type MetricsServer struct {
	URL        string
	HTTPServer *http.Server
	Logger     log.FieldLogger

	done chan struct{}
}

var _ service.Unit = (*MetricsServer)(nil)

// New creates a new MetricsServer.
func New(cfg *Config, logger log.FieldLogger) *MetricsServer {
	return NewWithOpts(cfg, logger, Opts{})
}

// NewWithOpts creates a new MetricsServer with options.
func NewWithOpts(cfg *Config, logger log.FieldLogger, opts Opts) *MetricsServer {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	if cfg.Pprof {
		router.Mount("/debug", chimiddleware.Profiler())
	}

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return &MetricsServer{
		URL:        "http://" + httpServer.Addr,
		HTTPServer: httpServer,
		Logger:     logger.With(log.String("address", httpServer.Addr)),
		done:       make(chan struct{}),
	}
}

// Start starts the server and blocks until it is stopped.
func (s *MetricsServer) Start(fatalErr chan<- error) {
	defer close(s.done)

	s.Logger.Info("starting metrics HTTP server...")
	err := s.HTTPServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		s.Logger.Info("metrics HTTP server closed")
		return
	}
	s.Logger.Error("metrics HTTP server error", log.Error(err))
	fatalErr <- err
}

// Stop stops the server. In graceful mode active scrapes are given a few seconds to finish.
func (s *MetricsServer) Stop(gracefully bool) error {
	s.Logger.Info("stopping metrics HTTP server...", log.Bool("gracefully", gracefully))
	var err error
	if gracefully {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.HTTPServer.Shutdown(ctx)
	} else {
		err = s.HTTPServer.Close()
	}
	if err != nil {
		s.Logger.Error("metrics HTTP server stopping error", log.Error(err))
		return err
	}
	<-s.done
	return nil
}
