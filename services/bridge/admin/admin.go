// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin serves the bridge's optional HTTP admin surface.
//
// Routes:
//
//	GET /healthz - Liveness, always 200 while the process runs
//	GET /readyz  - 200 once the language server handshake completed, 503 before
//	GET /metrics - Prometheus exposition
//
// The admin server never carries MCP traffic; stdio remains the upstream
// channel.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	shutdownTimeout    = 5 * time.Second
	defaultServiceName = "lspbridge-admin"
)

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	// Status is always "healthy".
	Status string `json:"status"`

	// Version is the bridge version.
	Version string `json:"version"`
}

// ReadyResponse is the response for GET /readyz.
type ReadyResponse struct {
	// Ready is true once tool calls are accepted.
	Ready bool `json:"ready"`

	// Server is the configured language server key.
	Server string `json:"server,omitempty"`
}

// Options configures the admin router.
type Options struct {
	// Version is reported by /healthz.
	Version string

	// Server is the language server key reported by /readyz.
	Server string

	// Ready reports readiness. Nil means never ready.
	Ready func() bool

	// Metrics serves /metrics. Nil means the default Prometheus registry.
	Metrics http.Handler

	// Logger receives request failures. Nil means slog.Default().
	Logger *slog.Logger

	// Service names the admin server in request spans.
	Service string

	// Debug enables gin's request logger.
	Debug bool
}

// Handlers implements the admin endpoints.
type Handlers struct {
	opts Options
}

// NewHandlers creates handlers with defaults applied.
func NewHandlers(opts Options) *Handlers {
	if opts.Ready == nil {
		opts.Ready = func() bool { return false }
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{opts: opts}
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.opts.Version,
	})
}

// HandleReady handles GET /readyz.
//
// Response:
//
//	200 OK: ReadyResponse (Ready=true) - tool calls are accepted
//	503 Service Unavailable: ReadyResponse (Ready=false) - handshake in progress
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Ready:  h.opts.Ready(),
		Server: h.opts.Server,
	}
	if !resp.Ready {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes mounts the admin endpoints on router.
func RegisterRoutes(router gin.IRoutes, h *Handlers) {
	router.GET("/healthz", h.HandleHealth)
	router.GET("/readyz", h.HandleReady)
	router.GET("/metrics", gin.WrapH(h.opts.Metrics))
}

// NewRouter builds a gin engine with recovery and the admin routes.
func NewRouter(opts Options) *gin.Engine {
	if opts.Service == "" {
		opts.Service = defaultServiceName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.Service))
	if opts.Debug {
		router.Use(gin.Logger())
	}
	RegisterRoutes(router, NewHandlers(opts))
	return router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
//
// Outputs:
//
//	error - Listen failures; nil after a clean shutdown
func Serve(ctx context.Context, addr string, opts Options) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, opts)
}

func serve(ctx context.Context, ln net.Listener, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("Admin server listening", slog.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
