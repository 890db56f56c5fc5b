// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bridge connects an MCP client on stdio to one language server.
//
// A Bridge owns the LSP client, the tool registry and the MCP server. Run
// starts the language server in the background and serves MCP requests
// immediately; tool calls are rejected as not ready until the initialize
// handshake completes. Cancelling Run's context stops everything.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lspbridge/services/bridge/admin"
	"github.com/AleutianAI/lspbridge/services/bridge/config"
	"github.com/AleutianAI/lspbridge/services/bridge/lsp"
	"github.com/AleutianAI/lspbridge/services/bridge/mcpserver"
	"github.com/AleutianAI/lspbridge/services/bridge/telemetry"
	"github.com/AleutianAI/lspbridge/services/bridge/tools"
)

// Version is reported to MCP clients and on /healthz.
const Version = "0.1.0"

// DefaultStopTimeout bounds the shutdown sequence after Run's context ends.
const DefaultStopTimeout = 10 * time.Second

var (
	// ErrNilConfig is returned by New without a configuration.
	ErrNilConfig = errors.New("bridge config must not be nil")

	// ErrNilContext is returned by Run with a nil context.
	ErrNilContext = errors.New("ctx must not be nil")
)

// Options configures a Bridge beyond the AppConfig.
type Options struct {
	// AdminAddr enables the admin HTTP server when non-empty.
	AdminAddr string

	// Transport carries MCP traffic. Nil means stdio.
	Transport mcp.Transport

	// Dial opens the language server transport. Nil means lsp.OpenTransport.
	Dial lsp.DialFunc

	// LSPTransport tunes the language server transport.
	LSPTransport lsp.TransportOptions

	// StopTimeout bounds Stop when Run's context ends. Default 10s.
	StopTimeout time.Duration

	// Logger is shared by every component. Nil means slog.Default().
	Logger *slog.Logger
}

// Bridge wires the LSP client to the MCP server.
//
// Thread Safety:
//
//	Safe for concurrent use. Run must be called at most once.
type Bridge struct {
	id       string
	cfg      *config.AppConfig
	opts     Options
	logger   *slog.Logger
	client   *lsp.Client
	registry *tools.Registry
	server   *mcpserver.Server

	stopOnce sync.Once
	stopErr  error
}

// New builds a bridge for cfg. Nothing is started until Run.
//
// Outputs:
//
//	*Bridge - The bridge
//	error - ErrNilConfig, or a configuration validation error
func New(cfg *config.AppConfig, opts Options) (*Bridge, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	id := uuid.NewString()[:8]
	opts.Logger = opts.Logger.With(slog.String("bridge_id", id))

	clientCfg := lsp.ClientConfig{
		Timeout:       cfg.Timeout,
		Verbose:       cfg.Verbose,
		Transport:     opts.LSPTransport,
		Dial:          opts.Dial,
		ClientName:    mcpserver.DefaultName,
		ClientVersion: Version,
		Logger:        opts.Logger.With(slog.String("component", "lsp")),
	}
	if len(cfg.InitializationOptions) > 0 {
		clientCfg.InitializationOptions = cfg.InitializationOptions
	}
	client := lsp.NewClient(clientCfg)

	registry := tools.NewRegistry(client, opts.Logger.With(slog.String("component", "tools")))
	server, err := mcpserver.NewServer(registry, mcpserver.Options{
		Name:    mcpserver.DefaultName,
		Version: Version,
		Logger:  opts.Logger.With(slog.String("component", "mcp")),
	})
	if err != nil {
		return nil, err
	}

	return &Bridge{
		id:       id,
		cfg:      cfg,
		opts:     opts,
		logger:   opts.Logger,
		client:   client,
		registry: registry,
		server:   server,
	}, nil
}

// Run starts the language server and serves MCP until ctx ends, the MCP
// client disconnects, or the handshake fails.
//
// Description:
//
//	The transport is opened synchronously so configuration mistakes
//	fail fast. The handshake continues in the background while the MCP
//	server already answers; the registry opens once it succeeds. On
//	return the language server has been stopped.
//
// Outputs:
//
//	error - Transport setup, handshake, MCP or admin failures; nil on a clean stop
func (b *Bridge) Run(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	b.logger.Info("Starting bridge",
		slog.String("server", b.cfg.ServerKey),
		slog.String("workspace", b.cfg.Workspace),
	)

	if err := b.client.Start(ctx, b.cfg.Command, b.cfg.Workspace); err != nil {
		b.stop(ctx)
		return fmt.Errorf("start language server '%s': %w", b.cfg.ServerKey, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return b.awaitHandshake(gctx)
	})

	g.Go(func() error {
		defer cancel()
		return b.server.Run(gctx, b.opts.Transport)
	})

	if b.opts.AdminAddr != "" {
		g.Go(func() error {
			return admin.Serve(gctx, b.opts.AdminAddr, admin.Options{
				Version: Version,
				Server:  b.cfg.ServerKey,
				Ready:   b.Ready,
				Metrics: telemetry.MetricsHandler(),
				Logger:  b.logger.With(slog.String("component", "admin")),
				Debug:   b.cfg.Verbose,
			})
		})
	}

	runErr := g.Wait()
	stopErr := b.stop(ctx)
	if runErr != nil {
		b.logger.Error("Bridge stopped with error", slog.String("error", runErr.Error()))
		return runErr
	}
	b.logger.Info("Bridge stopped")
	return stopErr
}

// awaitHandshake opens the registry once the client is ready.
func (b *Bridge) awaitHandshake(ctx context.Context) error {
	select {
	case <-b.client.Ready():
	case <-ctx.Done():
		return nil
	}
	if err := b.client.Err(); err != nil {
		return fmt.Errorf("language server '%s' handshake: %w", b.cfg.ServerKey, err)
	}
	if !b.client.IsReady() {
		return nil
	}

	b.registry.SetReady(true)
	attrs := []any{slog.String("server", b.cfg.ServerKey)}
	if info := b.client.ServerInfo(); info != nil {
		attrs = append(attrs, slog.String("name", info.Name))
	}
	b.logger.Info("Language server ready, accepting tool calls", attrs...)
	return nil
}

func (b *Bridge) stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.StopTimeout)
	defer cancel()
	return b.Stop(stopCtx)
}

// Stop closes the readiness gate and stops the language server.
// Multiple calls are idempotent.
func (b *Bridge) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.registry.SetReady(false)
		b.stopErr = b.client.Stop(ctx)
	})
	return b.stopErr
}

// Ready reports whether tool calls are accepted.
func (b *Bridge) Ready() bool {
	return b.registry.IsReady() && b.client.IsReady()
}

// ID returns the short identifier attached to every log record of this bridge.
func (b *Bridge) ID() string {
	return b.id
}

// Registry returns the tool registry.
func (b *Bridge) Registry() *tools.Registry {
	return b.registry
}

// Client returns the LSP client.
func (b *Bridge) Client() *lsp.Client {
	return b.client
}
