// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONNECTION STATE
// =============================================================================

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

const (
	// StateUnstarted is the state before Start is called.
	StateUnstarted ConnectionState = iota

	// StateHandshaking means the transport is open and initialize is in flight.
	StateHandshaking

	// StateReady means the handshake completed and operations are accepted.
	StateReady

	// StateShuttingDown means Stop is running.
	StateShuttingDown

	// StateClosed means the connection is gone, either stopped or failed.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	names := []string{"unstarted", "handshaking", "ready", "shutting-down", "closed"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Default client settings.
const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Timeout bounds every request, including initialize. Default 30s.
	Timeout time.Duration

	// ShutdownTimeout bounds the shutdown request during Stop. Default 5s.
	ShutdownTimeout time.Duration

	// Verbose logs request and response bodies at DEBUG.
	Verbose bool

	// InitializationOptions is passed through on initialize.
	InitializationOptions any

	// DisableWatch turns off fsnotify invalidation; documents are then
	// re-read on every use.
	DisableWatch bool

	// Languages maps file extensions to language ids. Defaults to the
	// built-in registry.
	Languages *LanguageRegistry

	// Transport configures the transport opened by Start.
	Transport TransportOptions

	// Dial opens the transport. Defaults to OpenTransport.
	Dial DialFunc

	// ClientName and ClientVersion are sent as clientInfo.
	ClientName    string
	ClientVersion string

	// Logger receives client diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the protocol client for one language server.
//
// Description:
//
//	Start opens the transport and runs the initialize handshake in the
//	background. Operations wait for the handshake to finish, then issue
//	one correlated request each. Stop performs the shutdown/exit
//	sequence when the connection was ever ready and closes the
//	transport.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu           sync.Mutex
	state        ConnectionState
	everReady    bool
	readyErr     error
	ready        chan struct{}
	readyOnce    sync.Once
	workspace    string
	transport    Transport
	conn         *conn
	docs         *documentStore
	capabilities ServerCapabilities
	serverInfo   *ServerInfo
	cancel       context.CancelFunc
	loopDone     chan struct{}
	stopped      bool
}

// NewClient creates an unstarted client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = OpenTransport
	}
	if cfg.Languages == nil {
		cfg.Languages = NewLanguageRegistry(nil)
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "lspbridge"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Transport.Logger == nil {
		cfg.Transport.Logger = cfg.Logger
	}
	return &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		ready:  make(chan struct{}),
	}
}

// Start connects to the language server.
//
// Description:
//
//	Validates the command and workspace, opens the transport, and
//	launches the initialize handshake in the background. Returns once
//	the transport is open; use Ready or WaitReady to observe the end of
//	the handshake.
//
// Inputs:
//
//	ctx - Bounds transport setup only; use Stop to end the connection
//	command - Server command line, or an http(s)/ws(s) URL
//	workspace - Workspace root directory
//
// Outputs:
//
//	error - ErrAlreadyStarted, ErrEmptyCommand, ErrWorkspaceNotFound,
//	        ErrClientClosed when Stop ran during connection setup, or a
//	        transport failure
//
// Thread Safety:
//
//	Safe for concurrent use, but only the first caller starts the client.
func (c *Client) Start(ctx context.Context, command, workspace string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.mu.Lock()
	if c.state != StateUnstarted || c.stopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateHandshaking
	c.mu.Unlock()

	root, err := resolveWorkspace(workspace)
	if err == nil && strings.TrimSpace(command) == "" {
		err = ErrEmptyCommand
	}
	if err != nil {
		c.finishHandshake(err)
		return err
	}

	c.logger.Info("Starting LSP client",
		slog.String("command", command),
		slog.String("workspace", root),
		slog.Duration("timeout", c.cfg.Timeout),
	)

	transport, err := c.cfg.Dial(ctx, command, root, c.cfg.Transport)
	if err != nil {
		c.finishHandshake(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cn := newConn(transport, c.logger, c.cfg.Verbose, c.handleNotification)
	docs := newDocumentStore(c.cfg.Languages, c.logger, !c.cfg.DisableWatch)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		docs.shutdown()
		if err := transport.Close(); err != nil {
			c.logger.Debug("Closing LSP transport failed", slog.String("error", err.Error()))
		}
		c.logger.Info("LSP client stopped while connecting")
		c.finishHandshake(ErrClientClosed)
		return ErrClientClosed
	}
	c.workspace = root
	c.transport = transport
	c.conn = cn
	c.docs = docs
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	loopDone := c.loopDone
	c.mu.Unlock()

	go func() {
		defer close(loopDone)
		cn.run(loopCtx)
		c.connectionLost(cn.err())
	}()
	go c.handshake(loopCtx, cn, root)

	return nil
}

// handshake runs initialize and initialized, then marks the client ready.
func (c *Client) handshake(ctx context.Context, cn *conn, root string) {
	start := time.Now()
	rootURI := PathToURI(root)

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		ClientInfo:            &ClientInfo{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
		RootURI:               rootURI,
		RootPath:              root,
		Capabilities:          DefaultClientCapabilities(),
		InitializationOptions: c.cfg.InitializationOptions,
		WorkspaceFolders:      []WorkspaceFolder{{URI: rootURI, Name: filepath.Base(root)}},
	}

	raw, err := cn.call(ctx, "initialize", params, c.cfg.Timeout)
	if err != nil {
		c.finishHandshake(fmt.Errorf("%w: %w", ErrInitializeFailed, err))
		return
	}

	var result InitializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			c.finishHandshake(fmt.Errorf("%w: parse initialize result: %w", ErrInitializeFailed, err))
			return
		}
	}

	if err := cn.notify(ctx, "initialized", struct{}{}); err != nil {
		c.finishHandshake(fmt.Errorf("%w: initialized notification: %w", ErrInitializeFailed, err))
		return
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	attrs := []any{
		slog.Duration("elapsed", time.Since(start)),
		slog.Any("providers", result.Capabilities.Providers()),
	}
	if result.ServerInfo != nil {
		attrs = append(attrs, slog.String("server", result.ServerInfo.Name))
	}
	c.logger.Info("LSP server ready", attrs...)

	c.finishHandshake(nil)
}

// finishHandshake records the handshake outcome and releases waiters.
func (c *Client) finishHandshake(err error) {
	c.mu.Lock()
	handshaking := c.state == StateHandshaking
	if handshaking {
		if err == nil {
			c.state = StateReady
			c.everReady = true
		} else {
			c.state = StateClosed
		}
	}
	if err != nil && c.readyErr == nil {
		c.readyErr = err
	}
	c.mu.Unlock()

	if err != nil {
		if handshaking {
			c.logger.Error("LSP client failed to start", slog.String("error", err.Error()))
		}
		c.teardown()
	}
	c.readyOnce.Do(func() { close(c.ready) })
}

// connectionLost closes a ready client whose read loop ended on its own.
func (c *Client) connectionLost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return
	}
	c.state = StateClosed
	if err == nil {
		err = ErrServerCrashed
	}
	c.readyErr = err
	c.logger.Error("LSP connection lost", slog.String("error", err.Error()))
}

// Ready is closed once the handshake has finished, successfully or not.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// Err returns the handshake or startup error, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyErr
}

// IsReady reports whether operations are currently accepted.
func (c *Client) IsReady() bool {
	return c.State() == StateReady
}

// WaitReady blocks until the handshake finishes or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err := c.readyConn()
	return err
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the server capabilities from initialize.
func (c *Client) Capabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// ServerInfo returns the server's self-description, if it sent one.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Workspace returns the absolute workspace root.
func (c *Client) Workspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspace
}

// ensureReady waits for an in-flight handshake and returns the live connection.
func (c *Client) ensureReady(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateUnstarted {
		return nil, ErrNotStarted
	}

	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.readyConn()
}

func (c *Client) readyConn() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return c.conn, nil
	case StateUnstarted:
		return nil, ErrNotStarted
	default:
		if c.readyErr != nil {
			return nil, c.readyErr
		}
		return nil, ErrClientClosed
	}
}

// Stop shuts the connection down.
//
// Description:
//
//	When the connection was ever ready, sends shutdown (bounded by
//	ShutdownTimeout) and exit; failures there are logged, not returned.
//	Then closes the transport and releases waiters. Calls after the
//	first return nil without sending anything.
//
// Thread Safety:
//
//	Safe for concurrent use, including from a signal-driven goroutine.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	cn := c.conn
	wasReady := c.everReady && c.state == StateReady
	if c.state != StateUnstarted {
		c.state = StateShuttingDown
	}
	c.mu.Unlock()

	c.logger.Info("Stopping LSP client", slog.Bool("graceful", wasReady))

	if wasReady && cn != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ShutdownTimeout)
		if _, err := cn.call(shutdownCtx, "shutdown", nil, c.cfg.ShutdownTimeout); err != nil {
			c.logger.Warn("LSP shutdown request failed", slog.String("error", err.Error()))
		}
		if err := cn.notify(shutdownCtx, "exit", nil); err != nil {
			c.logger.Debug("LSP exit notification failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	c.teardown()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

// teardown closes the transport and stops background work. Idempotent.
func (c *Client) teardown() {
	c.mu.Lock()
	transport, cn, docs, cancel, loopDone := c.transport, c.conn, c.docs, c.cancel, c.loopDone
	c.mu.Unlock()

	if docs != nil {
		docs.shutdown()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			c.logger.Debug("Closing LSP transport failed", slog.String("error", err.Error()))
		}
	}
	if cancel != nil {
		cancel()
	}
	if cn != nil {
		cn.fail(ErrClientClosed)
	}
	if loopDone != nil {
		select {
		case <-loopDone:
		case <-time.After(time.Second):
		}
	}
}

// handleNotification routes server notifications to the logger.
func (c *Client) handleNotification(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case "window/logMessage":
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Debug("Malformed window/logMessage", slog.String("error", err.Error()))
			return
		}
		c.logger.Log(ctx, logLevel(p.Type), "LSP server log", slog.String("message", p.Message))
	case "window/showMessage":
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Debug("Malformed window/showMessage", slog.String("error", err.Error()))
			return
		}
		c.logger.Info("LSP server message", slog.String("message", p.Message))
	default:
		c.logger.Debug("LSP notification", slog.String("method", method))
	}
}

// logLevel maps LSP message severity onto slog levels.
func logLevel(t MessageType) slog.Level {
	switch t {
	case MessageTypeError:
		return slog.LevelError
	case MessageTypeWarning:
		return slog.LevelWarn
	case MessageTypeInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// resolveWorkspace returns the absolute workspace path, which must be a directory.
func resolveWorkspace(workspace string) (string, error) {
	if strings.TrimSpace(workspace) == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrWorkspaceNotFound, workspace, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, abs)
	}
	return abs, nil
}
