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
	"log/slog"
	"strings"
	"time"
)

// Transport moves whole JSON-RPC messages between the client and a server.
//
// Description:
//
//	Implementations hide how bytes reach the language server. Send
//	delivers one message. Receive returns the next inbound message in
//	arrival order, suspending until one is available, the transport is
//	closed, or ctx is done. Close releases every resource and may be
//	called more than once.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Default transport settings.
const (
	DefaultGracePeriod = 5 * time.Second
	DefaultHTTPTimeout = 30 * time.Second
)

// TransportOptions configures every transport kind.
type TransportOptions struct {
	// GracePeriod is how long a child process may take to exit before it is killed.
	GracePeriod time.Duration

	// HTTPTimeout bounds every HTTP round trip of the endpoint transport.
	HTTPTimeout time.Duration

	// MaxFrameSize bounds the Content-Length a server may declare.
	MaxFrameSize int

	// Env holds extra environment entries for a child process.
	Env []string

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = DefaultHTTPTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DialFunc opens a transport for a command string and workspace root.
type DialFunc func(ctx context.Context, command, workspace string, opts TransportOptions) (Transport, error)

// OpenTransport selects and opens a transport for command.
//
// Description:
//
//	http:// and https:// commands use the endpoint transport, ws://
//	and wss:// the WebSocket transport, and anything else is tokenized
//	and spawned as a child process in workspace.
//
// Inputs:
//
//	ctx - Bounds connection setup (probe, dial); not the transport lifetime
//	command - Server command line or URL
//	workspace - Working directory for a spawned server
//	opts - Transport settings
//
// Outputs:
//
//	Transport - The open transport
//	error - Configuration or connection failure
func OpenTransport(ctx context.Context, command, workspace string, opts TransportOptions) (Transport, error) {
	opts = opts.withDefaults()
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}

	kind := SelectTransport(command)
	opts.Logger.Debug("Opening LSP transport",
		slog.String("kind", kind.String()),
		slog.String("command", command),
	)
	recordTransportOpen(ctx, kind)

	switch kind {
	case TransportEndpoint:
		return NewEndpointTransport(ctx, command, opts)
	case TransportWebSocket:
		return NewWebSocketTransport(ctx, command, opts)
	default:
		args, err := SplitCommand(command)
		if err != nil {
			return nil, err
		}
		return NewProcessTransport(NormalizeCommand(args), workspace, opts)
	}
}
