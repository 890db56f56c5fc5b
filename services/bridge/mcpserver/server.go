// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcpserver exposes the tool registry over the Model Context Protocol.
//
// The server is a thin adapter: every registry definition becomes an MCP
// tool whose handler forwards the decoded arguments to Registry.Call.
// Failures are reported as tool results with IsError set so the upstream
// client sees the message text instead of a protocol error.
package mcpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AleutianAI/lspbridge/services/bridge/tools"
)

// Default server identity reported during the MCP handshake.
const (
	DefaultName    = "lspbridge"
	DefaultVersion = "0.1.0"
)

// ErrNilRegistry is returned when NewServer is given no registry.
var ErrNilRegistry = errors.New("tool registry must not be nil")

// Options configures the MCP server.
type Options struct {
	// Name is reported as the server implementation name.
	Name string

	// Version is reported as the server implementation version.
	Version string

	// Logger receives call and session logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Server serves the tool registry to one MCP client.
//
// Thread Safety:
//
//	Safe for concurrent use. Tool calls are dispatched concurrently by the SDK.
type Server struct {
	registry *tools.Registry
	server   *mcp.Server
	logger   *slog.Logger
}

// NewServer registers every tool in registry with a new MCP server.
//
// Inputs:
//
//	registry - The tool registry. Must not be nil.
//	opts - Server identity and logger.
//
// Outputs:
//
//	*Server - Ready to Run
//	error - ErrNilRegistry
func NewServer(registry *tools.Registry, opts Options) (*Server, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		registry: registry,
		server:   mcp.NewServer(&mcp.Implementation{Name: opts.Name, Version: opts.Version}, nil),
		logger:   opts.Logger,
	}
	for _, def := range registry.Definitions() {
		s.server.AddTool(&mcp.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		}, s.handler(def.Name))
	}
	return s, nil
}

// Run serves MCP requests on transport until the client disconnects or
// ctx is cancelled. A nil transport means stdio.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if transport == nil {
		transport = mcp.NewStdioTransport()
	}
	s.logger.Info("MCP server listening", slog.Int("tools", len(s.registry.Definitions())))
	err := s.server.Run(ctx, transport)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		s.logger.Info("MCP client disconnected")
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.ServerRequest[*mcp.CallToolParamsFor[map[string]any]]) (*mcp.CallToolResultFor[any], error) {
		var args map[string]any
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}

		text, err := s.registry.Call(ctx, name, args)
		if err != nil {
			return &mcp.CallToolResultFor[any]{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return &mcp.CallToolResultFor[any]{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil
	}
}
