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
	"encoding/json"
	"errors"
	"fmt"
)

// Configuration errors.
var (
	// ErrEmptyCommand indicates the server command line had no tokens.
	ErrEmptyCommand = errors.New("lsp server command is empty")

	// ErrInvalidCommand indicates the server command line could not be tokenized.
	ErrInvalidCommand = errors.New("invalid lsp server command")

	// ErrWorkspaceNotFound indicates the workspace root does not exist or is not a directory.
	ErrWorkspaceNotFound = errors.New("workspace directory not found")
)

// Transport errors.
var (
	// ErrServerNotInstalled indicates the LSP server binary was not found.
	ErrServerNotInstalled = errors.New("lsp server not installed")

	// ErrEndpointUnreachable indicates the HTTP endpoint failed its liveness probe.
	ErrEndpointUnreachable = errors.New("lsp endpoint unreachable")

	// ErrTransportClosed indicates the transport was closed locally.
	ErrTransportClosed = errors.New("lsp transport closed")

	// ErrServerCrashed indicates the LSP server terminated or the stream ended unexpectedly.
	ErrServerCrashed = errors.New("lsp server crashed")
)

// Protocol errors.
var (
	// ErrMalformedHeader indicates a frame header without a usable Content-Length.
	ErrMalformedHeader = errors.New("malformed lsp frame header")

	// ErrInvalidResponse indicates the LSP response could not be parsed.
	ErrInvalidResponse = errors.New("invalid lsp response")

	// ErrResponseTooLarge indicates a reply body over the frame size limit.
	ErrResponseTooLarge = errors.New("lsp response too large")
)

// State errors.
var (
	// ErrNotStarted indicates an operation was issued before Start.
	ErrNotStarted = errors.New("lsp client not started")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("lsp client already started")

	// ErrInitializeFailed indicates the LSP initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrClientClosed indicates the client was stopped.
	ErrClientClosed = errors.New("lsp client closed")
)

// ErrRequestTimeout indicates the LSP request exceeded the timeout.
var ErrRequestTimeout = errors.New("lsp request timeout")

// JSON-RPC and LSP error codes.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInvalidParams        = -32602
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
	CodeRequestCancelled     = -32800
)

// LSPError represents an error returned by the language server via JSON-RPC.
//
// Downstream errors are always surfaced as *LSPError so callers can
// distinguish "unsupported" (method not found) from an empty result.
type LSPError struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`

	// Message is the error message from the server.
	Message string `json:"message"`

	// Data contains optional additional data about the error.
	Data json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return fmt.Sprintf("LSP error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *LSPError) IsParseError() bool {
	return e.Code == CodeParseError
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *LSPError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *LSPError) IsServerNotInitialized() bool {
	return e.Code == CodeServerNotInitialized
}

// IsMethodNotFound reports whether err carries a downstream method-not-found error.
func IsMethodNotFound(err error) bool {
	var lspErr *LSPError
	return errors.As(err, &lspErr) && lspErr.IsMethodNotFound()
}
