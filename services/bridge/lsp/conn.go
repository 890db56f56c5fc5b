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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// JSONRPCVersion is the JSON-RPC version used by LSP.
const JSONRPCVersion = "2.0"

// =============================================================================
// JSON-RPC MESSAGE TYPES
// =============================================================================

// Request is an outbound JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is an outbound JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response answers a server-initiated request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// ErrorResponse rejects a server-initiated request.
type ErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *ResponseError  `json:"error"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// inboundMessage is any message read from the server before classification.
type inboundMessage struct {
	ID     *json.RawMessage `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params json.RawMessage  `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *ResponseError   `json:"error,omitempty"`
}

// messageKind classifies an inbound message by which members it carries.
type messageKind int

const (
	kindInvalid messageKind = iota
	kindResponse
	kindNotification
	kindServerRequest
)

func (m *inboundMessage) kind() messageKind {
	hasID := m.ID != nil
	hasMethod := m.Method != ""
	switch {
	case hasID && hasMethod:
		return kindServerRequest
	case hasID:
		return kindResponse
	case hasMethod:
		return kindNotification
	default:
		return kindInvalid
	}
}

// =============================================================================
// CONNECTION
// =============================================================================

// NotificationHandler receives server notifications in arrival order.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// conn correlates requests with responses over a Transport.
//
// Description:
//
//	Owns the pending-request map and the single read loop. Each call
//	registers a single-resolution slot under a fresh id; the read loop
//	resolves the slot when the matching response arrives. A call whose
//	deadline passes removes its slot, so a late response is dropped
//	without touching any other call. When the read loop ends, every
//	pending and future call fails with the recorded cause.
//
// Thread Safety:
//
//	Safe for concurrent use. run must be called exactly once.
type conn struct {
	transport Transport
	logger    *slog.Logger
	verbose   bool
	onNotify  NotificationHandler

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *inboundMessage
	fatal   error
	done    chan struct{}
}

func newConn(t Transport, logger *slog.Logger, verbose bool, onNotify NotificationHandler) *conn {
	return &conn{
		transport: t,
		logger:    logger,
		verbose:   verbose,
		onNotify:  onNotify,
		pending:   make(map[int64]chan *inboundMessage),
		done:      make(chan struct{}),
	}
}

// run reads from the transport until it fails, dispatching every message.
func (c *conn) run(ctx context.Context) {
	for {
		data, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrTransportClosed) {
				c.logger.Error("LSP read loop stopped", slog.String("error", err.Error()))
			}
			c.fail(err)
			return
		}
		c.dispatch(ctx, data)
	}
}

func (c *conn) dispatch(ctx context.Context, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Discarding unparsable LSP message",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)
		return
	}
	if c.verbose {
		c.logger.Debug("LSP message received", slog.String("body", string(data)))
	}

	switch msg.kind() {
	case kindResponse:
		c.resolve(&msg)
	case kindNotification:
		recordInbound(ctx, msg.Method, false)
		if c.onNotify != nil {
			c.onNotify(ctx, msg.Method, msg.Params)
		}
	case kindServerRequest:
		recordInbound(ctx, msg.Method, true)
		go c.answer(ctx, *msg.ID, msg.Method, msg.Params)
	default:
		c.logger.Warn("Ignoring LSP message with neither id nor method",
			slog.String("body", truncate(string(data), 256)),
		)
	}
}

func (c *conn) resolve(msg *inboundMessage) {
	id, err := strconv.ParseInt(string(*msg.ID), 10, 64)
	if err != nil {
		c.logger.Debug("Dropping response with non-numeric id", slog.String("id", string(*msg.ID)))
		return
	}

	c.mu.Lock()
	slot, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Dropping response for unknown or abandoned request", slog.Int64("id", id))
		return
	}
	slot <- msg
}

// answer replies to a server-initiated request.
func (c *conn) answer(ctx context.Context, id json.RawMessage, method string, params json.RawMessage) {
	var reply any
	result, rpcErr := serverRequestReply(method, params)
	if rpcErr != nil {
		c.logger.Debug("Rejecting LSP server request", slog.String("method", method))
		reply = ErrorResponse{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
	} else {
		c.logger.Debug("Answering LSP server request", slog.String("method", method))
		reply = Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		c.logger.Warn("Marshal reply failed", slog.String("method", method), slog.String("error", err.Error()))
		return
	}
	if err := c.transport.Send(ctx, data); err != nil {
		c.logger.Debug("Reply to LSP server request failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
	}
}

// call sends a request and waits for its response.
//
// Description:
//
//	The timeout covers the whole call. Expiry returns an error matching
//	ErrRequestTimeout; cancellation of ctx returns ctx.Err(). Either way
//	the slot is removed and the connection stays usable.
//
// Outputs:
//
//	json.RawMessage - The raw result member (nil when absent)
//	error - *LSPError for downstream errors, or a local failure
func (c *conn) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if err := c.err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	slot := make(chan *inboundMessage, 1)
	c.mu.Lock()
	if c.fatal != nil {
		c.mu.Unlock()
		return nil, c.fatal
	}
	c.pending[id] = slot
	c.mu.Unlock()
	defer c.forget(id)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.verbose {
		c.logger.Debug("LSP request", slog.Int64("id", id), slog.String("body", string(data)))
	}
	start := time.Now()

	if err := c.transport.Send(callCtx, data); err != nil {
		if timedOut(ctx, callCtx) {
			recordRequestTimeout(ctx, method)
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)
		}
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case msg := <-slot:
		return c.result(method, id, msg, start)
	case <-callCtx.Done():
		if timedOut(ctx, callCtx) {
			recordRequestTimeout(ctx, method)
			c.logger.Warn("LSP request timed out",
				slog.String("method", method),
				slog.Int64("id", id),
				slog.Duration("timeout", timeout),
			)
			return nil, fmt.Errorf("%w: %s after %s", ErrRequestTimeout, method, timeout)
		}
		return nil, ctx.Err()
	case <-c.done:
		select {
		case msg := <-slot:
			return c.result(method, id, msg, start)
		default:
		}
		return nil, c.err()
	}
}

func (c *conn) result(method string, id int64, msg *inboundMessage, start time.Time) (json.RawMessage, error) {
	if c.verbose {
		c.logger.Debug("LSP response",
			slog.String("method", method),
			slog.Int64("id", id),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("result", truncate(string(msg.Result), 4096)),
		)
	}
	if msg.Error != nil {
		return nil, &LSPError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
	}
	return msg.Result, nil
}

// notify sends a notification.
func (c *conn) notify(ctx context.Context, method string, params any) error {
	if err := c.err(); err != nil {
		return err
	}
	data, err := json.Marshal(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if c.verbose {
		c.logger.Debug("LSP notification", slog.String("body", string(data)))
	}
	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

func (c *conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// fail records the first fatal error and releases every waiter.
func (c *conn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		return
	}
	if err == nil {
		err = ErrTransportClosed
	}
	c.fatal = err
	close(c.done)
}

func (c *conn) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// pendingCount reports the number of calls awaiting a response.
func (c *conn) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func timedOut(parent, call context.Context) bool {
	return parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// SERVER-INITIATED REQUESTS
// =============================================================================

// serverRequestReply computes the answer to a request sent by the server.
//
// Configuration requests get one null per item, registrations and
// progress tokens are acknowledged, edits are declined, and anything
// else is rejected with MethodNotFound.
func serverRequestReply(method string, params json.RawMessage) (any, *ResponseError) {
	switch method {
	case "workspace/configuration":
		var p ConfigurationParams
		_ = json.Unmarshal(params, &p)
		return make([]any, len(p.Items)), nil
	case "client/registerCapability",
		"client/unregisterCapability",
		"window/workDoneProgress/create",
		"window/showMessageRequest":
		return nil, nil
	case "workspace/applyEdit":
		return ApplyWorkspaceEditResult{Applied: false, FailureReason: "client does not apply edits"}, nil
	default:
		return nil, &ResponseError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}
