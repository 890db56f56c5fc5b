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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// EndpointContentType is sent with every POST to an HTTP language server.
const EndpointContentType = "application/vscode-jsonrpc; charset=utf-8"

// probeMessage checks that an endpoint accepts JSON-RPC before the handshake.
var probeMessage = []byte(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{}}`)

// EndpointTransport reaches a language server through HTTP POSTs.
//
// Description:
//
//	Every Send is one POST whose response body carries the server's
//	replies. Bodies are queued for Receive; an empty body (typical for
//	notifications) queues nothing, and a body that is itself framed
//	with Content-Length headers is split into its messages.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent sends may complete out of
//	order; the client correlates replies by id.
type EndpointTransport struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	queue    *messageQueue
	maxFrame int
}

// NewEndpointTransport probes endpoint and returns a ready transport.
//
// Outputs:
//
//	*EndpointTransport - The transport
//	error - ErrEndpointUnreachable when the probe fails or returns non-2xx
func NewEndpointTransport(ctx context.Context, endpoint string, opts TransportOptions) (*EndpointTransport, error) {
	opts = opts.withDefaults()
	t := &EndpointTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: opts.HTTPTimeout},
		logger:   opts.Logger,
		queue:    newMessageQueue(),
		maxFrame: opts.MaxFrameSize,
	}

	if _, err := t.post(ctx, probeMessage); err != nil {
		t.logger.Warn("LSP endpoint probe failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}

	t.logger.Info("Connected to LSP endpoint", slog.String("endpoint", endpoint))
	return t, nil
}

// Send POSTs msg and queues whatever the server answers.
func (t *EndpointTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.queue.done():
		return t.queue.err()
	default:
	}

	body, err := t.post(ctx, msg)
	if err != nil {
		return err
	}
	for _, reply := range t.splitBody(body) {
		t.queue.push(reply)
	}
	return nil
}

// Receive returns the next queued reply.
func (t *EndpointTransport) Receive(ctx context.Context) ([]byte, error) {
	return t.queue.receive(ctx)
}

// Close fails pending receivers and drops idle connections.
func (t *EndpointTransport) Close() error {
	t.queue.closeWithError(ErrTransportClosed)
	t.client.CloseIdleConnections()
	return nil
}

func (t *EndpointTransport) post(ctx context.Context, msg []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(msg))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", EndpointContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxFrame)+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > t.maxFrame {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrResponseTooLarge, t.maxFrame)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (t *EndpointTransport) splitBody(body []byte) [][]byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if !hasFrameHeader(trimmed) {
		return [][]byte{trimmed}
	}

	frames := NewFrameBuffer(t.maxFrame)
	frames.OnMalformed = func(err error) {
		t.logger.Warn("Discarding malformed LSP frame", slog.String("error", err.Error()))
	}
	frames.Append(bytes.TrimLeft(body, " \t\r\n"))
	return frames.Drain()
}

func hasFrameHeader(body []byte) bool {
	const prefix = "content-length:"
	if len(body) < len(prefix) {
		return false
	}
	return strings.EqualFold(string(body[:len(prefix)]), prefix)
}
