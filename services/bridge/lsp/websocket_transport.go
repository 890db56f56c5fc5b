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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport exchanges one JSON-RPC message per WebSocket text frame.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes are serialized; a single goroutine reads.
type WebSocketTransport struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	writeMu   sync.Mutex
	queue     *messageQueue
	closeOnce sync.Once
}

// NewWebSocketTransport dials url and starts the read goroutine.
//
// Outputs:
//
//	*WebSocketTransport - The connected transport
//	error - ErrEndpointUnreachable when the dial fails
func NewWebSocketTransport(ctx context.Context, url string, opts TransportOptions) (*WebSocketTransport, error) {
	opts = opts.withDefaults()
	dialer := websocket.Dialer{HandshakeTimeout: opts.HTTPTimeout}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEndpointUnreachable, err)
	}
	conn.SetReadLimit(int64(opts.MaxFrameSize))

	t := &WebSocketTransport{
		conn:   conn,
		logger: opts.Logger,
		queue:  newMessageQueue(),
	}
	t.logger.Info("Connected to LSP websocket", slog.String("url", url))

	go t.readLoop()
	return t, nil
}

// Send writes msg as a single text message.
func (t *WebSocketTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.queue.done():
		return t.queue.err()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer func() { _ = t.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive returns the next message from the server.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	return t.queue.receive(ctx)
}

// Close sends a close frame and tears down the connection.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.queue.closeWithError(ErrTransportClosed)
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		_ = t.conn.Close()
	})
	return nil
}

func (t *WebSocketTransport) readLoop() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				t.queue.closeWithError(ErrServerCrashed)
				return
			}
			t.queue.closeWithError(fmt.Errorf("%w: %v", ErrServerCrashed, err))
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		t.queue.push(data)
	}
}
