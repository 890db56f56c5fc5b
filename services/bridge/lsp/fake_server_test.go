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
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeMessage is a decoded client message as seen by the fake server.
type fakeMessage struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// fakeHandler answers a request. Returning reply=false leaves it unanswered.
type fakeHandler func(msg fakeMessage) (result any, rpcErr *ResponseError, reply bool)

// fakeServer is an in-memory Transport that plays a language server.
type fakeServer struct {
	queue *messageQueue

	mu         sync.Mutex
	sent       []fakeMessage
	handlers   map[string]fakeHandler
	closeCount int
}

func newFakeServer() *fakeServer {
	s := &fakeServer{
		queue:    newMessageQueue(),
		handlers: make(map[string]fakeHandler),
	}
	s.handle("initialize", func(fakeMessage) (any, *ResponseError, bool) {
		return map[string]any{
			"capabilities": map[string]any{"definitionProvider": true, "hoverProvider": true},
			"serverInfo":   map[string]any{"name": "fake-lsp", "version": "0.0.1"},
		}, nil, true
	})
	s.handle("shutdown", func(fakeMessage) (any, *ResponseError, bool) {
		return nil, nil, true
	})
	return s
}

func (s *fakeServer) handle(method string, h fakeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// respondWith installs a handler that always answers with result.
func (s *fakeServer) respondWith(method string, result any) {
	s.handle(method, func(fakeMessage) (any, *ResponseError, bool) { return result, nil, true })
}

func (s *fakeServer) Send(ctx context.Context, data []byte) error {
	select {
	case <-s.queue.done():
		return s.queue.err()
	default:
	}

	var msg fakeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	s.mu.Lock()
	s.sent = append(s.sent, msg)
	h, ok := s.handlers[msg.Method]
	s.mu.Unlock()

	if msg.ID == nil || msg.Method == "" {
		return nil
	}
	if !ok {
		s.deliver(map[string]any{
			"jsonrpc": "2.0",
			"id":      *msg.ID,
			"error":   map[string]any{"code": CodeMethodNotFound, "message": "unhandled " + msg.Method},
		})
		return nil
	}
	result, rpcErr, reply := h(msg)
	if !reply {
		return nil
	}
	if rpcErr != nil {
		s.deliver(map[string]any{"jsonrpc": "2.0", "id": *msg.ID, "error": rpcErr})
		return nil
	}
	s.deliver(map[string]any{"jsonrpc": "2.0", "id": *msg.ID, "result": result})
	return nil
}

func (s *fakeServer) Receive(ctx context.Context) ([]byte, error) {
	return s.queue.receive(ctx)
}

func (s *fakeServer) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.queue.closeWithError(ErrTransportClosed)
	return nil
}

// deliver queues a server-to-client message.
func (s *fakeServer) deliver(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.queue.push(data)
}

// crash fails the transport as if the server died.
func (s *fakeServer) crash() {
	s.queue.closeWithError(ErrServerCrashed)
}

func (s *fakeServer) messages() []fakeMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fakeMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeServer) methods() []string {
	var out []string
	for _, m := range s.messages() {
		out = append(out, m.Method)
	}
	return out
}

func (s *fakeServer) count(method string) int {
	n := 0
	for _, m := range s.messages() {
		if m.Method == method {
			n++
		}
	}
	return n
}

// lastParams returns the params of the most recent message with method.
func (s *fakeServer) lastParams(method string) json.RawMessage {
	msgs := s.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Method == method {
			return msgs[i].Params
		}
	}
	return nil
}

func (s *fakeServer) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startFakeClient starts a client wired to server and waits for the handshake.
func startFakeClient(t *testing.T, server *fakeServer, cfg ClientConfig) (*Client, string) {
	t.Helper()
	client, root := startFakeClientAsync(t, server, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.WaitReady(ctx))
	return client, root
}

// startFakeClientAsync starts a client without waiting for the handshake.
func startFakeClientAsync(t *testing.T, server *fakeServer, cfg ClientConfig) (*Client, string) {
	t.Helper()
	cfg.Dial = func(context.Context, string, string, TransportOptions) (Transport, error) {
		return server, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	cfg.DisableWatch = true

	client := NewClient(cfg)
	root := t.TempDir()
	require.NoError(t, client.Start(context.Background(), "fake-lsp", root))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })
	return client, root
}
