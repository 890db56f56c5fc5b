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
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "unstarted", StateUnstarted.String())
	assert.Equal(t, "shutting-down", StateShuttingDown.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}

func TestClient_Handshake(t *testing.T) {
	server := newFakeServer()
	client, root := startFakeClient(t, server, ClientConfig{
		InitializationOptions: map[string]any{"usePlaceholders": true},
	})

	assert.Equal(t, StateReady, client.State())
	assert.True(t, client.IsReady())
	assert.NoError(t, client.Err())
	assert.True(t, client.Capabilities().HasDefinitionProvider())
	assert.False(t, client.Capabilities().HasRenameProvider())
	require.NotNil(t, client.ServerInfo())
	assert.Equal(t, "fake-lsp", client.ServerInfo().Name)

	require.Eventually(t, func() bool { return server.count("initialized") == 1 }, time.Second, 5*time.Millisecond)
	methods := server.methods()
	require.GreaterOrEqual(t, len(methods), 2)
	assert.Equal(t, []string{"initialize", "initialized"}, methods[:2])

	var params InitializeParams
	require.NoError(t, json.Unmarshal(server.lastParams("initialize"), &params))
	assert.Equal(t, os.Getpid(), params.ProcessID)
	assert.Equal(t, PathToURI(root), params.RootURI)
	require.Len(t, params.WorkspaceFolders, 1)
	assert.Equal(t, PathToURI(root), params.WorkspaceFolders[0].URI)
	assert.Equal(t, map[string]any{"usePlaceholders": true}, params.InitializationOptions)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(server.lastParams("initialize"), &raw))
	caps := raw["capabilities"].(map[string]any)
	textDocument := caps["textDocument"].(map[string]any)
	assert.Contains(t, textDocument, "definition")
	assert.Contains(t, textDocument, "semanticTokens")
	assert.Equal(t, true, textDocument["rename"].(map[string]any)["prepareSupport"])
}

func TestClient_NotStarted(t *testing.T) {
	client := NewClient(ClientConfig{Logger: discardLogger()})
	_, err := client.Definition(context.Background(), "/tmp/x.go", 0, 0)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, StateUnstarted, client.State())
}

func TestClient_StartValidation(t *testing.T) {
	t.Run("missing workspace", func(t *testing.T) {
		client := NewClient(ClientConfig{Logger: discardLogger()})
		err := client.Start(context.Background(), "gopls", filepath.Join(t.TempDir(), "missing"))
		assert.ErrorIs(t, err, ErrWorkspaceNotFound)
		assert.Equal(t, StateClosed, client.State())
	})

	t.Run("empty command", func(t *testing.T) {
		client := NewClient(ClientConfig{Logger: discardLogger()})
		err := client.Start(context.Background(), "  ", t.TempDir())
		assert.ErrorIs(t, err, ErrEmptyCommand)
	})

	t.Run("second start", func(t *testing.T) {
		client, _ := startFakeClient(t, newFakeServer(), ClientConfig{})
		err := client.Start(context.Background(), "fake-lsp", t.TempDir())
		assert.ErrorIs(t, err, ErrAlreadyStarted)
	})

	t.Run("dial failure surfaces from start", func(t *testing.T) {
		client := NewClient(ClientConfig{
			Logger: discardLogger(),
			Dial: func(context.Context, string, string, TransportOptions) (Transport, error) {
				return nil, ErrServerNotInstalled
			},
		})
		err := client.Start(context.Background(), "nope", t.TempDir())
		assert.ErrorIs(t, err, ErrServerNotInstalled)
		assert.Equal(t, StateClosed, client.State())
	})
}

func TestClient_HandshakeGating(t *testing.T) {
	server := newFakeServer()
	release := make(chan struct{})
	server.handle("initialize", func(fakeMessage) (any, *ResponseError, bool) {
		<-release
		return map[string]any{"capabilities": map[string]any{}}, nil, true
	})
	server.respondWith("workspace/symbol", []any{map[string]any{"name": "Foo"}})

	client, _ := startFakeClientAsync(t, server, ClientConfig{})
	assert.Equal(t, StateHandshaking, client.State())

	type outcome struct {
		items []json.RawMessage
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		items, err := client.WorkspaceSymbols(context.Background(), "Foo")
		done <- outcome{items, err}
	}()

	select {
	case <-done:
		t.Fatal("operation completed before the handshake")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, server.count("workspace/symbol"), "request must not reach the server before the handshake")

	close(release)
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Len(t, res.items, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("operation not released by handshake completion")
	}

	methods := server.methods()
	idxInitialized, idxSymbol := -1, -1
	for i, m := range methods {
		switch m {
		case "initialized":
			idxInitialized = i
		case "workspace/symbol":
			idxSymbol = i
		}
	}
	assert.Less(t, idxInitialized, idxSymbol)
}

func TestClient_HandshakeFailure(t *testing.T) {
	server := newFakeServer()
	server.handle("initialize", func(fakeMessage) (any, *ResponseError, bool) {
		return nil, &ResponseError{Code: CodeInternalError, Message: "boom"}, true
	})

	client, _ := startFakeClientAsync(t, server, ClientConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.WaitReady(ctx)
	assert.ErrorIs(t, err, ErrInitializeFailed)
	var lspErr *LSPError
	assert.True(t, errors.As(err, &lspErr))
	assert.Equal(t, StateClosed, client.State())

	_, err = client.Hover(ctx, "a.go", 0, 0)
	assert.ErrorIs(t, err, ErrInitializeFailed)
	assert.Equal(t, 1, server.closes())
}

func TestClient_TimeoutIsolation(t *testing.T) {
	server := newFakeServer()
	var (
		mu      sync.Mutex
		hoverID int64
	)
	server.handle("textDocument/hover", func(msg fakeMessage) (any, *ResponseError, bool) {
		mu.Lock()
		defer mu.Unlock()
		if hoverID == 0 {
			hoverID = *msg.ID
			return nil, nil, false
		}
		return map[string]any{"contents": "second"}, nil, true
	})
	server.respondWith("textDocument/definition", []any{
		map[string]any{"uri": "file:///x.go", "range": map[string]any{}},
	})

	client, root := startFakeClient(t, server, ClientConfig{Timeout: 100 * time.Millisecond})
	file := writeFile(t, root, "main.go", "package main\n")

	var wg sync.WaitGroup
	var hoverErr, defErr error
	var hoverElapsed time.Duration
	var defs []json.RawMessage
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		_, hoverErr = client.Hover(context.Background(), file, 0, 0)
		hoverElapsed = time.Since(start)
	}()
	go func() {
		defer wg.Done()
		defs, defErr = client.Definition(context.Background(), file, 0, 0)
	}()
	wg.Wait()

	assert.ErrorIs(t, hoverErr, ErrRequestTimeout)
	assert.GreaterOrEqual(t, hoverElapsed, 100*time.Millisecond)
	assert.Less(t, hoverElapsed, 600*time.Millisecond, "timeout fired late")
	require.NoError(t, defErr)
	assert.Len(t, defs, 1)

	// The late reply for the abandoned request is dropped without side effects.
	mu.Lock()
	late := hoverID
	mu.Unlock()
	server.deliver(map[string]any{"jsonrpc": "2.0", "id": late, "result": map[string]any{"contents": "late"}})

	hover, err := client.Hover(context.Background(), file, 0, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contents":"second"}`, string(hover))
	assert.Equal(t, StateReady, client.State())

	client.mu.Lock()
	cn := client.conn
	client.mu.Unlock()
	assert.Zero(t, cn.pendingCount())
}

func TestClient_CallerCancellation(t *testing.T) {
	server := newFakeServer()
	server.handle("textDocument/hover", func(fakeMessage) (any, *ResponseError, bool) { return nil, nil, false })
	client, root := startFakeClient(t, server, ClientConfig{})
	file := writeFile(t, root, "main.go", "package main\n")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Hover(ctx, file, 0, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrRequestTimeout)
}

func TestClient_ResultNormalization(t *testing.T) {
	server := newFakeServer()
	location := map[string]any{
		"uri":   "file:///x.go",
		"range": map[string]any{"start": map[string]any{"line": 1, "character": 1}, "end": map[string]any{"line": 1, "character": 4}},
	}
	server.respondWith("textDocument/definition", nil)
	server.respondWith("textDocument/declaration", location)
	server.respondWith("textDocument/implementation", []any{location, location})
	server.respondWith("textDocument/references", nil)
	server.respondWith("textDocument/completion", map[string]any{"isIncomplete": false, "items": []any{map[string]any{"label": "a"}}})
	server.respondWith("textDocument/hover", nil)

	client, root := startFakeClient(t, server, ClientConfig{})
	file := writeFile(t, root, "main.go", "package main\n")
	ctx := context.Background()

	defs, err := client.Definition(ctx, file, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, defs)
	assert.Empty(t, defs)

	decls, err := client.Declaration(ctx, file, 0, 0)
	require.NoError(t, err)
	assert.Len(t, decls, 1)

	impls, err := client.Implementation(ctx, file, 0, 0)
	require.NoError(t, err)
	assert.Len(t, impls, 2)
	locs, err := DecodeLocations(impls)
	require.NoError(t, err)
	assert.Equal(t, "file:///x.go", locs[0].URI)

	refs, err := client.References(ctx, file, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, refs)

	items, err := client.Completion(ctx, file, 0, 0, "")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	hover, err := client.Hover(ctx, file, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "null", string(hover))
}

func TestClient_RequestParams(t *testing.T) {
	server := newFakeServer()
	for _, m := range []string{
		"textDocument/references", "textDocument/completion", "textDocument/rename",
		"textDocument/codeAction", "textDocument/formatting", "textDocument/rangeFormatting",
		"textDocument/selectionRange", "workspace/executeCommand", "textDocument/inlayHint",
	} {
		server.respondWith(m, nil)
	}

	client, root := startFakeClient(t, server, ClientConfig{})
	writeFile(t, root, "lib.py", "x = 1\n")
	ctx := context.Background()
	uri := PathToURI(filepath.Join(root, "lib.py"))

	t.Run("relative paths resolve against the workspace", func(t *testing.T) {
		_, err := client.References(ctx, "lib.py", 3, 7)
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"textDocument":{"uri":"`+uri+`"},"position":{"line":3,"character":7},"context":{"includeDeclaration":true}}`,
			string(server.lastParams("textDocument/references")))

		var open DidOpenTextDocumentParams
		require.NoError(t, json.Unmarshal(server.lastParams("textDocument/didOpen"), &open))
		assert.Equal(t, uri, open.TextDocument.URI)
		assert.Equal(t, "python", open.TextDocument.LanguageID)
		assert.Equal(t, 1, open.TextDocument.Version)
		assert.Equal(t, "x = 1\n", open.TextDocument.Text)
	})

	t.Run("completion trigger kinds", func(t *testing.T) {
		_, err := client.Completion(ctx, "lib.py", 0, 1, "")
		require.NoError(t, err)
		assert.JSONEq(t, `{"triggerKind":1}`, string(contextOf(t, server.lastParams("textDocument/completion"))))

		_, err = client.Completion(ctx, "lib.py", 0, 1, ".")
		require.NoError(t, err)
		assert.JSONEq(t, `{"triggerKind":2,"triggerCharacter":"."}`, string(contextOf(t, server.lastParams("textDocument/completion"))))
	})

	t.Run("rename carries new name", func(t *testing.T) {
		edit, err := client.Rename(ctx, "lib.py", 0, 0, "y")
		require.NoError(t, err)
		assert.Equal(t, "null", string(edit))
		assert.Contains(t, string(server.lastParams("textDocument/rename")), `"newName":"y"`)
	})

	t.Run("code action defaults diagnostics to empty list", func(t *testing.T) {
		_, err := client.CodeActions(ctx, "lib.py", Range{End: Position{Line: 1}}, nil)
		require.NoError(t, err)
		assert.Contains(t, string(server.lastParams("textDocument/codeAction")), `"diagnostics":[]`)
	})

	t.Run("formatting options", func(t *testing.T) {
		_, err := client.FormatDocument(ctx, "lib.py", DefaultFormattingOptions())
		require.NoError(t, err)
		assert.Contains(t, string(server.lastParams("textDocument/formatting")), `"options":{"tabSize":4,"insertSpaces":true}`)

		_, err = client.FormatRange(ctx, "lib.py", Range{}, FormattingOptions{TabSize: 8})
		require.NoError(t, err)
		assert.Contains(t, string(server.lastParams("textDocument/rangeFormatting")), `"options":{"tabSize":8,"insertSpaces":false}`)
	})

	t.Run("selection range positions", func(t *testing.T) {
		_, err := client.SelectionRange(ctx, "lib.py", []Position{{Line: 0, Character: 1}, {Line: 0, Character: 3}})
		require.NoError(t, err)
		assert.Contains(t, string(server.lastParams("textDocument/selectionRange")),
			`"positions":[{"line":0,"character":1},{"line":0,"character":3}]`)
	})

	t.Run("inlay hints range", func(t *testing.T) {
		_, err := client.InlayHints(ctx, "lib.py", Range{Start: Position{Line: 0}, End: Position{Line: 5, Character: 2}})
		require.NoError(t, err)
		assert.Contains(t, string(server.lastParams("textDocument/inlayHint")),
			`"range":{"start":{"line":0,"character":0},"end":{"line":5,"character":2}}`)
	})

	t.Run("execute command passthrough", func(t *testing.T) {
		_, err := client.ExecuteCommand(ctx, "gopls.tidy", []json.RawMessage{json.RawMessage(`{"URIs":["file:///go.mod"]}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"command":"gopls.tidy","arguments":[{"URIs":["file:///go.mod"]}]}`,
			string(server.lastParams("workspace/executeCommand")))
	})
}

func contextOf(t *testing.T, params json.RawMessage) json.RawMessage {
	t.Helper()
	var p struct {
		Context json.RawMessage `json:"context"`
	}
	require.NoError(t, json.Unmarshal(params, &p))
	return p.Context
}

func TestClient_DownstreamError(t *testing.T) {
	server := newFakeServer()
	client, _ := startFakeClient(t, server, ClientConfig{})

	_, err := client.WorkspaceSymbols(context.Background(), "x")
	require.Error(t, err)
	var lspErr *LSPError
	require.True(t, errors.As(err, &lspErr))
	assert.True(t, lspErr.IsMethodNotFound())
	assert.True(t, IsMethodNotFound(err))
	assert.Equal(t, StateReady, client.State())
}

func TestClient_TransportFailure(t *testing.T) {
	server := newFakeServer()
	server.handle("workspace/symbol", func(fakeMessage) (any, *ResponseError, bool) { return nil, nil, false })
	client, _ := startFakeClient(t, server, ClientConfig{Timeout: 10 * time.Second})

	errCh := make(chan error, 1)
	go func() {
		_, err := client.WorkspaceSymbols(context.Background(), "x")
		errCh <- err
	}()
	require.Eventually(t, func() bool { return server.count("workspace/symbol") == 1 }, time.Second, 5*time.Millisecond)

	server.crash()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrServerCrashed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not failed by transport loss")
	}

	start := time.Now()
	_, err := client.WorkspaceSymbols(context.Background(), "y")
	assert.ErrorIs(t, err, ErrServerCrashed)
	assert.Less(t, time.Since(start), time.Second)
	require.Eventually(t, func() bool { return client.State() == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestClient_StopIdempotent(t *testing.T) {
	server := newFakeServer()
	client, _ := startFakeClient(t, server, ClientConfig{})
	ctx := context.Background()

	require.NoError(t, client.Stop(ctx))
	require.NoError(t, client.Stop(ctx))

	assert.Equal(t, 1, server.count("shutdown"))
	assert.Equal(t, 1, server.count("exit"))
	assert.Equal(t, 1, server.closes())
	assert.Equal(t, StateClosed, client.State())

	methods := server.methods()
	assert.Equal(t, "exit", methods[len(methods)-1])

	_, err := client.Hover(ctx, "a.go", 0, 0)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_StopBeforeReady(t *testing.T) {
	server := newFakeServer()
	server.handle("initialize", func(fakeMessage) (any, *ResponseError, bool) { return nil, nil, false })
	client, _ := startFakeClientAsync(t, server, ClientConfig{})

	require.NoError(t, client.Stop(context.Background()))
	assert.Zero(t, server.count("shutdown"), "shutdown must not be sent when never ready")
	assert.Zero(t, server.count("exit"))
	assert.GreaterOrEqual(t, server.closes(), 1)

	select {
	case <-client.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not released by stop")
	}
}

func TestClient_StopUnstarted(t *testing.T) {
	client := NewClient(ClientConfig{Logger: discardLogger()})
	require.NoError(t, client.Stop(context.Background()))
	require.NoError(t, client.Stop(context.Background()))
}

func TestClient_StopDuringDial(t *testing.T) {
	server := newFakeServer()
	dialing := make(chan struct{})
	release := make(chan struct{})
	client := NewClient(ClientConfig{
		Logger:       discardLogger(),
		DisableWatch: true,
		Dial: func(context.Context, string, string, TransportOptions) (Transport, error) {
			close(dialing)
			<-release
			return server, nil
		},
	})

	started := make(chan error, 1)
	go func() { started <- client.Start(context.Background(), "slow-lsp", t.TempDir()) }()

	<-dialing
	require.NoError(t, client.Stop(context.Background()))
	close(release)

	select {
	case err := <-started:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}
	assert.Equal(t, 1, server.closes(), "transport opened after stop must be closed")
	assert.Empty(t, server.methods(), "no handshake after stop")
	assert.Equal(t, StateClosed, client.State())

	select {
	case <-client.Ready():
	default:
		t.Fatal("ready not released")
	}
}

func TestClient_ServerRequests(t *testing.T) {
	server := newFakeServer()
	startFakeClient(t, server, ClientConfig{})

	replyFor := func(id int64) *fakeMessage {
		for _, m := range server.messages() {
			if m.Method == "" && m.ID != nil && *m.ID == id {
				msg := m
				return &msg
			}
		}
		return nil
	}

	server.deliver(map[string]any{"jsonrpc": "2.0", "id": 900, "method": "workspace/configuration",
		"params": map[string]any{"items": []any{map[string]any{"section": "gopls"}, map[string]any{}}}})
	server.deliver(map[string]any{"jsonrpc": "2.0", "id": 901, "method": "client/registerCapability", "params": map[string]any{}})
	server.deliver(map[string]any{"jsonrpc": "2.0", "id": 902, "method": "workspace/applyEdit", "params": map[string]any{}})
	server.deliver(map[string]any{"jsonrpc": "2.0", "id": 903, "method": "custom/unknown"})

	require.Eventually(t, func() bool {
		return replyFor(900) != nil && replyFor(901) != nil && replyFor(902) != nil && replyFor(903) != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.JSONEq(t, `[null,null]`, string(replyFor(900).Result))
	assert.JSONEq(t, `null`, string(replyFor(901).Result))
	assert.Contains(t, string(replyFor(902).Result), `"applied":false`)
	require.NotNil(t, replyFor(903).Error)
	assert.Equal(t, CodeMethodNotFound, replyFor(903).Error.Code)
}

func TestClient_ServerNotifications(t *testing.T) {
	var buf bytes.Buffer
	var bufMu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &buf, mu: &bufMu}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	server := newFakeServer()
	server.respondWith("workspace/symbol", []any{})
	client, _ := startFakeClient(t, server, ClientConfig{Logger: logger})

	server.deliver(map[string]any{"jsonrpc": "2.0", "method": "window/logMessage", "params": map[string]any{"type": 1, "message": "index failed"}})
	server.deliver(map[string]any{"jsonrpc": "2.0", "method": "window/showMessage", "params": map[string]any{"type": 3, "message": "hello"}})
	server.deliver(map[string]any{"jsonrpc": "2.0", "method": "$/progress", "params": map[string]any{}})
	server.deliver(map[string]any{"jsonrpc": "2.0"})
	server.queue.push([]byte("not json"))

	// Messages are processed in order, so a round trip proves they were handled.
	_, err := client.WorkspaceSymbols(context.Background(), "")
	require.NoError(t, err)

	bufMu.Lock()
	out := buf.String()
	bufMu.Unlock()
	assert.Contains(t, out, `level=ERROR msg="LSP server log" message="index failed"`)
	assert.Contains(t, out, `level=INFO msg="LSP server message" message=hello`)
	assert.Contains(t, out, `method=$/progress`)
	assert.Contains(t, out, "neither id nor method")
	assert.Contains(t, out, "unparsable")
	assert.Equal(t, StateReady, client.State())
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, logLevel(MessageTypeError))
	assert.Equal(t, slog.LevelWarn, logLevel(MessageTypeWarning))
	assert.Equal(t, slog.LevelInfo, logLevel(MessageTypeInfo))
	assert.Equal(t, slog.LevelDebug, logLevel(MessageTypeLog))
	assert.Equal(t, slog.LevelDebug, logLevel(MessageType(9)))
}
