// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/AleutianAI/lspbridge/services/bridge/lsp"
)

// call records one client invocation.
type call struct {
	Method    string
	Path      string
	Line      int
	Character int
	Extra     any
}

// fakeClient records calls and answers with canned results.
type fakeClient struct {
	mu     sync.Mutex
	calls  []call
	list   []json.RawMessage
	single json.RawMessage
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		list:   []json.RawMessage{json.RawMessage(`{"uri":"file:///x.go"}`)},
		single: json.RawMessage(`{"contents":"doc"}`),
	}
}

func (f *fakeClient) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeClient) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeClient) listAt(method, path string, line, character int, extra any) ([]json.RawMessage, error) {
	f.record(call{Method: method, Path: path, Line: line, Character: character, Extra: extra})
	return f.list, f.err
}

func (f *fakeClient) singleAt(method, path string, line, character int, extra any) (json.RawMessage, error) {
	f.record(call{Method: method, Path: path, Line: line, Character: character, Extra: extra})
	return f.single, f.err
}

func (f *fakeClient) Definition(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("Definition", path, line, character, nil)
}

func (f *fakeClient) Declaration(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("Declaration", path, line, character, nil)
}

func (f *fakeClient) Implementation(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("Implementation", path, line, character, nil)
}

func (f *fakeClient) TypeDefinition(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("TypeDefinition", path, line, character, nil)
}

func (f *fakeClient) References(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("References", path, line, character, nil)
}

func (f *fakeClient) DocumentSymbols(_ context.Context, path string) ([]json.RawMessage, error) {
	return f.listAt("DocumentSymbols", path, 0, 0, nil)
}

func (f *fakeClient) WorkspaceSymbols(_ context.Context, query string) ([]json.RawMessage, error) {
	return f.listAt("WorkspaceSymbols", "", 0, 0, query)
}

func (f *fakeClient) DocumentHighlight(_ context.Context, path string, line, character int) ([]json.RawMessage, error) {
	return f.listAt("DocumentHighlight", path, line, character, nil)
}

func (f *fakeClient) Hover(_ context.Context, path string, line, character int) (json.RawMessage, error) {
	return f.singleAt("Hover", path, line, character, nil)
}

func (f *fakeClient) Completion(_ context.Context, path string, line, character int, trigger string) ([]json.RawMessage, error) {
	return f.listAt("Completion", path, line, character, trigger)
}

func (f *fakeClient) SignatureHelp(_ context.Context, path string, line, character int) (json.RawMessage, error) {
	return f.singleAt("SignatureHelp", path, line, character, nil)
}

func (f *fakeClient) Rename(_ context.Context, path string, line, character int, newName string) (json.RawMessage, error) {
	return f.singleAt("Rename", path, line, character, newName)
}

func (f *fakeClient) CodeActions(_ context.Context, path string, rng lsp.Range, diagnostics []json.RawMessage) ([]json.RawMessage, error) {
	return f.listAt("CodeActions", path, 0, 0, []any{rng, diagnostics})
}

func (f *fakeClient) FormatDocument(_ context.Context, path string, opts lsp.FormattingOptions) ([]json.RawMessage, error) {
	return f.listAt("FormatDocument", path, 0, 0, opts)
}

func (f *fakeClient) FormatRange(_ context.Context, path string, rng lsp.Range, opts lsp.FormattingOptions) ([]json.RawMessage, error) {
	return f.listAt("FormatRange", path, 0, 0, []any{rng, opts})
}

func (f *fakeClient) SemanticTokens(_ context.Context, path string) (json.RawMessage, error) {
	return f.singleAt("SemanticTokens", path, 0, 0, nil)
}

func (f *fakeClient) InlayHints(_ context.Context, path string, rng lsp.Range) ([]json.RawMessage, error) {
	return f.listAt("InlayHints", path, 0, 0, rng)
}

func (f *fakeClient) CodeLens(_ context.Context, path string) ([]json.RawMessage, error) {
	return f.listAt("CodeLens", path, 0, 0, nil)
}

func (f *fakeClient) FoldingRange(_ context.Context, path string) ([]json.RawMessage, error) {
	return f.listAt("FoldingRange", path, 0, 0, nil)
}

func (f *fakeClient) SelectionRange(_ context.Context, path string, positions []lsp.Position) ([]json.RawMessage, error) {
	return f.listAt("SelectionRange", path, 0, 0, positions)
}

func (f *fakeClient) DocumentLink(_ context.Context, path string) ([]json.RawMessage, error) {
	return f.listAt("DocumentLink", path, 0, 0, nil)
}

func (f *fakeClient) ExecuteCommand(_ context.Context, command string, args []json.RawMessage) (json.RawMessage, error) {
	return f.singleAt("ExecuteCommand", "", 0, 0, []any{command, args})
}
