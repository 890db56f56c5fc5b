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
	"path/filepath"
	"time"
)

// =============================================================================
// EXECUTION HELPERS
// =============================================================================

// resultDecoder consumes a raw result and reports how many items it held
// (-1 for single-valued results).
type resultDecoder func(raw json.RawMessage) (int, error)

// execute runs one operation: readiness, document sync, request, decode.
func (c *Client) execute(ctx context.Context, op, method, path string, params any, decode resultDecoder) (err error) {
	start := time.Now()
	ctx, span := startOperationSpan(ctx, op, path)
	count := 0
	defer func() {
		endOperationSpan(span, count, err)
		recordOperationMetrics(ctx, op, time.Since(start), count, err == nil)
	}()

	cn, err := c.ensureReady(ctx)
	if err != nil {
		return err
	}
	if path != "" {
		if err = c.documents().ensureOpen(ctx, cn, path); err != nil {
			return err
		}
	}

	raw, err := cn.call(ctx, method, params, c.cfg.Timeout)
	if err != nil {
		return err
	}
	count, err = decode(raw)
	return err
}

func (c *Client) list(ctx context.Context, op, method, path string, params any) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := c.execute(ctx, op, method, path, params, func(raw json.RawMessage) (int, error) {
		var err error
		items, err = NormalizeList(raw)
		return len(items), err
	})
	return items, err
}

func (c *Client) single(ctx context.Context, op, method, path string, params any) (json.RawMessage, error) {
	var result json.RawMessage
	err := c.execute(ctx, op, method, path, params, func(raw json.RawMessage) (int, error) {
		result = NormalizeSingle(raw)
		return -1, nil
	})
	return result, err
}

// resolvePath makes path absolute against the workspace root.
func (c *Client) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	root := c.Workspace()
	if root == "" {
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
		return path
	}
	return filepath.Join(root, path)
}

func (c *Client) positionParams(path string, line, character int) (string, TextDocumentPositionParams) {
	abs := c.resolvePath(path)
	return abs, TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Position:     Position{Line: line, Character: character},
	}
}

func (c *Client) documentParams(path string) (string, TextDocumentParams) {
	abs := c.resolvePath(path)
	return abs, TextDocumentParams{TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)}}
}

// =============================================================================
// NAVIGATION
// =============================================================================

// Definition returns the definition locations of the symbol at a position.
//
// Inputs:
//
//	ctx - Context for cancellation
//	path - File path, absolute or relative to the workspace
//	line, character - 0-based position
//
// Outputs:
//
//	[]json.RawMessage - Location or LocationLink objects; empty when none
//	error - Readiness, transport, timeout, or *LSPError failures
func (c *Client) Definition(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.list(ctx, "Definition", "textDocument/definition", abs, params)
}

// Declaration returns the declaration locations of the symbol at a position.
func (c *Client) Declaration(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.list(ctx, "Declaration", "textDocument/declaration", abs, params)
}

// Implementation returns implementations of the interface or method at a position.
func (c *Client) Implementation(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.list(ctx, "Implementation", "textDocument/implementation", abs, params)
}

// TypeDefinition returns the definition of the type of the symbol at a position.
func (c *Client) TypeDefinition(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.list(ctx, "TypeDefinition", "textDocument/typeDefinition", abs, params)
}

// References returns every reference to the symbol at a position,
// including its declaration.
func (c *Client) References(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, pos := c.positionParams(path, line, character)
	params := ReferenceParams{
		TextDocumentPositionParams: pos,
		Context:                    ReferenceContext{IncludeDeclaration: true},
	}
	return c.list(ctx, "References", "textDocument/references", abs, params)
}

// DocumentSymbols returns the symbols defined in a document.
func (c *Client) DocumentSymbols(ctx context.Context, path string) ([]json.RawMessage, error) {
	abs, params := c.documentParams(path)
	return c.list(ctx, "DocumentSymbols", "textDocument/documentSymbol", abs, params)
}

// WorkspaceSymbols searches symbols across the workspace.
func (c *Client) WorkspaceSymbols(ctx context.Context, query string) ([]json.RawMessage, error) {
	return c.list(ctx, "WorkspaceSymbols", "workspace/symbol", "", WorkspaceSymbolParams{Query: query})
}

// DocumentHighlight returns the ranges in a document related to the symbol at a position.
func (c *Client) DocumentHighlight(ctx context.Context, path string, line, character int) ([]json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.list(ctx, "DocumentHighlight", "textDocument/documentHighlight", abs, params)
}

// =============================================================================
// INFORMATION
// =============================================================================

// Hover returns hover information at a position, or null.
func (c *Client) Hover(ctx context.Context, path string, line, character int) (json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.single(ctx, "Hover", "textDocument/hover", abs, params)
}

// Completion returns completion items at a position.
//
// Description:
//
//	An empty trigger requests explicit completion; otherwise the
//	request is marked as triggered by that character. Both a bare item
//	list and a CompletionList object normalize to the item list.
func (c *Client) Completion(ctx context.Context, path string, line, character int, trigger string) ([]json.RawMessage, error) {
	abs, pos := c.positionParams(path, line, character)
	params := CompletionParams{
		TextDocumentPositionParams: pos,
		Context:                    CompletionContext{TriggerKind: CompletionTriggerInvoked},
	}
	if trigger != "" {
		params.Context = CompletionContext{TriggerKind: CompletionTriggerCharacter, TriggerCharacter: trigger}
	}

	var items []json.RawMessage
	err := c.execute(ctx, "Completion", "textDocument/completion", abs, params, func(raw json.RawMessage) (int, error) {
		var err error
		items, err = NormalizeCompletion(raw)
		return len(items), err
	})
	return items, err
}

// SignatureHelp returns signature information at a position, or null.
func (c *Client) SignatureHelp(ctx context.Context, path string, line, character int) (json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.single(ctx, "SignatureHelp", "textDocument/signatureHelp", abs, params)
}

// =============================================================================
// REFACTORING & FORMATTING
// =============================================================================

// Rename computes the workspace edit that renames the symbol at a position.
//
// The edit is returned, not applied.
func (c *Client) Rename(ctx context.Context, path string, line, character int, newName string) (json.RawMessage, error) {
	abs, pos := c.positionParams(path, line, character)
	params := RenameParams{TextDocumentPositionParams: pos, NewName: newName}
	return c.single(ctx, "Rename", "textDocument/rename", abs, params)
}

// PrepareRename checks whether the symbol at a position can be renamed.
func (c *Client) PrepareRename(ctx context.Context, path string, line, character int) (json.RawMessage, error) {
	abs, params := c.positionParams(path, line, character)
	return c.single(ctx, "PrepareRename", "textDocument/prepareRename", abs, params)
}

// CodeActions returns the actions available for a range and its diagnostics.
func (c *Client) CodeActions(ctx context.Context, path string, rng Range, diagnostics []json.RawMessage) ([]json.RawMessage, error) {
	if diagnostics == nil {
		diagnostics = []json.RawMessage{}
	}
	abs := c.resolvePath(path)
	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: diagnostics},
	}
	return c.list(ctx, "CodeActions", "textDocument/codeAction", abs, params)
}

// FormatDocument returns the text edits that format a whole document.
func (c *Client) FormatDocument(ctx context.Context, path string, opts FormattingOptions) ([]json.RawMessage, error) {
	abs := c.resolvePath(path)
	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Options:      opts,
	}
	return c.list(ctx, "FormatDocument", "textDocument/formatting", abs, params)
}

// FormatRange returns the text edits that format part of a document.
func (c *Client) FormatRange(ctx context.Context, path string, rng Range, opts FormattingOptions) ([]json.RawMessage, error) {
	abs := c.resolvePath(path)
	params := DocumentRangeFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Range:        rng,
		Options:      opts,
	}
	return c.list(ctx, "FormatRange", "textDocument/rangeFormatting", abs, params)
}

// =============================================================================
// ADVANCED
// =============================================================================

// SemanticTokens returns the full-document semantic tokens, or null.
func (c *Client) SemanticTokens(ctx context.Context, path string) (json.RawMessage, error) {
	abs, params := c.documentParams(path)
	return c.single(ctx, "SemanticTokens", "textDocument/semanticTokens/full", abs, params)
}

// InlayHints returns the inlay hints inside a range.
func (c *Client) InlayHints(ctx context.Context, path string, rng Range) ([]json.RawMessage, error) {
	abs := c.resolvePath(path)
	params := InlayHintParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Range:        rng,
	}
	return c.list(ctx, "InlayHints", "textDocument/inlayHint", abs, params)
}

// CodeLens returns the code lenses of a document.
func (c *Client) CodeLens(ctx context.Context, path string) ([]json.RawMessage, error) {
	abs, params := c.documentParams(path)
	return c.list(ctx, "CodeLens", "textDocument/codeLens", abs, params)
}

// FoldingRange returns the folding ranges of a document.
func (c *Client) FoldingRange(ctx context.Context, path string) ([]json.RawMessage, error) {
	abs, params := c.documentParams(path)
	return c.list(ctx, "FoldingRange", "textDocument/foldingRange", abs, params)
}

// SelectionRange returns one selection range chain per position.
func (c *Client) SelectionRange(ctx context.Context, path string, positions []Position) ([]json.RawMessage, error) {
	if positions == nil {
		positions = []Position{}
	}
	abs := c.resolvePath(path)
	params := SelectionRangeParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(abs)},
		Positions:    positions,
	}
	return c.list(ctx, "SelectionRange", "textDocument/selectionRange", abs, params)
}

// DocumentLink returns the links found in a document.
func (c *Client) DocumentLink(ctx context.Context, path string) ([]json.RawMessage, error) {
	abs, params := c.documentParams(path)
	return c.list(ctx, "DocumentLink", "textDocument/documentLink", abs, params)
}

// ExecuteCommand runs a server command with passthrough arguments.
func (c *Client) ExecuteCommand(ctx context.Context, command string, args []json.RawMessage) (json.RawMessage, error) {
	if args == nil {
		args = []json.RawMessage{}
	}
	params := ExecuteCommandParams{Command: command, Arguments: args}
	return c.single(ctx, "ExecuteCommand", "workspace/executeCommand", "", params)
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

// OpenDocument announces a document to the server, or re-synchronizes it
// when its content changed since the last announcement.
func (c *Client) OpenDocument(ctx context.Context, path string) error {
	cn, err := c.ensureReady(ctx)
	if err != nil {
		return err
	}
	return c.documents().ensureOpen(ctx, cn, c.resolvePath(path))
}

// CloseDocument sends didClose for a previously opened document.
func (c *Client) CloseDocument(ctx context.Context, path string) error {
	cn, err := c.ensureReady(ctx)
	if err != nil {
		return err
	}
	return c.documents().close(ctx, cn, c.resolvePath(path))
}

// DocumentVersion returns the last version announced for path, or 0.
func (c *Client) DocumentVersion(path string) int {
	docs := c.documents()
	if docs == nil {
		return 0
	}
	return docs.version(c.resolvePath(path))
}

func (c *Client) documents() *documentStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs
}
