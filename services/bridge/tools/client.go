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

	"github.com/AleutianAI/lspbridge/services/bridge/lsp"
)

// Client is the subset of *lsp.Client the tools call.
type Client interface {
	Definition(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	Declaration(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	Implementation(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	TypeDefinition(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	References(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	DocumentSymbols(ctx context.Context, path string) ([]json.RawMessage, error)
	WorkspaceSymbols(ctx context.Context, query string) ([]json.RawMessage, error)
	DocumentHighlight(ctx context.Context, path string, line, character int) ([]json.RawMessage, error)
	Hover(ctx context.Context, path string, line, character int) (json.RawMessage, error)
	Completion(ctx context.Context, path string, line, character int, trigger string) ([]json.RawMessage, error)
	SignatureHelp(ctx context.Context, path string, line, character int) (json.RawMessage, error)
	Rename(ctx context.Context, path string, line, character int, newName string) (json.RawMessage, error)
	CodeActions(ctx context.Context, path string, rng lsp.Range, diagnostics []json.RawMessage) ([]json.RawMessage, error)
	FormatDocument(ctx context.Context, path string, opts lsp.FormattingOptions) ([]json.RawMessage, error)
	FormatRange(ctx context.Context, path string, rng lsp.Range, opts lsp.FormattingOptions) ([]json.RawMessage, error)
	SemanticTokens(ctx context.Context, path string) (json.RawMessage, error)
	InlayHints(ctx context.Context, path string, rng lsp.Range) ([]json.RawMessage, error)
	CodeLens(ctx context.Context, path string) ([]json.RawMessage, error)
	FoldingRange(ctx context.Context, path string) ([]json.RawMessage, error)
	SelectionRange(ctx context.Context, path string, positions []lsp.Position) ([]json.RawMessage, error)
	DocumentLink(ctx context.Context, path string) ([]json.RawMessage, error)
	ExecuteCommand(ctx context.Context, command string, args []json.RawMessage) (json.RawMessage, error)
}

var _ Client = (*lsp.Client)(nil)
