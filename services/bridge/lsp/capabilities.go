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
	"encoding/json"
	"sort"
)

// =============================================================================
// CLIENT CAPABILITIES
// =============================================================================

// ClientCapabilities advertises what this client understands.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
	Window       WindowClientCapabilities       `json:"window"`
}

// RegistrationCapability is the common {dynamicRegistration} flag object.
type RegistrationCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
}

// TextDocumentClientCapabilities lists the per-document features.
type TextDocumentClientCapabilities struct {
	Synchronization    SynchronizationCapability    `json:"synchronization"`
	Definition         RegistrationCapability       `json:"definition"`
	Declaration        RegistrationCapability       `json:"declaration"`
	References         RegistrationCapability       `json:"references"`
	Implementation     RegistrationCapability       `json:"implementation"`
	TypeDefinition     RegistrationCapability       `json:"typeDefinition"`
	DocumentSymbol     DocumentSymbolCapability     `json:"documentSymbol"`
	DocumentHighlight  RegistrationCapability       `json:"documentHighlight"`
	Hover              HoverCapability              `json:"hover"`
	Completion         CompletionCapability         `json:"completion"`
	SignatureHelp      SignatureHelpCapability      `json:"signatureHelp"`
	Rename             RenameCapability             `json:"rename"`
	CodeAction         RegistrationCapability       `json:"codeAction"`
	Formatting         RegistrationCapability       `json:"formatting"`
	RangeFormatting    RegistrationCapability       `json:"rangeFormatting"`
	SemanticTokens     SemanticTokensCapability     `json:"semanticTokens"`
	InlayHint          RegistrationCapability       `json:"inlayHint"`
	CodeLens           RegistrationCapability       `json:"codeLens"`
	FoldingRange       RegistrationCapability       `json:"foldingRange"`
	SelectionRange     RegistrationCapability       `json:"selectionRange"`
	DocumentLink       RegistrationCapability       `json:"documentLink"`
	PublishDiagnostics PublishDiagnosticsCapability `json:"publishDiagnostics"`
}

// SynchronizationCapability describes document sync support.
type SynchronizationCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	WillSave            bool `json:"willSave"`
	WillSaveWaitUntil   bool `json:"willSaveWaitUntil"`
	DidSave             bool `json:"didSave"`
}

// DocumentSymbolCapability enables hierarchical document symbols.
type DocumentSymbolCapability struct {
	DynamicRegistration               bool `json:"dynamicRegistration"`
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// HoverCapability lists accepted hover content formats.
type HoverCapability struct {
	DynamicRegistration bool     `json:"dynamicRegistration"`
	ContentFormat       []string `json:"contentFormat"`
}

// CompletionCapability describes completion item support.
type CompletionCapability struct {
	DynamicRegistration bool                     `json:"dynamicRegistration"`
	CompletionItem      CompletionItemCapability `json:"completionItem"`
}

// CompletionItemCapability describes completion item rendering.
type CompletionItemCapability struct {
	SnippetSupport          bool     `json:"snippetSupport"`
	CommitCharactersSupport bool     `json:"commitCharactersSupport"`
	DocumentationFormat     []string `json:"documentationFormat"`
}

// SignatureHelpCapability describes signature rendering.
type SignatureHelpCapability struct {
	DynamicRegistration  bool                           `json:"dynamicRegistration"`
	SignatureInformation SignatureInformationCapability `json:"signatureInformation"`
}

// SignatureInformationCapability lists signature documentation formats.
type SignatureInformationCapability struct {
	DocumentationFormat []string `json:"documentationFormat"`
}

// RenameCapability enables prepareRename.
type RenameCapability struct {
	DynamicRegistration bool `json:"dynamicRegistration"`
	PrepareSupport      bool `json:"prepareSupport"`
}

// SemanticTokensCapability advertises full-document semantic tokens.
type SemanticTokensCapability struct {
	DynamicRegistration bool                   `json:"dynamicRegistration"`
	Requests            SemanticTokensRequests `json:"requests"`
	TokenTypes          []string               `json:"tokenTypes"`
	TokenModifiers      []string               `json:"tokenModifiers"`
	Formats             []string               `json:"formats"`
}

// SemanticTokensRequests lists which token requests are supported.
type SemanticTokensRequests struct {
	Full bool `json:"full"`
}

// PublishDiagnosticsCapability describes diagnostics support.
type PublishDiagnosticsCapability struct {
	RelatedInformation bool `json:"relatedInformation"`
}

// WorkspaceClientCapabilities lists workspace-wide features.
type WorkspaceClientCapabilities struct {
	ApplyEdit        bool                   `json:"applyEdit"`
	WorkspaceFolders bool                   `json:"workspaceFolders"`
	Configuration    bool                   `json:"configuration"`
	Symbol           RegistrationCapability `json:"symbol"`
	ExecuteCommand   RegistrationCapability `json:"executeCommand"`
}

// WindowClientCapabilities lists window features.
type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress"`
}

var markupFormats = []string{"markdown", "plaintext"}

// DefaultClientCapabilities returns the capability descriptor sent on initialize.
func DefaultClientCapabilities() ClientCapabilities {
	on := RegistrationCapability{DynamicRegistration: true}
	return ClientCapabilities{
		TextDocument: TextDocumentClientCapabilities{
			Synchronization: SynchronizationCapability{DynamicRegistration: true},
			Definition:      on,
			Declaration:     on,
			References:      on,
			Implementation:  on,
			TypeDefinition:  on,
			DocumentSymbol: DocumentSymbolCapability{
				DynamicRegistration:               true,
				HierarchicalDocumentSymbolSupport: true,
			},
			DocumentHighlight: on,
			Hover:             HoverCapability{DynamicRegistration: true, ContentFormat: markupFormats},
			Completion: CompletionCapability{
				DynamicRegistration: true,
				CompletionItem: CompletionItemCapability{
					SnippetSupport:          true,
					CommitCharactersSupport: true,
					DocumentationFormat:     markupFormats,
				},
			},
			SignatureHelp: SignatureHelpCapability{
				DynamicRegistration:  true,
				SignatureInformation: SignatureInformationCapability{DocumentationFormat: markupFormats},
			},
			Rename:          RenameCapability{DynamicRegistration: true, PrepareSupport: true},
			CodeAction:      on,
			Formatting:      on,
			RangeFormatting: on,
			SemanticTokens: SemanticTokensCapability{
				DynamicRegistration: true,
				Requests:            SemanticTokensRequests{Full: true},
				TokenTypes:          []string{},
				TokenModifiers:      []string{},
				Formats:             []string{"relative"},
			},
			InlayHint:          on,
			CodeLens:           on,
			FoldingRange:       on,
			SelectionRange:     on,
			DocumentLink:       on,
			PublishDiagnostics: PublishDiagnosticsCapability{RelatedInformation: true},
		},
		Workspace: WorkspaceClientCapabilities{
			ApplyEdit:        true,
			WorkspaceFolders: true,
			Configuration:    true,
			Symbol:           on,
			ExecuteCommand:   on,
		},
		Window: WindowClientCapabilities{WorkDoneProgress: true},
	}
}

// =============================================================================
// SERVER CAPABILITIES
// =============================================================================

// ServerCapabilities keeps the capability object returned by initialize.
//
// Providers are kept raw because servers answer with booleans or
// option objects interchangeably. Nothing gates operations on them;
// they are exposed for diagnostics and logging.
type ServerCapabilities struct {
	raw map[string]json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ServerCapabilities) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		c.raw = nil
		return nil
	}
	return json.Unmarshal(data, &c.raw)
}

// MarshalJSON implements json.Marshaler.
func (c ServerCapabilities) MarshalJSON() ([]byte, error) {
	if c.raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.raw)
}

// Supports reports whether a provider key is present and not false or null.
func (c ServerCapabilities) Supports(provider string) bool {
	v, ok := c.raw[provider]
	if !ok {
		return false
	}
	v = bytes.TrimSpace(v)
	return !bytes.Equal(v, []byte("false")) && !bytes.Equal(v, []byte("null"))
}

// Providers returns the sorted keys of every advertised provider.
func (c ServerCapabilities) Providers() []string {
	var out []string
	for k := range c.raw {
		if c.Supports(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// HasDefinitionProvider reports textDocument/definition support.
func (c ServerCapabilities) HasDefinitionProvider() bool { return c.Supports("definitionProvider") }

// HasReferencesProvider reports textDocument/references support.
func (c ServerCapabilities) HasReferencesProvider() bool { return c.Supports("referencesProvider") }

// HasHoverProvider reports textDocument/hover support.
func (c ServerCapabilities) HasHoverProvider() bool { return c.Supports("hoverProvider") }

// HasRenameProvider reports textDocument/rename support.
func (c ServerCapabilities) HasRenameProvider() bool { return c.Supports("renameProvider") }

// HasCompletionProvider reports textDocument/completion support.
func (c ServerCapabilities) HasCompletionProvider() bool { return c.Supports("completionProvider") }
