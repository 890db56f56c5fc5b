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
)

// handlerFunc extracts arguments, calls the client, and returns a value
// ready for JSON encoding.
type handlerFunc func(ctx context.Context, c Client, args map[string]any) (any, error)

// tool pairs a definition with its handler.
type tool struct {
	def ToolDefinition
	run handlerFunc
}

// =============================================================================
// Parameter Builders
// =============================================================================

var (
	filePathParam = ParamDef{Type: ParamTypeString, Description: "Path to the file", Required: true}
	lineParam     = ParamDef{Type: ParamTypeInt, Description: "Line number (0-based)", Required: true}
	charParam     = ParamDef{Type: ParamTypeInt, Description: "Character position (0-based)", Required: true}
	tabSizeParam  = ParamDef{Type: ParamTypeInt, Description: "Number of spaces for a tab (default 4)"}
	spacesParam   = ParamDef{Type: ParamTypeBool, Description: "Use spaces instead of tabs (default true)"}
)

func fileParams() map[string]ParamDef {
	return map[string]ParamDef{"file_path": filePathParam}
}

func positionParams() map[string]ParamDef {
	return map[string]ParamDef{
		"file_path": filePathParam,
		"line":      lineParam,
		"character": charParam,
	}
}

func rangeParams() map[string]ParamDef {
	return map[string]ParamDef{
		"file_path":       filePathParam,
		"start_line":      {Type: ParamTypeInt, Description: "Start line number (0-based)", Required: true},
		"start_character": {Type: ParamTypeInt, Description: "Start character position (0-based)", Required: true},
		"end_line":        {Type: ParamTypeInt, Description: "End line number (0-based)", Required: true},
		"end_character":   {Type: ParamTypeInt, Description: "End character position (0-based)", Required: true},
	}
}

func with(params map[string]ParamDef, name string, def ParamDef) map[string]ParamDef {
	params[name] = def
	return params
}

// =============================================================================
// Handler Adapters
// =============================================================================

type (
	positionCall func(ctx context.Context, c Client, path string, line, character int) (any, error)
	fileCall     func(ctx context.Context, c Client, path string) (any, error)
)

func atPosition(call positionCall) handlerFunc {
	return func(ctx context.Context, c Client, args map[string]any) (any, error) {
		path, line, character, err := positionArgs(args)
		if err != nil {
			return nil, err
		}
		return call(ctx, c, path, line, character)
	}
}

func inFile(call fileCall) handlerFunc {
	return func(ctx context.Context, c Client, args map[string]any) (any, error) {
		path, err := stringArg(args, "file_path")
		if err != nil {
			return nil, err
		}
		return call(ctx, c, path)
	}
}

// =============================================================================
// Catalog
// =============================================================================

// catalog returns every tool in registration order.
func catalog() []tool {
	return []tool{
		// Navigation
		{
			def: ToolDefinition{
				Name:        "lsp_goto_definition",
				Description: "Go to the definition of a symbol. Use this instead of grep/find for finding where functions, classes, or variables are defined",
				Category:    CategoryNavigation,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.Definition(ctx, path, line, character)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_goto_declaration",
				Description: "Go to the declaration of a symbol",
				Category:    CategoryNavigation,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.Declaration(ctx, path, line, character)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_goto_implementation",
				Description: "Go to the implementation(s) of an interface or abstract method. Use this instead of grep/find for locating concrete implementations",
				Category:    CategoryNavigation,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.Implementation(ctx, path, line, character)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_goto_type_definition",
				Description: "Go to the type definition of a symbol. Use this instead of grep/find for finding where types or interfaces are defined",
				Category:    CategoryNavigation,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.TypeDefinition(ctx, path, line, character)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_find_references",
				Description: "Find all references to a symbol across the entire project. Use this instead of grep -r or find for locating all usages of functions, classes, or variables",
				Category:    CategoryNavigation,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.References(ctx, path, line, character)
			}),
		},

		// Symbols
		{
			def: ToolDefinition{
				Name:        "lsp_document_symbols",
				Description: "Get all symbols (functions, classes, methods, variables) in a document. Use this instead of grep/find for listing symbols in a file",
				Category:    CategorySymbols,
				Parameters:  fileParams(),
			},
			run: inFile(func(ctx context.Context, c Client, path string) (any, error) {
				return c.DocumentSymbols(ctx, path)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_workspace_symbols",
				Description: "Search for symbols (functions, classes, methods, variables) across the entire workspace. Use this instead of grep -r or find for searching code elements by name",
				Category:    CategorySymbols,
				Parameters: map[string]ParamDef{
					"query": {Type: ParamTypeString, Description: "Symbol search query", Required: true},
				},
			},
			run: handleWorkspaceSymbols,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_document_highlight",
				Description: "Highlight all occurrences of a symbol in a document. Use this instead of grep for finding all occurrences of a symbol within a single file",
				Category:    CategorySymbols,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.DocumentHighlight(ctx, path, line, character)
			}),
		},

		// Intelligence
		{
			def: ToolDefinition{
				Name:        "lsp_hover",
				Description: "Get hover information (type, documentation, signature) for a symbol. Use this instead of searching for documentation or type information",
				Category:    CategoryIntelligence,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.Hover(ctx, path, line, character)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_completion",
				Description: "Get code completion suggestions",
				Category:    CategoryIntelligence,
				Parameters: with(positionParams(), "trigger_character",
					ParamDef{Type: ParamTypeString, Description: "Character that triggered completion"}),
			},
			run: handleCompletion,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_signature_help",
				Description: "Get signature help for function calls",
				Category:    CategoryIntelligence,
				Parameters:  positionParams(),
			},
			run: atPosition(func(ctx context.Context, c Client, path string, line, character int) (any, error) {
				return c.SignatureHelp(ctx, path, line, character)
			}),
		},

		// Editing
		{
			def: ToolDefinition{
				Name:        "lsp_rename",
				Description: "Rename a symbol safely across the entire workspace. Use this instead of find/replace or sed for renaming functions, variables, or classes",
				Category:    CategoryEditing,
				Parameters: with(positionParams(), "new_name",
					ParamDef{Type: ParamTypeString, Description: "New name for the symbol", Required: true}),
			},
			run: handleRename,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_code_action",
				Description: "Get available code actions (quick fixes, refactorings)",
				Category:    CategoryEditing,
				Parameters: with(rangeParams(), "diagnostics", ParamDef{
					Type:        ParamTypeArray,
					Description: "List of diagnostics",
					Items:       &ParamDef{Type: ParamTypeObject},
				}),
			},
			run: handleCodeAction,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_format_document",
				Description: "Format an entire document",
				Category:    CategoryEditing,
				Parameters:  with(with(fileParams(), "tab_size", tabSizeParam), "insert_spaces", spacesParam),
			},
			run: handleFormatDocument,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_format_range",
				Description: "Format a specific range in a document",
				Category:    CategoryEditing,
				Parameters:  with(with(rangeParams(), "tab_size", tabSizeParam), "insert_spaces", spacesParam),
			},
			run: handleFormatRange,
		},

		// Advanced
		{
			def: ToolDefinition{
				Name:        "lsp_semantic_tokens",
				Description: "Get semantic tokens for syntax highlighting",
				Category:    CategoryAdvanced,
				Parameters:  fileParams(),
			},
			run: inFile(func(ctx context.Context, c Client, path string) (any, error) {
				return c.SemanticTokens(ctx, path)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_inlay_hints",
				Description: "Get inlay hints for a range",
				Category:    CategoryAdvanced,
				Parameters:  rangeParams(),
			},
			run: handleInlayHints,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_code_lens",
				Description: "Get code lens information",
				Category:    CategoryAdvanced,
				Parameters:  fileParams(),
			},
			run: inFile(func(ctx context.Context, c Client, path string) (any, error) {
				return c.CodeLens(ctx, path)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_folding_range",
				Description: "Get folding ranges for a document",
				Category:    CategoryAdvanced,
				Parameters:  fileParams(),
			},
			run: inFile(func(ctx context.Context, c Client, path string) (any, error) {
				return c.FoldingRange(ctx, path)
			}),
		},
		{
			def: ToolDefinition{
				Name:        "lsp_selection_range",
				Description: "Get selection ranges for positions",
				Category:    CategoryAdvanced,
				Parameters: with(fileParams(), "positions", ParamDef{
					Type:        ParamTypeArray,
					Description: "List of positions",
					Required:    true,
					Items: &ParamDef{
						Type: ParamTypeObject,
						Properties: map[string]ParamDef{
							"line":      {Type: ParamTypeInt, Required: true},
							"character": {Type: ParamTypeInt, Required: true},
						},
					},
				}),
			},
			run: handleSelectionRange,
		},
		{
			def: ToolDefinition{
				Name:        "lsp_document_link",
				Description: "Get document links",
				Category:    CategoryAdvanced,
				Parameters:  fileParams(),
			},
			run: inFile(func(ctx context.Context, c Client, path string) (any, error) {
				return c.DocumentLink(ctx, path)
			}),
		},

		// Workspace
		{
			def: ToolDefinition{
				Name:        "lsp_execute_command",
				Description: "Execute a workspace command",
				Category:    CategoryWorkspace,
				Parameters: map[string]ParamDef{
					"command":   {Type: ParamTypeString, Description: "Command to execute", Required: true},
					"arguments": {Type: ParamTypeArray, Description: "Command arguments", Items: &ParamDef{Type: ParamTypeAny}},
				},
			},
			run: handleExecuteCommand,
		},
	}
}

// =============================================================================
// Handlers with extra arguments
// =============================================================================

func handleWorkspaceSymbols(ctx context.Context, c Client, args map[string]any) (any, error) {
	raw, ok := args["query"]
	if !ok || raw == nil {
		return nil, &ValidationError{Parameter: "query", Message: "is required"}
	}
	query, ok := raw.(string)
	if !ok {
		// Non-string queries are stringified.
		query = stringify(raw)
	}
	return c.WorkspaceSymbols(ctx, query)
}

func handleCompletion(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, line, character, err := positionArgs(args)
	if err != nil {
		return nil, err
	}
	trigger, err := optionalStringArg(args, "trigger_character")
	if err != nil {
		return nil, err
	}
	return c.Completion(ctx, path, line, character, trigger)
}

func handleRename(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, line, character, err := positionArgs(args)
	if err != nil {
		return nil, err
	}
	newName, err := stringArg(args, "new_name")
	if err != nil {
		return nil, err
	}
	return c.Rename(ctx, path, line, character, newName)
}

func handleCodeAction(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, rng, err := rangeArgs(args)
	if err != nil {
		return nil, err
	}
	diagnostics, err := rawListArg(args, "diagnostics")
	if err != nil {
		return nil, err
	}
	return c.CodeActions(ctx, path, rng, diagnostics)
}

func handleFormatDocument(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, err := stringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	opts, err := formattingArgs(args)
	if err != nil {
		return nil, err
	}
	return c.FormatDocument(ctx, path, opts)
}

func handleFormatRange(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, rng, err := rangeArgs(args)
	if err != nil {
		return nil, err
	}
	opts, err := formattingArgs(args)
	if err != nil {
		return nil, err
	}
	return c.FormatRange(ctx, path, rng, opts)
}

func handleInlayHints(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, rng, err := rangeArgs(args)
	if err != nil {
		return nil, err
	}
	return c.InlayHints(ctx, path, rng)
}

func handleSelectionRange(ctx context.Context, c Client, args map[string]any) (any, error) {
	path, err := stringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	positions, err := positionsArg(args)
	if err != nil {
		return nil, err
	}
	return c.SelectionRange(ctx, path, positions)
}

func handleExecuteCommand(ctx context.Context, c Client, args map[string]any) (any, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return nil, err
	}
	commandArgs, err := rawListArg(args, "arguments")
	if err != nil {
		return nil, err
	}
	return c.ExecuteCommand(ctx, command, commandArgs)
}
