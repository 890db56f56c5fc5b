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
	"path/filepath"
	"strings"
)

// DefaultLanguageID is used for files with an unknown extension.
const DefaultLanguageID = "plaintext"

// LanguageRegistry maps file extensions to LSP language identifiers.
//
// Thread Safety:
//
//	Read-only after construction; safe for concurrent use.
type LanguageRegistry struct {
	byExtension map[string]string
}

// NewLanguageRegistry creates a registry with the built-in mappings plus
// extra, whose entries win. Keys may be given with or without a leading dot.
func NewLanguageRegistry(extra map[string]string) *LanguageRegistry {
	r := &LanguageRegistry{byExtension: map[string]string{
		".py":    "python",
		".js":    "javascript",
		".ts":    "typescript",
		".tsx":   "typescriptreact",
		".jsx":   "javascriptreact",
		".go":    "go",
		".rs":    "rust",
		".cpp":   "cpp",
		".cc":    "cpp",
		".hpp":   "cpp",
		".c":     "c",
		".h":     "c",
		".java":  "java",
		".rb":    "ruby",
		".php":   "php",
		".cs":    "csharp",
		".swift": "swift",
		".kt":    "kotlin",
		".scala": "scala",
		".r":     "r",
		".lua":   "lua",
		".dart":  "dart",
	}}
	for ext, id := range extra {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		r.byExtension[strings.ToLower(ext)] = id
	}
	return r
}

// LanguageID returns the identifier for path, or DefaultLanguageID.
func (r *LanguageRegistry) LanguageID(path string) string {
	if id, ok := r.byExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return id
	}
	return DefaultLanguageID
}
