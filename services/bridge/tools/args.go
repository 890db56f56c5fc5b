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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/lspbridge/services/bridge/lsp"
)

// =============================================================================
// Argument Extraction
// =============================================================================
//
// MCP clients are loose with types: integers arrive as JSON numbers (float64
// after decoding), json.Number, or numeric strings. Every extractor accepts
// those forms and reports a *ValidationError otherwise.

// stringArg returns a required, non-empty string argument.
func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", &ValidationError{Parameter: name, Message: "is required and must be a string"}
	}
	return v, nil
}

// optionalStringArg returns a string argument or "" when absent.
func optionalStringArg(args map[string]any, name string) (string, error) {
	raw, present := args[name]
	if !present || raw == nil {
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Parameter: name, Message: fmt.Sprintf("must be a string, got: %T", raw)}
	}
	return v, nil
}

// intArg returns a required non-negative integer argument, the LSP
// uinteger used for lines and characters. Fractions are floored.
func intArg(args map[string]any, name string) (int, error) {
	return toUinteger(args[name], name)
}

func toUinteger(value any, name string) (int, error) {
	n, err := toInt(value, name)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("must not be negative, got: %d", n)}
	}
	return n, nil
}

func toInt(value any, name string) (int, error) {
	switch v := value.(type) {
	case nil:
		return 0, &ValidationError{Parameter: name, Message: "is required"}
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("must be a number, got: %v", v)}
		}
		f := math.Floor(v)
		if f < math.MinInt32 || f > math.MaxInt32 {
			return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("is out of range: %v", v)}
		}
		return int(f), nil
	case float32:
		return toInt(float64(v), name)
	case int:
		return toInt(int64(v), name)
	case int32:
		return int(v), nil
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("is out of range: %d", v)}
		}
		return int(v), nil
	case json.Number:
		return toInt(string(v), name)
	case string:
		n, err := parseLeadingInt(v)
		if err != nil {
			return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("must be a number, got: %s", v)}
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("is out of range: %s", v)}
		}
		return n, nil
	default:
		return 0, &ValidationError{Parameter: name, Message: fmt.Sprintf("must be a number, got: %T", value)}
	}
}

// parseLeadingInt parses an optionally signed decimal prefix, so "12px"
// yields 12 and "3.9" yields 3.
func parseLeadingInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s[:end])
}

// boolArg returns a boolean argument using truthiness for non-bool values,
// or def when absent.
func boolArg(args map[string]any, name string, def bool) bool {
	raw, present := args[name]
	if !present || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

// positionArgs extracts file_path, line and character.
func positionArgs(args map[string]any) (string, int, int, error) {
	path, err := stringArg(args, "file_path")
	if err != nil {
		return "", 0, 0, err
	}
	line, err := intArg(args, "line")
	if err != nil {
		return "", 0, 0, err
	}
	character, err := intArg(args, "character")
	if err != nil {
		return "", 0, 0, err
	}
	return path, line, character, nil
}

// rangeArgs extracts file_path and the start/end line/character quadruple.
func rangeArgs(args map[string]any) (string, lsp.Range, error) {
	path, err := stringArg(args, "file_path")
	if err != nil {
		return "", lsp.Range{}, err
	}
	var values [4]int
	for i, name := range []string{"start_line", "start_character", "end_line", "end_character"} {
		if values[i], err = intArg(args, name); err != nil {
			return "", lsp.Range{}, err
		}
	}
	return path, lsp.Range{
		Start: lsp.Position{Line: values[0], Character: values[1]},
		End:   lsp.Position{Line: values[2], Character: values[3]},
	}, nil
}

// formattingArgs extracts tab_size (default 4) and insert_spaces (default true).
func formattingArgs(args map[string]any) (lsp.FormattingOptions, error) {
	opts := lsp.DefaultFormattingOptions()
	if raw, ok := args["tab_size"]; ok && raw != nil {
		size, err := toInt(raw, "tab_size")
		if err != nil {
			return opts, err
		}
		opts.TabSize = size
	}
	opts.InsertSpaces = boolArg(args, "insert_spaces", true)
	return opts, nil
}

// positionsArg extracts a required list of {line, character} objects.
func positionsArg(args map[string]any) ([]lsp.Position, error) {
	list, ok := args["positions"].([]any)
	if !ok {
		return nil, &ValidationError{Parameter: "positions", Message: "must be an array"}
	}
	positions := make([]lsp.Position, 0, len(list))
	for i, item := range list {
		name := fmt.Sprintf("positions[%d]", i)
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, &ValidationError{Parameter: name, Message: "must be an object"}
		}
		line, err := toUinteger(obj["line"], name+".line")
		if err != nil {
			return nil, err
		}
		character, err := toUinteger(obj["character"], name+".character")
		if err != nil {
			return nil, err
		}
		positions = append(positions, lsp.Position{Line: line, Character: character})
	}
	return positions, nil
}

// rawListArg re-encodes an optional array argument element by element.
// Absent or null yields an empty list.
func rawListArg(args map[string]any, name string) ([]json.RawMessage, error) {
	raw, present := args[name]
	if !present || raw == nil {
		return []json.RawMessage{}, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{Parameter: name, Message: "must be an array"}
	}
	out := make([]json.RawMessage, 0, len(list))
	for i, item := range list {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, &ValidationError{Parameter: fmt.Sprintf("%s[%d]", name, i), Message: err.Error()}
		}
		out = append(out, data)
	}
	return out, nil
}

// marshalResult renders a tool result as two-space indented JSON.
func marshalResult(result any) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

// stringify renders a scalar argument as text; whole numbers print without
// a fractional part.
func stringify(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
