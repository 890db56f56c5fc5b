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
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// =============================================================================
// URI HELPERS
// =============================================================================

// PathToURI converts a file path to an absolute file:// URI.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	u := &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// URIToPath converts a file:// URI back to a file path.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return filepath.FromSlash(u.Path)
	}
	return strings.TrimPrefix(uri, "file://")
}

// =============================================================================
// RESULT NORMALIZATION
// =============================================================================

// NormalizeList turns a raw result into a list.
//
// Absent and null results become an empty (non-nil) list, arrays are
// split into their elements, and any other value becomes a one-element
// list.
func NormalizeList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items, nil
}

// NormalizeCompletion extracts completion items from either a bare list or
// a CompletionList object.
func NormalizeCompletion(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var list struct {
			Items json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		return NormalizeList(list.Items)
	}
	return NormalizeList(trimmed)
}

// NormalizeSingle returns the raw result with absent results mapped to null.
func NormalizeSingle(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	return trimmed
}

// DecodeLocations converts a normalized definition-style list into Locations.
//
// Description:
//
//	Elements may be Location or LocationLink objects; links resolve to
//	their target selection range. Elements of neither shape fail with
//	ErrInvalidResponse.
func DecodeLocations(items []json.RawMessage) ([]Location, error) {
	locations := make([]Location, 0, len(items))
	for _, item := range items {
		var probe struct {
			URI                  string `json:"uri"`
			Range                Range  `json:"range"`
			TargetURI            string `json:"targetUri"`
			TargetSelectionRange Range  `json:"targetSelectionRange"`
		}
		if err := json.Unmarshal(item, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		switch {
		case probe.TargetURI != "":
			locations = append(locations, Location{URI: probe.TargetURI, Range: probe.TargetSelectionRange})
		case probe.URI != "":
			locations = append(locations, Location{URI: probe.URI, Range: probe.Range})
		default:
			return nil, fmt.Errorf("%w: element is not a location", ErrInvalidResponse)
		}
	}
	return locations, nil
}
