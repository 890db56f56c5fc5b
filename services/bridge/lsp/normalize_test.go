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
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeList(t *testing.T) {
	t.Run("absent and null become empty", func(t *testing.T) {
		for _, raw := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("  null ")} {
			items, err := NormalizeList(raw)
			require.NoError(t, err)
			assert.NotNil(t, items)
			assert.Empty(t, items)
		}
	})

	t.Run("object becomes one element", func(t *testing.T) {
		items, err := NormalizeList(json.RawMessage(`{"uri":"file:///a.go"}`))
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.JSONEq(t, `{"uri":"file:///a.go"}`, string(items[0]))
	})

	t.Run("array is split", func(t *testing.T) {
		items, err := NormalizeList(json.RawMessage(`[{"a":1},{"b":2}]`))
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.JSONEq(t, `{"b":2}`, string(items[1]))
	})

	t.Run("empty array stays empty", func(t *testing.T) {
		items, err := NormalizeList(json.RawMessage(`[]`))
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})

	t.Run("broken array is invalid", func(t *testing.T) {
		_, err := NormalizeList(json.RawMessage(`[1,`))
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestNormalizeCompletion(t *testing.T) {
	t.Run("bare list", func(t *testing.T) {
		items, err := NormalizeCompletion(json.RawMessage(`[{"label":"Println"}]`))
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("completion list object", func(t *testing.T) {
		items, err := NormalizeCompletion(json.RawMessage(`{"isIncomplete":false,"items":[{"label":"a"},{"label":"b"}]}`))
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("object without items", func(t *testing.T) {
		items, err := NormalizeCompletion(json.RawMessage(`{"isIncomplete":true}`))
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("null", func(t *testing.T) {
		items, err := NormalizeCompletion(json.RawMessage(`null`))
		require.NoError(t, err)
		assert.NotNil(t, items)
		assert.Empty(t, items)
	})
}

func TestNormalizeSingle(t *testing.T) {
	assert.Equal(t, "null", string(NormalizeSingle(nil)))
	assert.Equal(t, `{"contents":"x"}`, string(NormalizeSingle(json.RawMessage(` {"contents":"x"} `))))
}

func TestDecodeLocations(t *testing.T) {
	t.Run("locations and links", func(t *testing.T) {
		items := []json.RawMessage{
			json.RawMessage(`{"uri":"file:///a.go","range":{"start":{"line":1,"character":2},"end":{"line":1,"character":5}}}`),
			json.RawMessage(`{"targetUri":"file:///b.go","targetRange":{"start":{"line":0,"character":0},"end":{"line":9,"character":0}},"targetSelectionRange":{"start":{"line":3,"character":5},"end":{"line":3,"character":9}}}`),
		}
		locs, err := DecodeLocations(items)
		require.NoError(t, err)
		require.Len(t, locs, 2)
		assert.Equal(t, "file:///a.go", locs[0].URI)
		assert.Equal(t, Position{Line: 1, Character: 2}, locs[0].Range.Start)
		assert.Equal(t, "file:///b.go", locs[1].URI)
		assert.Equal(t, Position{Line: 3, Character: 5}, locs[1].Range.Start)
	})

	t.Run("rejects non-location", func(t *testing.T) {
		_, err := DecodeLocations([]json.RawMessage{json.RawMessage(`{"name":"x"}`)})
		assert.ErrorIs(t, err, ErrInvalidResponse)
	})
}

func TestPathToURI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	assert.Equal(t, "file:///tmp/project/main.go", PathToURI("/tmp/project/main.go"))
	assert.Equal(t, "file:///tmp/my%20project/a.go", PathToURI("/tmp/my project/a.go"))
	assert.Equal(t, "/tmp/my project/a.go", URIToPath("file:///tmp/my%20project/a.go"))
}

func TestLanguageRegistry(t *testing.T) {
	r := NewLanguageRegistry(map[string]string{"templ": "templ", ".py": "python3"})
	assert.Equal(t, "go", r.LanguageID("/x/main.go"))
	assert.Equal(t, "typescriptreact", r.LanguageID("App.TSX"))
	assert.Equal(t, "templ", r.LanguageID("view.templ"))
	assert.Equal(t, "python3", r.LanguageID("a.py"))
	assert.Equal(t, DefaultLanguageID, r.LanguageID("README"))
}
