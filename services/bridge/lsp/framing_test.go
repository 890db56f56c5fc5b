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
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	t.Run("prefixes byte length header", func(t *testing.T) {
		payload := []byte(`{"jsonrpc":"2.0","id":1,"method":"test"}`)
		frame := EncodeFrame(payload)
		want := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
		assert.Equal(t, want, string(frame))
	})

	t.Run("counts bytes not runes", func(t *testing.T) {
		payload := []byte(`{"text":"héllo ✓"}`)
		frame := EncodeFrame(payload)
		assert.True(t, bytes.HasPrefix(frame, []byte(fmt.Sprintf("Content-Length: %d\r\n", len(payload)))))
	})

	t.Run("empty payload", func(t *testing.T) {
		assert.Equal(t, "Content-Length: 0\r\n\r\n", string(EncodeFrame(nil)))
	})
}

func TestDecodeFrame(t *testing.T) {
	msg := `{"jsonrpc":"2.0","id":1,"result":null}`

	t.Run("decodes complete frame", func(t *testing.T) {
		buf := []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(msg), msg))
		payload, advance, err := DecodeFrame(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, msg, string(payload))
		assert.Equal(t, len(buf), advance)
	})

	t.Run("needs more without terminator", func(t *testing.T) {
		payload, advance, err := DecodeFrame([]byte("Content-Length: 10\r\n"), 0)
		require.NoError(t, err)
		assert.Nil(t, payload)
		assert.Zero(t, advance)
	})

	t.Run("needs more with partial body", func(t *testing.T) {
		buf := []byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(msg), msg[:5]))
		payload, advance, err := DecodeFrame(buf, 0)
		require.NoError(t, err)
		assert.Nil(t, payload)
		assert.Zero(t, advance)
	})

	t.Run("header name is case insensitive and other headers ignored", func(t *testing.T) {
		buf := []byte(fmt.Sprintf("Content-Type: application/vscode-jsonrpc\r\ncontent-length:%d\r\n\r\n%s", len(msg), msg))
		payload, _, err := DecodeFrame(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, msg, string(payload))
	})

	t.Run("missing length is malformed and skippable", func(t *testing.T) {
		header := "Content-Type: text/plain\r\n\r\n"
		payload, advance, err := DecodeFrame([]byte(header+"rest"), 0)
		assert.ErrorIs(t, err, ErrMalformedHeader)
		assert.Nil(t, payload)
		assert.Equal(t, len(header), advance)
	})

	t.Run("negative length is malformed", func(t *testing.T) {
		_, _, err := DecodeFrame([]byte("Content-Length: -4\r\n\r\n"), 0)
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})

	t.Run("oversized length is malformed", func(t *testing.T) {
		_, _, err := DecodeFrame([]byte("Content-Length: 2048\r\n\r\n"), 1024)
		assert.ErrorIs(t, err, ErrMalformedHeader)
	})
}

func TestFrameBuffer_ArbitraryChunking(t *testing.T) {
	messages := []string{
		`{"jsonrpc":"2.0","id":1,"result":{"uri":"file:///a.go"}}`,
		`{"jsonrpc":"2.0","method":"window/logMessage","params":{"type":3,"message":"héllo"}}`,
		`{}`,
		`{"jsonrpc":"2.0","id":2,"result":[1,2,3]}`,
	}
	var stream []byte
	for _, m := range messages {
		stream = append(stream, EncodeFrame([]byte(m))...)
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		buf := NewFrameBuffer(0)
		var got []string
		for pos := 0; pos < len(stream); {
			n := 1 + rng.Intn(17)
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			buf.Append(stream[pos : pos+n])
			pos += n
			for _, frame := range buf.Drain() {
				got = append(got, string(frame))
			}
		}
		require.Equal(t, messages, got, "trial %d", trial)
		assert.Zero(t, buf.Buffered())
	}
}

func TestFrameBuffer_PartialDelivery(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":1,"result":true}`
	frame := EncodeFrame([]byte(body))

	buf := NewFrameBuffer(0)
	buf.Append(frame[:10])
	_, ok := buf.Next()
	assert.False(t, ok, "header prefix alone must not yield a message")

	buf.Append(frame[10 : len(frame)-3])
	_, ok = buf.Next()
	assert.False(t, ok, "incomplete body must not yield a message")

	buf.Append(frame[len(frame)-3:])
	got, ok := buf.Next()
	require.True(t, ok)
	assert.Equal(t, body, string(got))
}

func TestFrameBuffer_MalformedRecovery(t *testing.T) {
	good := `{"jsonrpc":"2.0","id":7,"result":null}`
	stream := append([]byte("X-Garbage: 1\r\n\r\n"), EncodeFrame([]byte(good))...)

	var malformed []error
	buf := NewFrameBuffer(0)
	buf.OnMalformed = func(err error) { malformed = append(malformed, err) }
	buf.Append(stream)

	frames := buf.Drain()
	require.Len(t, frames, 1)
	assert.Equal(t, good, string(frames[0]))
	require.Len(t, malformed, 1)
	assert.ErrorIs(t, malformed[0], ErrMalformedHeader)
}

func TestFrameBuffer_FramesSurviveLaterAppends(t *testing.T) {
	buf := NewFrameBuffer(0)
	buf.Append(EncodeFrame([]byte(`{"a":1}`)))
	first, ok := buf.Next()
	require.True(t, ok)

	buf.Append(EncodeFrame([]byte(`{"b":2}`)))
	second, ok := buf.Next()
	require.True(t, ok)

	assert.Equal(t, `{"a":1}`, string(first))
	assert.Equal(t, `{"b":2}`, string(second))
}
