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
	"strconv"
	"strings"
)

// DefaultMaxFrameSize bounds the Content-Length a peer may declare.
const DefaultMaxFrameSize = 64 << 20

var headerTerminator = []byte("\r\n\r\n")

// EncodeFrame wraps a JSON payload in an LSP base protocol frame.
//
// The Content-Length header carries the byte length of the payload.
func EncodeFrame(payload []byte) []byte {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	return append(frame, payload...)
}

// DecodeFrame extracts the first complete frame from buf.
//
// Description:
//
//	Returns the frame payload and the number of bytes it occupied.
//	When buf does not yet hold a complete frame, advance is zero and
//	payload is nil. A header block without a usable Content-Length
//	yields ErrMalformedHeader with advance set past the header
//	terminator so the caller can discard it and keep decoding.
//
// Inputs:
//
//	buf - Accumulated bytes received from the peer
//	maxSize - Largest acceptable Content-Length, or <= 0 for no limit
//
// Outputs:
//
//	payload - The frame body, sharing storage with buf
//	advance - Bytes consumed from the front of buf
//	err - ErrMalformedHeader for an unusable header block
func DecodeFrame(buf []byte, maxSize int) (payload []byte, advance int, err error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		return nil, 0, nil
	}
	bodyStart := end + len(headerTerminator)

	length, ok := parseContentLength(buf[:end])
	if !ok || (maxSize > 0 && length > maxSize) {
		return nil, bodyStart, fmt.Errorf("%w: %q", ErrMalformedHeader, buf[:end])
	}

	if len(buf)-bodyStart < length {
		return nil, 0, nil
	}
	return buf[bodyStart : bodyStart+length], bodyStart + length, nil
}

// parseContentLength finds a Content-Length header in a header block.
// Header names match case-insensitively and other headers are ignored.
func parseContentLength(block []byte) (int, bool) {
	for _, line := range strings.Split(string(block), "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// FrameBuffer accumulates raw bytes from a stream and yields complete frames.
//
// Thread Safety:
//
//	Not safe for concurrent use. Each transport owns one buffer and
//	feeds it from its single read goroutine.
type FrameBuffer struct {
	buf     []byte
	maxSize int

	// OnMalformed is called for every discarded header block.
	OnMalformed func(err error)
}

// NewFrameBuffer creates a buffer that rejects frames above maxSize bytes.
func NewFrameBuffer(maxSize int) *FrameBuffer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameBuffer{maxSize: maxSize}
}

// Append adds a chunk read from the peer.
func (b *FrameBuffer) Append(chunk []byte) {
	b.buf = append(b.buf, chunk...)
}

// Next returns the next complete frame payload.
//
// The returned slice is a copy and stays valid after further appends.
// Returns false once only a partial frame (or nothing) remains.
func (b *FrameBuffer) Next() ([]byte, bool) {
	for {
		payload, advance, err := DecodeFrame(b.buf, b.maxSize)
		if err != nil {
			if b.OnMalformed != nil {
				b.OnMalformed(err)
			}
			b.consume(advance)
			continue
		}
		if advance == 0 {
			return nil, false
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		b.consume(advance)
		return out, true
	}
}

// Drain returns every complete frame currently buffered.
func (b *FrameBuffer) Drain() [][]byte {
	var frames [][]byte
	for {
		frame, ok := b.Next()
		if !ok {
			return frames
		}
		frames = append(frames, frame)
	}
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}

func (b *FrameBuffer) consume(n int) {
	remaining := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
}
