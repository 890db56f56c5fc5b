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
	"fmt"
	"strings"
	"unicode"
)

// SplitCommand tokenizes a server command line.
//
// Description:
//
//	Whitespace separates arguments. Single or double quotes group text
//	containing whitespace and are removed from the result; the other
//	quote character is literal inside a quoted span. A quoted empty
//	string yields an empty argument.
//
// Outputs:
//
//	[]string - Program followed by its arguments
//	error - ErrEmptyCommand or ErrInvalidCommand for an unterminated quote
func SplitCommand(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		inToken bool
	)

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case unicode.IsSpace(r):
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated %c quote in %q", ErrInvalidCommand, quote, command)
	}
	if inToken {
		args = append(args, current.String())
	}
	if len(args) == 0 || args[0] == "" {
		return nil, ErrEmptyCommand
	}
	return args, nil
}

// NormalizeCommand applies launcher quirks to a tokenized command.
//
// A bare gopls is switched into stdio serving mode.
func NormalizeCommand(args []string) []string {
	if len(args) == 1 && args[0] == "gopls" {
		return []string{"gopls", "serve", "-rpc.trace"}
	}
	return args
}

// TransportKind identifies how the client reaches the language server.
type TransportKind int

const (
	// TransportProcess spawns a child process and speaks over its stdio.
	TransportProcess TransportKind = iota

	// TransportEndpoint POSTs each message to an HTTP endpoint.
	TransportEndpoint

	// TransportWebSocket exchanges one message per WebSocket text frame.
	TransportWebSocket
)

// String returns a human-readable transport name.
func (k TransportKind) String() string {
	switch k {
	case TransportProcess:
		return "process"
	case TransportEndpoint:
		return "endpoint"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// SelectTransport applies the endpoint selection rule to a command string.
func SelectTransport(command string) TransportKind {
	trimmed := strings.TrimSpace(command)
	switch {
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		return TransportEndpoint
	case strings.HasPrefix(trimmed, "ws://"), strings.HasPrefix(trimmed, "wss://"):
		return TransportWebSocket
	default:
		return TransportProcess
	}
}
