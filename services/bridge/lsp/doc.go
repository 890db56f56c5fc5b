// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is the Language Server Protocol client behind the bridge.
//
// It spawns or connects to one language server, runs the initialize
// handshake, and exposes the navigation, information, refactoring and
// advanced operations as plain Go methods returning raw JSON results.
//
// # Architecture
//
//	┌──────────────┐   Start/ops    ┌────────┐  frames   ┌──────────────────────┐
//	│ tool handler │ ─────────────► │ Client │ ────────► │ Transport            │
//	└──────────────┘                │  conn  │ ◄──────── │  process | HTTP | ws  │
//	                                └────────┘  queue    └──────────────────────┘
//
// # Components
//
//   - Framing: Content-Length encoding and a chunk-tolerant FrameBuffer
//   - Transport: process stdio, HTTP endpoint, or WebSocket, selected by command
//   - conn: id correlation, per-call timeouts, server notifications and requests
//   - Client: lifecycle state machine, handshake, operation catalog
//   - documentStore: didOpen/didChange bookkeeping with fsnotify invalidation
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
//
// # Example
//
//	client := lsp.NewClient(lsp.ClientConfig{Timeout: 30 * time.Second})
//	if err := client.Start(ctx, "gopls", "/path/to/project"); err != nil {
//		return err
//	}
//	defer client.Stop(context.Background())
//
//	locs, err := client.Definition(ctx, "main.go", 10, 5)
package lsp
