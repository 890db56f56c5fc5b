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
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// racyWindow is how long after a read a matching mtime is not trusted.
// Filesystem timestamps can be coarser than the gap between an edit and
// the next request.
const racyWindow = time.Second

// openDocument is what the client remembers about a document the server has open.
type openDocument struct {
	path       string
	uri        string
	languageID string
	version    int
	hash       [sha256.Size]byte
	modTime    time.Time
	size       int64
	readAt     time.Time
	stale      bool
}

// unchanged reports whether info still describes the content last read.
// A file modified within racyWindow of that read is never trusted.
func (d *openDocument) unchanged(info os.FileInfo) bool {
	if d.stale || info.Size() != d.size || !info.ModTime().Equal(d.modTime) {
		return false
	}
	return d.modTime.Before(d.readAt.Add(-racyWindow))
}

// notifier sends notifications to the server.
type notifier interface {
	notify(ctx context.Context, method string, params any) error
}

// documentStore tracks documents announced to the server.
//
// Description:
//
//	The first use of a file sends didOpen with version 1. Every later
//	use stats the file and re-reads it unless size and mtime match the
//	last read. A full-text didChange with the next version is sent when
//	the content hash differs. Versions only grow. Without a watcher the
//	file is re-read on every use; with one, fsnotify events force a
//	re-read on top of the stat check.
//
// Thread Safety:
//
//	Safe for concurrent use. Announcements are serialized so versions
//	reach the server in order.
type documentStore struct {
	languages *LanguageRegistry
	logger    *slog.Logger

	mu      sync.Mutex
	docs    map[string]*openDocument
	watcher *fsnotify.Watcher
	dirs    map[string]int
	done    chan struct{}
}

// newDocumentStore creates a store; when watch is true, file changes
// invalidate cached content through fsnotify.
func newDocumentStore(languages *LanguageRegistry, logger *slog.Logger, watch bool) *documentStore {
	s := &documentStore{
		languages: languages,
		logger:    logger,
		docs:      make(map[string]*openDocument),
		dirs:      make(map[string]int),
		done:      make(chan struct{}),
	}
	if !watch {
		return s
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("File watching unavailable, documents are re-read on every use",
			slog.String("error", err.Error()),
		)
		return s
	}
	s.watcher = w
	go s.processEvents()
	return s
}

// ensureOpen makes sure the server has the current content of path.
func (s *documentStore) ensureOpen(ctx context.Context, n notifier, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uri := PathToURI(path)
	doc, known := s.docs[uri]

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if known && s.watcher != nil && doc.unchanged(info) {
		return nil
	}

	readAt := time.Now()
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	sum := sha256.Sum256(text)

	if !known {
		doc = &openDocument{
			path:       path,
			uri:        uri,
			languageID: s.languages.LanguageID(path),
			version:    1,
			hash:       sum,
			modTime:    info.ModTime(),
			size:       info.Size(),
			readAt:     readAt,
		}
		err := n.notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        uri,
				LanguageID: doc.languageID,
				Version:    doc.version,
				Text:       string(text),
			},
		})
		if err != nil {
			return err
		}
		s.docs[uri] = doc
		s.watch(path)
		s.logger.Debug("Opened document",
			slog.String("uri", uri),
			slog.String("language_id", doc.languageID),
		)
		return nil
	}

	doc.stale = false
	if sum == doc.hash {
		doc.modTime, doc.size, doc.readAt = info.ModTime(), info.Size(), readAt
		return nil
	}
	err = n.notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{URI: uri, Version: doc.version + 1},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: string(text)}},
	})
	if err != nil {
		doc.stale = true
		return err
	}
	doc.version++
	doc.hash = sum
	doc.modTime, doc.size, doc.readAt = info.ModTime(), info.Size(), readAt
	s.logger.Debug("Synchronized changed document",
		slog.String("uri", uri),
		slog.Int("version", doc.version),
	)
	return nil
}

// close sends didClose for path and forgets it. Unknown documents are a no-op.
func (s *documentStore) close(ctx context.Context, n notifier, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uri := PathToURI(path)
	if _, ok := s.docs[uri]; !ok {
		return nil
	}
	delete(s.docs, uri)
	s.unwatch(path)
	return n.notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// version returns the last version sent for path, or 0 if it is not open.
func (s *documentStore) version(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[PathToURI(path)]; ok {
		return doc.version
	}
	return 0
}

// shutdown stops the watcher. The documents themselves die with the server.
func (s *documentStore) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.watcher.Close()
}

// watch registers the directory of path. Caller holds s.mu.
func (s *documentStore) watch(path string) {
	if s.watcher == nil {
		return
	}
	dir := filepath.Dir(path)
	if s.dirs[dir] == 0 {
		if err := s.watcher.Add(dir); err != nil {
			s.logger.Debug("Cannot watch directory", slog.String("dir", dir), slog.String("error", err.Error()))
			return
		}
	}
	s.dirs[dir]++
}

// unwatch releases the directory of path. Caller holds s.mu.
func (s *documentStore) unwatch(path string) {
	if s.watcher == nil {
		return
	}
	dir := filepath.Dir(path)
	if s.dirs[dir] == 0 {
		return
	}
	s.dirs[dir]--
	if s.dirs[dir] == 0 {
		delete(s.dirs, dir)
		_ = s.watcher.Remove(dir)
	}
}

func (s *documentStore) processEvents() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.markStale(event.Name)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("File watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *documentStore) markStale(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[PathToURI(path)]; ok {
		doc.stale = true
	}
}
