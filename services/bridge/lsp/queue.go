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
	"sync"
)

// messageQueue is the FIFO delivery queue shared by every transport.
//
// Description:
//
//	Producers push decoded messages from a read goroutine. Receivers
//	take the oldest message or suspend until one arrives, the queue is
//	closed, or their context is done. Messages queued before close are
//	still delivered; afterwards Receive fails with the close cause.
//
// Thread Safety:
//
//	Safe for concurrent use.
type messageQueue struct {
	mu       sync.Mutex
	items    [][]byte
	notify   chan struct{}
	closed   chan struct{}
	closeErr error
	once     sync.Once
}

func newMessageQueue() *messageQueue {
	return &messageQueue{
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// push enqueues msg. Pushes after close are dropped.
func (q *messageQueue) push(msg []byte) {
	q.mu.Lock()
	select {
	case <-q.closed:
		q.mu.Unlock()
		return
	default:
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest message without blocking.
func (q *messageQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return msg, true
}

// receive blocks until a message is available, the queue closes, or ctx is done.
func (q *messageQueue) receive(ctx context.Context) ([]byte, error) {
	for {
		if msg, ok := q.pop(); ok {
			return msg, nil
		}
		select {
		case <-q.notify:
		case <-q.closed:
			if msg, ok := q.pop(); ok {
				return msg, nil
			}
			return nil, q.err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// closeWithError closes the queue. Only the first cause is kept.
func (q *messageQueue) closeWithError(err error) {
	q.once.Do(func() {
		if err == nil {
			err = ErrTransportClosed
		}
		q.mu.Lock()
		q.closeErr = err
		close(q.closed)
		q.mu.Unlock()
	})
}

func (q *messageQueue) err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closeErr
}

// done is closed once the queue is closed.
func (q *messageQueue) done() <-chan struct{} {
	return q.closed
}
