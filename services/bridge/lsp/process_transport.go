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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

const (
	readChunkSize = 32 * 1024

	// stderrLinesPerSecond caps forwarded stderr lines.
	stderrLinesPerSecond = 200
	stderrBurst          = 500
)

// ProcessTransport speaks to a language server over a child process's stdio.
//
// Description:
//
//	A single read goroutine drains the child's stdout into a
//	FrameBuffer and queues every complete frame. When stdout ends the
//	goroutine reaps the process and fails the queue, so receivers never
//	hang on a dead server. The child's stderr is logged at DEBUG.
//
// Thread Safety:
//
//	Safe for concurrent use. Writes are serialized and bounded by the
//	caller's context.
type ProcessTransport struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout io.ReadCloser
	logger *slog.Logger
	grace  time.Duration

	writeSem  chan struct{}
	queue     *messageQueue
	frames    *FrameBuffer
	exited    chan struct{}
	waitErr   error
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewProcessTransport spawns args[0] with the remaining arguments in workDir.
//
// Description:
//
//	Resolves the binary on PATH, inherits the environment plus
//	PYTHONUNBUFFERED=1 and opts.Env, connects stdin/stdout pipes and
//	starts the read goroutine.
//
// Outputs:
//
//	*ProcessTransport - The running transport
//	error - ErrEmptyCommand, ErrServerNotInstalled, or a spawn failure
func NewProcessTransport(args []string, workDir string, opts TransportOptions) (*ProcessTransport, error) {
	opts = opts.withDefaults()
	if len(args) == 0 || args[0] == "" {
		return nil, ErrEmptyCommand
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		opts.Logger.Warn("LSP server not installed",
			slog.String("command", args[0]),
		)
		return nil, fmt.Errorf("%w: %s", ErrServerNotInstalled, args[0])
	}

	cmd := exec.Command(path, args[1:]...)
	cmd.Dir = workDir
	cmd.Env = append(append(os.Environ(), "PYTHONUNBUFFERED=1"), opts.Env...)
	cmd.Stderr = newStderrLogWriter(opts.Logger, args[0])

	// The write end must support deadlines, which cmd.StdinPipe hides.
	childStdin, stdin, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	cmd.Stdin = childStdin
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = childStdin.Close()
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	err = cmd.Start()
	_ = childStdin.Close()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}

	opts.Logger.Info("Started LSP server process",
		slog.String("command", path),
		slog.Any("args", args[1:]),
		slog.String("dir", workDir),
		slog.Int("pid", cmd.Process.Pid),
	)

	t := &ProcessTransport{
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdout,
		logger:   opts.Logger,
		grace:    opts.GracePeriod,
		writeSem: make(chan struct{}, 1),
		queue:    newMessageQueue(),
		frames:   NewFrameBuffer(opts.MaxFrameSize),
		exited:   make(chan struct{}),
	}
	t.frames.OnMalformed = func(err error) {
		t.logger.Warn("Discarding malformed LSP frame", slog.String("error", err.Error()))
	}

	go t.readLoop()
	return t, nil
}

// Send writes one framed message to the child's stdin.
//
// Description:
//
//	Waiting for the writer slot and the write itself both end when ctx
//	is done, so a server that stops reading stdin cannot block the
//	caller. A frame cut off part way leaves the stream unusable, so the
//	transport is closed in that case.
//
// Outputs:
//
//	error - ctx.Err() on cancellation, the queue error once the
//	        transport has failed, or a write failure
func (t *ProcessTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.queue.done():
		return t.queue.err()
	default:
	}

	select {
	case t.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.queue.done():
		return t.queue.err()
	}
	defer func() { <-t.writeSem }()

	deadline, _ := ctx.Deadline()
	_ = t.stdin.SetWriteDeadline(deadline)
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = t.stdin.SetWriteDeadline(time.Now())
		close(interrupted)
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	frame := EncodeFrame(msg)
	n, err := t.stdin.Write(frame)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if n > 0 {
			t.logger.Error("LSP frame write interrupted, closing transport",
				slog.Int("written", n),
				slog.Int("frame_bytes", len(frame)),
			)
			go t.Close()
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return fmt.Errorf("write frame: %w", err)
}

// Receive returns the next message from the server.
func (t *ProcessTransport) Receive(ctx context.Context) ([]byte, error) {
	return t.queue.receive(ctx)
}

// Close terminates the child process.
//
// Description:
//
//	Closes stdin, which also aborts a write in progress, asks the
//	process to terminate, and kills it when it has not exited within
//	the grace period. Waits at most one more second for the reaper so
//	Close always returns.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		_ = t.stdin.Close()

		if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = t.cmd.Process.Kill()
		}

		select {
		case <-t.exited:
		case <-time.After(t.grace):
			t.logger.Warn("LSP server did not exit in time, killing",
				slog.Int("pid", t.cmd.Process.Pid),
			)
			_ = t.cmd.Process.Kill()
			select {
			case <-t.exited:
			case <-time.After(time.Second):
				_ = t.stdout.Close()
			}
		}
		t.queue.closeWithError(ErrTransportClosed)
	})
	return nil
}

// Exited is closed once the child process has been reaped.
func (t *ProcessTransport) Exited() <-chan struct{} {
	return t.exited
}

// Pid returns the child's process id.
func (t *ProcessTransport) Pid() int {
	return t.cmd.Process.Pid
}

func (t *ProcessTransport) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.stdout.Read(buf)
		if n > 0 {
			t.frames.Append(buf[:n])
			for _, frame := range t.frames.Drain() {
				t.queue.push(frame)
			}
		}
		if err != nil {
			break
		}
	}

	t.waitErr = t.cmd.Wait()
	close(t.exited)

	if t.closing.Load() {
		t.queue.closeWithError(ErrTransportClosed)
		return
	}
	t.logger.Error("LSP server exited unexpectedly",
		slog.Int("pid", t.cmd.Process.Pid),
		slog.Any("error", t.waitErr),
	)
	if t.waitErr != nil {
		t.queue.closeWithError(fmt.Errorf("%w: %v", ErrServerCrashed, t.waitErr))
		return
	}
	t.queue.closeWithError(ErrServerCrashed)
}

// stderrLogWriter forwards child stderr to the logger line by line.
// Lines over the rate limit are counted and reported once logging resumes.
type stderrLogWriter struct {
	logger  *slog.Logger
	command string
	limiter *rate.Limiter
	mu      sync.Mutex
	partial []byte
	dropped int
}

func newStderrLogWriter(logger *slog.Logger, command string) *stderrLogWriter {
	return &stderrLogWriter{
		logger:  logger,
		command: command,
		limiter: rate.NewLimiter(rate.Limit(stderrLinesPerSecond), stderrBurst),
	}
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(string(w.partial[:idx]), "\r")
		w.partial = w.partial[idx+1:]
		if line == "" {
			continue
		}
		if w.limiter != nil && !w.limiter.Allow() {
			w.dropped++
			continue
		}
		if w.dropped > 0 {
			w.logger.Debug("LSP server stderr lines suppressed",
				slog.String("command", w.command),
				slog.Int("count", w.dropped),
			)
			w.dropped = 0
		}
		w.logger.Debug("LSP server stderr",
			slog.String("command", w.command),
			slog.String("line", line),
		)
	}
	return len(p), nil
}
