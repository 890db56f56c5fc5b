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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/lspbridge/services/bridge/telemetry"
)

var (
	// ErrNotReady rejects tool calls before the language server handshake completes.
	ErrNotReady = errors.New("LSP not ready: Language Server Protocol client is still initializing")

	// ErrUnknownTool is returned for a name the registry does not know.
	ErrUnknownTool = errors.New("unknown tool")
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lspbridge_tool_calls_total",
		Help: "Total MCP tool calls by tool and outcome",
	}, []string{"tool", "outcome"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lspbridge_tool_call_duration_seconds",
		Help:    "MCP tool call latency",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
	}, []string{"tool"})
)

var tracer = otel.Tracer("lspbridge.tools")

// Registry holds the tool catalog and dispatches calls to the client.
//
// Description:
//
//	Tools are registered once at construction. Calls are rejected with
//	ErrNotReady until SetReady(true); unknown names return
//	ErrUnknownTool. Results are rendered as indented JSON text.
//
// Thread Safety:
//
//	Safe for concurrent use. The catalog is immutable after NewRegistry.
type Registry struct {
	client Client
	logger *slog.Logger
	order  []string
	tools  map[string]tool
	ready  atomic.Bool
}

// NewRegistry registers every tool against client.
//
// Inputs:
//
//	client - The LSP client (usually *lsp.Client). Must not be nil.
//	logger - Logger for call failures. Nil means slog.Default().
func NewRegistry(client Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		client: client,
		logger: logger,
		tools:  make(map[string]tool),
	}
	for _, t := range catalog() {
		r.order = append(r.order, t.def.Name)
		r.tools[t.def.Name] = t
	}
	return r
}

// SetReady opens or closes the readiness gate.
func (r *Registry) SetReady(ready bool) {
	if r.ready.Swap(ready) != ready {
		r.logger.Debug("LSP ready state changed", slog.Bool("ready", ready))
	}
}

// IsReady reports whether calls are accepted.
func (r *Registry) IsReady() bool {
	return r.ready.Load()
}

// Definitions returns every tool definition in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Call runs the named tool.
//
// Inputs:
//
//	ctx - Bounds the underlying LSP request together with the client timeout.
//	name - Tool name.
//	args - Decoded MCP arguments; nil is treated as empty.
//
// Outputs:
//
//	string - The result as two-space indented JSON.
//	error - ErrNotReady, ErrUnknownTool, *ValidationError, or the client error.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if !r.IsReady() {
		toolCalls.WithLabelValues(name, "not_ready").Inc()
		return "", ErrNotReady
	}
	t, ok := r.tools[name]
	if !ok {
		toolCalls.WithLabelValues("unknown", "unknown_tool").Inc()
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, span := tracer.Start(ctx, "tools."+name,
		trace.WithAttributes(
			attribute.String("tool.name", name),
			attribute.String("tool.category", t.def.Category.String()),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := t.run(ctx, r.client, args)
	toolLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		toolCalls.WithLabelValues(name, outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		telemetry.LoggerWithTrace(ctx, r.logger).Error("Tool call failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	text, err := marshalResult(result)
	if err != nil {
		toolCalls.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	toolCalls.WithLabelValues(name, "ok").Inc()
	span.SetStatus(codes.Ok, "")
	return text, nil
}

func outcome(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return "invalid_arguments"
	}
	return "error"
}
