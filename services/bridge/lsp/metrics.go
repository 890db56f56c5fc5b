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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("lspbridge.lsp")
	meter  = otel.Meter("lspbridge.lsp")
)

var (
	operationLatency  metric.Float64Histogram
	operationTotal    metric.Int64Counter
	resultCount       metric.Int64Histogram
	requestTimeouts   metric.Int64Counter
	notificationTotal metric.Int64Counter
	transportOpens    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"lsp_operation_duration_seconds",
			metric.WithDescription("Duration of LSP operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"lsp_operation_total",
			metric.WithDescription("Total number of LSP operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"lsp_result_count",
			metric.WithDescription("Number of results returned by list-shaped LSP operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTimeouts, err = meter.Int64Counter(
			"lsp_request_timeouts_total",
			metric.WithDescription("Requests abandoned after the per-call deadline"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		notificationTotal, err = meter.Int64Counter(
			"lsp_notifications_total",
			metric.WithDescription("Notifications and requests received from the language server"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transportOpens, err = meter.Int64Counter(
			"lsp_transport_opens_total",
			metric.WithDescription("Transports opened, by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for an LSP operation.
func startOperationSpan(ctx context.Context, operation, filePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.file_path", filePath),
		),
	)
}

// endOperationSpan records the outcome on span and ends it.
func endOperationSpan(span trace.Span, resultCnt int, err error) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// recordOperationMetrics records metrics for an LSP operation.
// resultCnt < 0 marks single-result operations, which skip the count histogram.
func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success && resultCnt >= 0 {
		resultCount.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// recordRequestTimeout counts a request that hit its deadline.
func recordRequestTimeout(ctx context.Context, method string) {
	if err := initMetrics(); err != nil {
		return
	}
	requestTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

// recordInbound counts a server-initiated message.
func recordInbound(ctx context.Context, method string, isRequest bool) {
	if err := initMetrics(); err != nil {
		return
	}
	notificationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("request", isRequest),
	))
}

// recordTransportOpen counts a transport open attempt.
func recordTransportOpen(ctx context.Context, kind TransportKind) {
	if err := initMetrics(); err != nil {
		return
	}
	transportOpens.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}
