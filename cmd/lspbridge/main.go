// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lspbridge exposes a language server as an MCP tool server.
//
// MCP traffic flows over stdin/stdout; logs go to stderr and, optionally,
// a JSON log file. The language server is picked from a YAML catalog:
//
//	lspbridge --config servers.yaml --lsp typescript --workspace ./web
//
// SIGINT and SIGTERM stop the bridge, which shuts the language server
// down before exiting.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/lspbridge/pkg/logging"
	"github.com/AleutianAI/lspbridge/services/bridge"
	"github.com/AleutianAI/lspbridge/services/bridge/config"
	"github.com/AleutianAI/lspbridge/services/bridge/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// options holds the parsed command-line flags.
type options struct {
	configPath string
	serverKey  string
	workspace  string
	verbose    bool
	timeout    time.Duration
	logFile    string
	adminAddr  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "lspbridge",
		Short: "Bridge a Language Server Protocol server to MCP over stdio",
		Long: `lspbridge starts (or connects to) the language server selected from a
YAML catalog and serves its navigation, editing and workspace features as
MCP tools on stdin/stdout.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML language server catalog")
	flags.StringVarP(&opts.serverKey, "lsp", "l", "", "Catalog key of the language server to use")
	flags.StringVarP(&opts.workspace, "workspace", "w", ".", "Workspace root directory")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at DEBUG and include protocol traffic")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Per-request timeout (overrides the catalog entry)")
	flags.StringVar(&opts.logFile, "log-file", "", "Also write JSON logs to this file")
	flags.StringVar(&opts.adminAddr, "admin-addr", "", "Serve /healthz, /readyz and /metrics on this address")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("lsp")

	cmd.SetOut(os.Stderr)
	return cmd
}

// run wires logging, configuration and telemetry, then runs the bridge
// until the command context ends.
func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()

	logger, err := logging.New(logging.Config{
		Level:   logging.LevelForVerbose(opts.verbose),
		LogFile: opts.logFile,
		Service: "lspbridge",
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logger.SetDefault()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		logger.Slog().Error("Invalid configuration", slog.String("error", err.Error()))
		return err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = bridge.Version
	tcfg.LanguageServer = cfg.ServerKey
	if opts.adminAddr != "" && tcfg.MetricExporter == telemetry.ExporterNone {
		tcfg.MetricExporter = telemetry.ExporterPrometheus
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Slog().Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if stdinIsTerminal() {
		logger.Slog().Warn("stdin is a terminal; lspbridge expects an MCP client on stdin/stdout")
	}

	if opts.verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	b, err := bridge.New(cfg, bridge.Options{
		AdminAddr: opts.adminAddr,
		Logger:    logger.Slog(),
	})
	if err != nil {
		return err
	}
	return b.Run(ctx)
}

// loadConfig resolves the catalog entry and applies flag overrides.
func loadConfig(cmd *cobra.Command, opts *options) (*config.AppConfig, error) {
	cfg, err := config.Create(opts.configPath, opts.serverKey, opts.workspace, opts.verbose)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = opts.timeout
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
