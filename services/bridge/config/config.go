// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the language server catalog and builds the bridge's
// runtime configuration.
//
// The catalog is a YAML mapping from a server key to either a command line
// or a mapping with a command and per-server settings:
//
//	python: pylsp
//	go:
//	  command: gopls
//	  timeout: 45s
//	  initialization_options:
//	    usePlaceholders: true
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/lspbridge/services/bridge/lsp"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxCatalogFileSize caps the catalog file read (1MB).
	MaxCatalogFileSize = 1024 * 1024

	// DefaultTimeout is the per-request timeout when neither the catalog
	// nor the command line sets one.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrInvalidCatalog indicates the catalog is not a YAML mapping of servers.
	ErrInvalidCatalog = errors.New("config file must contain a YAML mapping of LSP servers")

	// ErrUnknownServer indicates the requested key is missing from the catalog.
	ErrUnknownServer = errors.New("LSP server key not found in config")
)

var validate = validator.New()

// =============================================================================
// Catalog
// =============================================================================

// ServerEntry describes one language server in the catalog.
type ServerEntry struct {
	Command               string         `yaml:"command" validate:"required"`
	InitializationOptions map[string]any `yaml:"initialization_options,omitempty"`
	Timeout               time.Duration  `yaml:"timeout,omitempty" validate:"gte=0"`
}

// UnmarshalYAML accepts either a bare command string or a mapping.
func (e *ServerEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Command)
	}
	type plain ServerEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = ServerEntry(p)
	return nil
}

// Catalog maps server keys to their entries.
type Catalog map[string]ServerEntry

// Keys returns the catalog keys in sorted order.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadCatalog reads and parses the catalog at path.
//
// Outputs:
//
//	Catalog - The parsed catalog, never empty on success
//	error - Read, size, parse, or ErrInvalidCatalog failures, all naming path
func LoadCatalog(path string) (Catalog, error) {
	data, err := readLimited(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, ErrInvalidCatalog)
	}

	var catalog Catalog
	if err := root.Content[0].Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, err)
	}
	if len(catalog) == 0 {
		return nil, fmt.Errorf("failed to load config file '%s': %w", path, ErrInvalidCatalog)
	}
	return catalog, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxCatalogFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxCatalogFileSize {
		return nil, fmt.Errorf("file exceeds %d bytes", MaxCatalogFileSize)
	}
	return data, nil
}

// =============================================================================
// App Config
// =============================================================================

// AppConfig is the resolved configuration for one bridge run.
type AppConfig struct {
	ServerKey             string        `validate:"required"`
	Command               string        `validate:"required"`
	Workspace             string        `validate:"required,dir"`
	Verbose               bool
	Timeout               time.Duration `validate:"gt=0"`
	InitializationOptions map[string]any
}

// Create resolves key in the catalog at path into an AppConfig.
//
// Description:
//
//	An empty workspace means the current directory. The workspace is
//	made absolute and must exist. The timeout comes from the catalog
//	entry, falling back to DefaultTimeout.
//
// Inputs:
//
//	path - Catalog file
//	key - Server key within the catalog
//	workspace - Workspace root, may be empty
//	verbose - Whether protocol traffic is logged
//
// Outputs:
//
//	*AppConfig - The validated configuration
//	error - Catalog errors, ErrUnknownServer listing the available keys,
//	  or lsp.ErrWorkspaceNotFound
func Create(path, key, workspace string, verbose bool) (*AppConfig, error) {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}

	entry, ok := catalog[key]
	if !ok || strings.TrimSpace(entry.Command) == "" {
		return nil, fmt.Errorf("%w: '%s'. Available keys: %s",
			ErrUnknownServer, key, strings.Join(catalog.Keys(), ", "))
	}
	if err := validate.Struct(entry); err != nil {
		return nil, fmt.Errorf("invalid entry '%s': %w", key, err)
	}

	if workspace == "" {
		if workspace, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	cfg := &AppConfig{
		ServerKey:             key,
		Command:               strings.TrimSpace(entry.Command),
		Workspace:             workspace,
		Verbose:               verbose,
		Timeout:               entry.Timeout,
		InitializationOptions: entry.InitializationOptions,
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags and maps a missing workspace to
// lsp.ErrWorkspaceNotFound.
func (c *AppConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, fe := range fieldErrs {
		if fe.Field() == "Workspace" {
			return fmt.Errorf("%w: %s", lsp.ErrWorkspaceNotFound, c.Workspace)
		}
	}
	fe := fieldErrs[0]
	return fmt.Errorf("invalid config: %s failed '%s' validation", fe.Field(), fe.Tag())
}
