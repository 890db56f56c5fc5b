// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools exposes the LSP client's operations as MCP tools.
//
// Each tool has a ToolDefinition (name, description, parameter schema) and
// a handler that extracts arguments, calls the Client, and returns the
// result as indented JSON text. The Registry gates calls on client
// readiness and dispatches by name; the MCP transport lives elsewhere.
package tools

import (
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// ToolCategory groups tools for listing.
type ToolCategory string

const (
	// CategoryNavigation covers definition, declaration and reference lookups.
	CategoryNavigation ToolCategory = "navigation"

	// CategorySymbols covers document and workspace symbol queries.
	CategorySymbols ToolCategory = "symbols"

	// CategoryIntelligence covers hover, completion and signature help.
	CategoryIntelligence ToolCategory = "intelligence"

	// CategoryEditing covers rename, code actions and formatting.
	CategoryEditing ToolCategory = "editing"

	// CategoryAdvanced covers tokens, hints, lenses, folding and links.
	CategoryAdvanced ToolCategory = "advanced"

	// CategoryWorkspace covers workspace commands.
	CategoryWorkspace ToolCategory = "workspace"
)

// String returns the string representation of the category.
func (c ToolCategory) String() string {
	return string(c)
}

// ParamType represents the JSON type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeBool   ParamType = "boolean"
	ParamTypeArray  ParamType = "array"
	ParamTypeObject ParamType = "object"
	ParamTypeAny    ParamType = ""
)

// ParamDef defines a single parameter for a tool.
type ParamDef struct {
	// Type is the parameter type. ParamTypeAny leaves it unconstrained.
	Type ParamType `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description,omitempty"`

	// Required indicates if the parameter must be provided.
	Required bool `json:"required"`

	// Items defines the element type for arrays.
	Items *ParamDef `json:"items,omitempty"`

	// Properties defines object properties.
	Properties map[string]ParamDef `json:"properties,omitempty"`
}

// ToolDefinition describes a tool's interface to the MCP client.
type ToolDefinition struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Category    ToolCategory        `json:"category"`
	Parameters  map[string]ParamDef `json:"parameters"`
}

// RequiredParams returns the required parameter names, sorted.
func (d *ToolDefinition) RequiredParams() []string {
	return requiredOf(d.Parameters)
}

// InputSchema renders the parameters as a JSON Schema object.
func (d *ToolDefinition) InputSchema() *jsonschema.Schema {
	return objectSchema("", d.Parameters)
}

func (p ParamDef) schema() *jsonschema.Schema {
	switch p.Type {
	case ParamTypeObject:
		return objectSchema(p.Description, p.Properties)
	case ParamTypeArray:
		s := &jsonschema.Schema{Type: string(ParamTypeArray), Description: p.Description}
		if p.Items != nil {
			s.Items = p.Items.schema()
		} else {
			s.Items = &jsonschema.Schema{}
		}
		return s
	default:
		return &jsonschema.Schema{Type: string(p.Type), Description: p.Description}
	}
}

func objectSchema(description string, props map[string]ParamDef) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:        string(ParamTypeObject),
		Description: description,
		Properties:  make(map[string]*jsonschema.Schema, len(props)),
		Required:    requiredOf(props),
	}
	for name, p := range props {
		s.Properties[name] = p.schema()
	}
	return s
}

func requiredOf(props map[string]ParamDef) []string {
	var required []string
	for name, p := range props {
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return required
}

// ValidationError reports a bad or missing tool argument.
type ValidationError struct {
	// Parameter is the argument name, with an index for list elements.
	Parameter string `json:"parameter"`

	// Message describes the failure.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Parameter + " " + e.Message
}
