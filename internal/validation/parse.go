package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/blockflow/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for the declarative workflow
// document. Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://blockflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "name", "start_block", "blocks", "config"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "start_block": { "type": "string", "minLength": 1 },
    "blocks": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": { "$ref": "#/$defs/block" }
    },
    "global_guards": {
      "type": "array",
      "items": { "$ref": "#/$defs/guard" }
    },
    "block_guards": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": { "$ref": "#/$defs/guard" }
      }
    },
    "config": { "$ref": "#/$defs/config" },
    "metadata": { "type": "object" },
    "variables": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "block": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "provider": { "type": "string" },
        "next_on_success": { "type": "string" },
        "next_on_failure": { "type": "string" },
        "config": { "type": "object" },
        "display_name": { "type": "string" },
        "description": { "type": "string" }
      },
      "additionalProperties": false
    },
    "guard": {
      "type": "object",
      "required": ["type", "severity", "phase"],
      "properties": {
        "id": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "config": { "type": "object" },
        "severity": {
          "type": "string",
          "enum": ["critical", "error", "warning"]
        },
        "category": { "type": "string" },
        "failure_block": { "type": "string" },
        "phase": {
          "type": "string",
          "enum": ["pre", "post"]
        }
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_retries": { "type": "integer", "minimum": 0 },
        "initial_delay": { "$ref": "#/$defs/duration" },
        "max_delay": { "$ref": "#/$defs/duration" },
        "strategy": {
          "type": "string",
          "enum": ["immediate", "fixed", "linear", "exponential"]
        },
        "multiplier": { "type": "number" }
      },
      "additionalProperties": false
    },
    "config": {
      "type": "object",
      "required": ["timeout"],
      "properties": {
        "timeout": { "$ref": "#/$defs/duration" },
        "retry": { "$ref": "#/$defs/retry" },
        "max_concurrent_blocks": { "type": "integer", "minimum": 1 },
        "persist_state_after_each_block": { "type": "boolean" },
        "reevaluate_guards_on_retry": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  }
}`

// ParseErrorKind distinguishes malformed JSON from well-formed documents
// that violate the workflow contract.
type ParseErrorKind string

const (
	ParseSyntax  ParseErrorKind = "syntax"
	ParseLogical ParseErrorKind = "logical"
)

// ParseError is the structured outcome of a failed ParseDefinition call.
// Syntax errors carry the line/column of the offending byte; logical errors
// carry the individual contract violations.
type ParseError struct {
	Kind       ParseErrorKind `json:"kind"`
	Line       int            `json:"line,omitempty"`
	Column     int            `json:"column,omitempty"`
	Message    string         `json:"message"`
	Violations []string       `json:"violations,omitempty"`
}

func (e *ParseError) Error() string {
	if e.Kind == ParseSyntax {
		return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("invalid workflow document: %s", e.Message)
}

// Parser turns declarative JSON documents into workflow definitions.
// Safe for concurrent use: the compiled schema is immutable.
type Parser struct {
	workflowSchema *jsonschema.Schema
}

// NewParser compiles the embedded workflow schema.
func NewParser() (*Parser, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://blockflow.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://blockflow.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &Parser{workflowSchema: compiled}, nil
}

// ParseDefinition decodes and validates a declarative workflow document.
// On failure the returned error is always a *ParseError; structural analysis
// beyond the document contract (cycles, transition integrity) is left to
// Validate.
func (p *Parser) ParseDefinition(data []byte) (*schema.WorkflowDefinition, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, syntaxError(data, err)
	}

	if err := p.workflowSchema.Validate(doc); err != nil {
		return nil, &ParseError{
			Kind:       ParseLogical,
			Message:    "workflow document violates the schema",
			Violations: collectViolations(err),
		}
	}

	var def schema.WorkflowDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, &ParseError{
			Kind:       ParseLogical,
			Message:    "workflow document does not decode",
			Violations: []string{err.Error()},
		}
	}

	// Minimal logical check beyond the document contract; the full
	// referential analysis belongs to the validator.
	if _, ok := def.Blocks[def.StartBlock]; !ok {
		return nil, &ParseError{
			Kind:    ParseLogical,
			Message: fmt.Sprintf("start block %q is not defined in blocks", def.StartBlock),
		}
	}

	// The document contract leaves max_concurrent_blocks optional; the
	// validator does not. Sequential execution is the default.
	if def.Config.MaxConcurrentBlocks == 0 {
		def.Config.MaxConcurrentBlocks = 1
	}

	return &def, nil
}

// syntaxError maps a JSON decoding failure to a ParseError with line/column
// derived from the byte offset.
func syntaxError(data []byte, err error) *ParseError {
	pe := &ParseError{Kind: ParseSyntax, Line: 1, Column: 1, Message: err.Error()}

	var offset int64 = -1
	if syn, ok := err.(*json.SyntaxError); ok {
		offset = syn.Offset
	}
	if offset < 0 || offset > int64(len(data)) {
		return pe
	}

	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	pe.Line = line
	pe.Column = col
	return pe
}

// collectViolations walks a jsonschema validation error tree and collects
// leaf messages with their instance locations.
func collectViolations(err error) []string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	return walkViolations(verr)
}

func walkViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, walkViolations(cause)...)
	}
	return violations
}
