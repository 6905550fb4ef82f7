package dsl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// requiredFields lists the top-level keys every document must carry, in the
// order they are checked.
var requiredFields = []string{"id", "name", "description", "version", "tools", "events", "steps"}

// Parser parses workflow documents.
type Parser struct {
	// Strict applies ValidateDefinition instead of Validate.
	Strict bool
}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a JSON workflow document with the default parser.
func Parse(data []byte) (*Workflow, error) {
	return NewParser().Parse(data)
}

// ParseFile reads and parses a workflow document. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON.
func (p *Parser) ParseFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return p.ParseYAML(data)
	default:
		return p.Parse(data)
	}
}

// Parse parses JSON content into a Workflow.
func (p *Parser) Parse(data []byte) (*Workflow, error) {
	// First pass: generic value, so shape errors can be reported precisely.
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return p.decode(raw)
}

// ParseYAML parses YAML content into a Workflow.
func (p *Parser) ParseYAML(data []byte) (*Workflow, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return p.decode(raw)
}

// decode checks the generic shape of a document and converts it into a
// typed Workflow.
func (p *Parser) decode(raw any) (*Workflow, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errNotObject()
	}

	for _, field := range requiredFields {
		if v, ok := m[field]; !ok || v == nil {
			return nil, errMissingField(field)
		}
	}
	if _, ok := m["events"].([]any); !ok {
		return nil, &ValidationError{Field: "events", Message: "DSL must have at least 2 events"}
	}
	if _, ok := m["steps"].([]any); !ok {
		return nil, &ValidationError{Field: "steps", Message: "DSL must have at least 1 step"}
	}

	// Second pass: typed structure.
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var wf Workflow
	if err := json.Unmarshal(encoded, &wf); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &ValidationError{
				Field:   typeErr.Field,
				Message: fmt.Sprintf("DSL field %s must be %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value),
			}
		}
		return nil, fmt.Errorf("decode workflow: %w", err)
	}

	if p.Strict {
		err = ValidateDefinition(&wf)
	} else {
		err = Validate(&wf)
	}
	if err != nil {
		return nil, err
	}

	return &wf, nil
}
