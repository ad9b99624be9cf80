package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a JSON Schema that model output must satisfy before it is used
type Schema struct {
	name string
	raw  string

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema wraps a JSON Schema document. Compilation happens on first use.
func NewSchema(name, raw string) *Schema {
	return &Schema{name: name, raw: raw}
}

// Name returns the schema resource name
func (s *Schema) Name() string {
	return s.name
}

// Raw returns the schema document, suitable for embedding in a prompt
func (s *Schema) Raw() string {
	return s.raw
}

// Compile compiles the schema once and returns any compile error
func (s *Schema) Compile() error {
	_, err := s.load()
	return err
}

func (s *Schema) load() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource(s.name, strings.NewReader(s.raw)); err != nil {
			s.err = fmt.Errorf("add schema resource %s: %w", s.name, err)
			return
		}
		compiled, err := compiler.Compile(s.name)
		if err != nil {
			s.err = fmt.Errorf("compile schema %s: %w", s.name, err)
			return
		}
		s.compiled = compiled
	})
	return s.compiled, s.err
}

// Decode validates text against the schema and unmarshals it into out.
// Any mismatch is reported as ErrSchemaViolation; values are never coerced.
func (s *Schema) Decode(text string, out any) error {
	schema, err := s.load()
	if err != nil {
		return err
	}

	value, err := decodeStrictJSON([]byte(StripCodeFence(text)))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	if out == nil {
		return nil
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", s.name, err)
	}
	if err := json.Unmarshal(normalized, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.name, err)
	}
	return nil
}

// StripCodeFence removes a surrounding ```json fence that chat models like to add
func StripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = strings.TrimPrefix(t, "json")
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("response contains trailing content")
	}
	return value, nil
}
