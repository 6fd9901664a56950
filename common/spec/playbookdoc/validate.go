package playbookdoc

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "https://jimu.schemas.local/playbook.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("playbook schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("playbook schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Parse validates a YAML document against the playbook schema and decodes
// it. It is the only way documents enter the system.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("playbook parse: %w", err)
	}
	if err := validateRaw(raw); err != nil {
		return nil, err
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("playbook parse: %w", err)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks a decoded document. Parse already calls it.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document must not be nil")
	}
	if err := validateRaw(doc); err != nil {
		return err
	}
	for i, s := range doc.Steps {
		if strings.TrimSpace(s.Text) == "" {
			return fmt.Errorf("steps[%d]: text must not be blank", i)
		}
	}
	if strings.TrimSpace(doc.Metadata.Title) == "" {
		return fmt.Errorf("metadata.title must not be blank")
	}
	return nil
}

// validateRaw runs the schema over v after a JSON round trip, which turns
// YAML scalars and Go structs into the value types the validator expects.
func validateRaw(v any) error {
	s, err := schema()
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("playbook is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return fmt.Errorf("playbook is not representable as JSON: %w", err)
	}
	v = generic
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("playbook schema validation: %w", err)
	}
	return nil
}

// Render encodes doc as YAML. Parse(Render(doc)) yields an equal document.
func Render(doc *Document) ([]byte, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("playbook render: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("playbook render: %w", err)
	}
	return buf.Bytes(), nil
}
