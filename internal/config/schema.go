package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed wheelguard_schema.json
var schemaBytes []byte

var (
	schema     *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaBytes) == 0 {
			schemaErr = fmt.Errorf("embedded config schema is empty")
			return
		}
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile config schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// SchemaError lists every schema violation found in a document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "config failed schema validation:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// ValidateWithSchema checks a YAML document against the embedded schema.
// An empty document is valid.
func ValidateWithSchema(documentYAML []byte) error {
	s, err := loadSchema()
	if err != nil {
		return err
	}

	var doc interface{}
	if err := yaml.Unmarshal(documentYAML, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		return nil
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	se := &SchemaError{}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" || field == "" {
			field = desc.Context().String()
		}
		se.Problems = append(se.Problems, fmt.Sprintf("%s: %s", field, desc.Description()))
	}
	return se
}
