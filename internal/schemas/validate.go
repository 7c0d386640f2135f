// Package schemas validates model output against the embedded JSON Schemas.
package schemas

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Embedded schema names
const (
	Topics     = "topics.schema.json"
	Refinement = "refinement.schema.json"
)

//go:embed json/*.schema.json
var schemaFiles embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*gojsonschema.Schema
	compileErr  error
)

// ValidationError lists every violation in a document.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError is one violation. Field is a dotted path, "(root)" for the document.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	parts := make([]string, len(ve.Errors))
	for i, fe := range ve.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("%s: %s", ve.Schema, strings.Join(parts, "; "))
}

// Validate checks jsonContent against one of the embedded schemas. A document
// that is not JSON at all returns a plain error, not *ValidationError.
func Validate(name, jsonContent string) error {
	schema, err := lookup(name)
	if err != nil {
		return err
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(jsonContent))
	if err != nil {
		return fmt.Errorf("invalid JSON document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Schema: name, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}

// Names returns the embedded schema names.
func Names() []string {
	entries, _ := fs.ReadDir(schemaFiles, "json")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func lookup(name string) (*gojsonschema.Schema, error) {
	compileOnce.Do(func() { compiled, compileErr = compileAll() })
	if compileErr != nil {
		return nil, compileErr
	}
	s, ok := compiled[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return s, nil
}

func compileAll() (map[string]*gojsonschema.Schema, error) {
	out := make(map[string]*gojsonschema.Schema)
	for _, name := range Names() {
		data, err := schemaFiles.ReadFile(path.Join("json", name))
		if err != nil {
			return nil, err
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("invalid schema %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}
