// Package validate checks request bodies against embedded JSON schemas before
// they are decoded into typed payloads.
package validate

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"AegisNet/internal/model"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const baseURL = "https://aegisnet.local/schemas/"

// Kind names a request schema.
type Kind string

const (
	KindIngest    Kind = "ingest"
	KindScore     Kind = "score"
	KindScoreBulk Kind = "score_bulk"
)

var kinds = []Kind{KindIngest, KindScore, KindScoreBulk}

// ErrInvalidJSON is returned for bodies that are not JSON at all.
var ErrInvalidJSON = fmt.Errorf("%w: invalid JSON", model.ErrMalformed)

// SchemaError reports a body that is JSON but violates its schema.
type SchemaError struct {
	Kind Kind
	Err  error
}

func (e *SchemaError) Error() string {
	var ve *jsonschema.ValidationError
	if errors.As(e.Err, &ve) {
		return fmt.Sprintf("%s request: %s", e.Kind, leafMessage(ve))
	}
	return fmt.Sprintf("%s request: %v", e.Kind, e.Err)
}

// Unwrap classifies schema violations as malformed input.
func (e *SchemaError) Unwrap() error {
	return model.ErrMalformed
}

// leafMessage picks the most specific cause of a validation failure.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}

// Validator holds the compiled request schemas. It is safe for concurrent use.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
	logger  *slog.Logger
}

// New compiles the embedded schemas.
func New(logger *slog.Logger) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list embedded schemas: %w", err)
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
		}
		if err := compiler.AddResource(baseURL+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", e.Name(), err)
		}
	}

	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema, len(kinds)), logger: logger}
	for _, k := range kinds {
		schema, err := compiler.Compile(baseURL + string(k) + ".json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", k, err)
		}
		v.schemas[k] = schema
	}
	logger.Info("Schema validator initialized", "schemas", len(v.schemas))
	return v, nil
}

// Validate checks body against the schema of kind.
func (v *Validator) Validate(kind Kind, body []byte) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown schema kind %q", kind)
	}
	doc, err := unmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := schema.Validate(doc); err != nil {
		v.logger.Debug("request validation failed", "kind", kind, "error", err)
		return &SchemaError{Kind: kind, Err: err}
	}
	return nil
}

// unmarshalJSON decodes a raw JSON value the way jsonschema/v5 expects
// (numbers kept as json.Number, trailing data rejected).
func unmarshalJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if t, _ := dec.Token(); t != nil {
		return nil, fmt.Errorf("invalid character %v after top-level value", t)
	}
	return doc, nil
}

// Decode validates body and then unmarshals it into out.
func (v *Validator) Decode(kind Kind, body []byte, out any) error {
	if err := v.Validate(kind, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &SchemaError{Kind: kind, Err: err}
	}
	return nil
}

// IsSchemaError reports whether err is a schema violation.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
