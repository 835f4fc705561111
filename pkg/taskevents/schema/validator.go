// Package schema validates event payloads against JSON Schemas and migrates
// payloads produced under older schema versions.
//
// Every payload is checked against the embedded envelope schema. Event types
// can additionally register their own schema; validation then checks both.
package schema

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	teverrors "github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/errors"
)

//go:embed envelope_schema.json
var envelopeSchemaBytes []byte

var (
	envelopeSchema *gojsonschema.Schema
	envelopeOnce   sync.Once
	envelopeErr    error
)

func loadEnvelopeSchema() (*gojsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		if len(envelopeSchemaBytes) == 0 {
			envelopeErr = fmt.Errorf("embedded envelope schema is empty")
			return
		}
		envelopeSchema, envelopeErr = gojsonschema.NewSchema(
			gojsonschema.NewBytesLoader(envelopeSchemaBytes))
		if envelopeErr != nil {
			envelopeErr = fmt.Errorf("compile envelope schema: %w", envelopeErr)
		}
	})
	return envelopeSchema, envelopeErr
}

// Result is the outcome of one validation.
type Result struct {
	// Valid is true when the payload satisfied every applicable schema.
	Valid bool

	// Problems lists human-readable violations when Valid is false.
	Problems []string
}

// Validator validates payloads. Safe for concurrent use.
type Validator struct {
	mu      sync.RWMutex
	byType  map[string]*gojsonschema.Schema
	rawJSON map[string]string
}

// NewValidator creates a validator with only the envelope schema active.
func NewValidator() *Validator {
	return &Validator{
		byType:  make(map[string]*gojsonschema.Schema),
		rawJSON: make(map[string]string),
	}
}

// RegisterSchema compiles and registers a JSON Schema for one event type,
// replacing any previous schema for that type.
func (v *Validator) RegisterSchema(eventType string, schemaJSON []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("compile schema for %q: %w", eventType, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.byType[eventType] = compiled
	v.rawJSON[eventType] = string(schemaJSON)
	return nil
}

// HasSchema reports whether a type-specific schema is registered.
func (v *Validator) HasSchema(eventType string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.byType[eventType]
	return ok
}

// Validate checks a payload against the envelope schema and, when present,
// the event type's registered schema. A schema-machinery failure is returned
// as an error, distinct from a payload that is merely invalid.
func (v *Validator) Validate(eventType string, payload map[string]any) (*Result, error) {
	envelope, err := loadEnvelopeSchema()
	if err != nil {
		return nil, err
	}

	res := &Result{Valid: true}

	loader := gojsonschema.NewGoLoader(payload)
	if err := runSchema(envelope, loader, res); err != nil {
		return nil, fmt.Errorf("envelope validation: %w", err)
	}

	v.mu.RLock()
	typed := v.byType[eventType]
	v.mu.RUnlock()

	if typed != nil {
		if err := runSchema(typed, loader, res); err != nil {
			return nil, fmt.Errorf("schema validation for %q: %w", eventType, err)
		}
	}

	return res, nil
}

// ValidateStrict is Validate returning a ValidationError when the payload is
// invalid, for callers that treat invalid payloads as hard failures.
func (v *Validator) ValidateStrict(eventType string, payload map[string]any) error {
	res, err := v.Validate(eventType, payload)
	if err != nil {
		return err
	}
	if !res.Valid {
		return &teverrors.ValidationError{EventType: eventType, Problems: res.Problems}
	}
	return nil
}

func runSchema(schema *gojsonschema.Schema, loader gojsonschema.JSONLoader, res *Result) error {
	out, err := schema.Validate(loader)
	if err != nil {
		return err
	}
	if !out.Valid() {
		res.Valid = false
		for _, desc := range out.Errors() {
			res.Problems = append(res.Problems, desc.String())
		}
	}
	return nil
}
