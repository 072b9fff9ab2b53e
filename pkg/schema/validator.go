package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/aide/pkg/models"
)

// Validator checks a concrete value against a port schema.
type Validator interface {
	Validate(s models.Schema, value any) error
}

// ValidationFailure lists the schema violations of one value.
type ValidationFailure struct {
	Errors []string
}

func (e *ValidationFailure) Error() string {
	return "value does not match schema: " + strings.Join(e.Errors, "; ")
}

// JSONSchemaValidator validates with gojsonschema.
type JSONSchemaValidator struct{}

var _ Validator = JSONSchemaValidator{}

func NewValidator() JSONSchemaValidator {
	return JSONSchemaValidator{}
}

func (JSONSchemaValidator) Validate(s models.Schema, value any) error {
	if s.IsAny() {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(map[string]any(s)),
		gojsonschema.NewGoLoader(value),
	)
	if err != nil {
		return fmt.Errorf("failed to validate against schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	failure := &ValidationFailure{}
	for _, desc := range result.Errors() {
		failure.Errors = append(failure.Errors, desc.String())
	}

	return failure
}

// CheckSchema reports whether s is itself a loadable JSON Schema document.
func CheckSchema(s models.Schema) error {
	if s.IsAny() {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(map[string]any(s))); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	return nil
}
