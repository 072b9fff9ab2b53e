package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/schema"
)

func TestTypeCompatibility_Compatible(t *testing.T) {
	c := schema.TypeCompatibility{}

	tests := []struct {
		name     string
		produced models.Schema
		accepted models.Schema
		want     bool
	}{
		{"any accepts string", models.TypeSchema("string"), models.AnySchema(), true},
		{"any produced into string", models.AnySchema(), models.TypeSchema("string"), true},
		{"same type", models.TypeSchema("object"), models.TypeSchema("object"), true},
		{"different type", models.TypeSchema("string"), models.TypeSchema("number"), false},
		{"integer into number", models.TypeSchema("integer"), models.TypeSchema("number"), true},
		{"number into integer", models.TypeSchema("number"), models.TypeSchema("integer"), false},
		{"untyped schema", models.Schema{"enum": []any{"a"}}, models.TypeSchema("string"), true},
		{"array items mismatch", models.ArrayOf(models.TypeSchema("string")), models.ArrayOf(models.TypeSchema("number")), false},
		{"array items match", models.ArrayOf(models.TypeSchema("string")), models.ArrayOf(nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Compatible(tt.produced, tt.accepted))
		})
	}
}

func TestIntersectAll(t *testing.T) {
	c := schema.TypeCompatibility{}

	common, ok := schema.IntersectAll(c, []models.Schema{models.AnySchema(), models.TypeSchema("object"), models.TypeSchema("object")})
	require.True(t, ok)
	assert.Equal(t, "object", common.Type())

	_, ok = schema.IntersectAll(c, []models.Schema{models.TypeSchema("string"), models.TypeSchema("object")})
	assert.False(t, ok)

	_, ok = schema.IntersectAll(c, nil)
	assert.False(t, ok)
}

func TestJSONSchemaValidator(t *testing.T) {
	v := schema.NewValidator()

	s := models.Schema{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}

	require.NoError(t, v.Validate(s, map[string]any{"name": "x"}))

	err := v.Validate(s, map[string]any{"name": 1})
	require.Error(t, err)

	var failure *schema.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.NotEmpty(t, failure.Errors)

	assert.NoError(t, v.Validate(models.AnySchema(), 42))
}

func TestCheckSchema(t *testing.T) {
	assert.NoError(t, schema.CheckSchema(models.TypeSchema("string")))
	assert.Error(t, schema.CheckSchema(models.Schema{"type": 12}))
}
