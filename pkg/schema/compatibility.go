// Package schema holds the port-schema compatibility predicate used at
// definition validation time and the JSON Schema validator used by workers
// on produced output.
package schema

import "github.com/dukex/aide/pkg/models"

// Compatibility decides whether data produced under one schema may flow into
// a port accepting another, and computes the common shape of several
// producers for fan-in aggregation.
type Compatibility interface {
	Compatible(produced, accepted models.Schema) bool
	Intersect(a, b models.Schema) (models.Schema, bool)
}

// TypeCompatibility compares the top-level "type" keyword only. The empty
// schema is compatible with everything. An "integer" producer satisfies a
// "number" consumer. Schemas without a type are treated as compatible.
type TypeCompatibility struct{}

var _ Compatibility = TypeCompatibility{}

func (TypeCompatibility) Compatible(produced, accepted models.Schema) bool {
	if produced.IsAny() || accepted.IsAny() {
		return true
	}

	pt, at := produced.Type(), accepted.Type()
	if pt == "" || at == "" {
		return true
	}

	if pt == at {
		if pt == "array" {
			return TypeCompatibility{}.Compatible(produced.Items(), accepted.Items())
		}

		return true
	}

	return pt == "integer" && at == "number"
}

func (c TypeCompatibility) Intersect(a, b models.Schema) (models.Schema, bool) {
	switch {
	case a.IsAny():
		return b, true
	case b.IsAny():
		return a, true
	}

	at, bt := a.Type(), b.Type()

	switch {
	case at == bt:
		return a, true
	case at == "":
		return b, true
	case bt == "":
		return a, true
	case at == "integer" && bt == "number", at == "number" && bt == "integer":
		return models.TypeSchema("integer"), true
	default:
		return nil, false
	}
}

// IntersectAll folds Intersect across schemas; ok is false when any pair has
// no common shape or the list is empty.
func IntersectAll(c Compatibility, schemas []models.Schema) (models.Schema, bool) {
	if len(schemas) == 0 {
		return nil, false
	}

	common := schemas[0]

	for _, s := range schemas[1:] {
		var ok bool

		common, ok = c.Intersect(common, s)
		if !ok {
			return nil, false
		}
	}

	return common, true
}
