// Package models defines the workflow graph, trigger, run and memory records.
package models

import "strings"

// Schema is a JSON Schema document describing structured data on a port.
// A nil or empty schema accepts anything.
type Schema map[string]any

func AnySchema() Schema { return Schema{} }

func TypeSchema(typ string) Schema { return Schema{"type": typ} }

func ArrayOf(items Schema) Schema {
	if items == nil {
		items = AnySchema()
	}

	return Schema{"type": "array", "items": map[string]any(items)}
}

// Type returns the declared "type" keyword or "" when absent.
func (s Schema) Type() string {
	t, _ := s["type"].(string)

	return t
}

func (s Schema) IsAny() bool {
	return len(s) == 0
}

// Items returns the item schema of an array schema.
func (s Schema) Items() Schema {
	switch items := s["items"].(type) {
	case map[string]any:
		return Schema(items)
	case Schema:
		return items
	default:
		return AnySchema()
	}
}

// Port is a named, schema-typed connection point on a node.
type Port struct {
	Name        string `json:"name"                  yaml:"name"                  validate:"required,excludesall=:#"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Schema      Schema `json:"schema,omitempty"      yaml:"schema,omitempty"`
	Required    bool   `json:"required,omitempty"    yaml:"required,omitempty"`
}

// ParsePortID parses a port ID in format "{node_id}:{port_name}" into components.
func ParsePortID(portID string) (string, string, bool) {
	nodeID, port, ok := strings.Cut(portID, ":")
	if !ok || nodeID == "" || port == "" {
		return "", "", false
	}

	return nodeID, port, true
}

// MakePortID creates a port ID from node ID and port name.
func MakePortID(nodeID, portName string) string {
	return nodeID + ":" + portName
}
