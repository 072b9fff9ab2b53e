package models

import "time"

// Edge connects an output port to an input port. Ports are addressed as
// "{node_id}:{port_name}".
type Edge struct {
	SourcePort string `json:"source_port" yaml:"source_port" validate:"required"`
	TargetPort string `json:"target_port" yaml:"target_port" validate:"required"`
}

func NewEdge(fromNode, fromPort, toNode, toPort string) Edge {
	return Edge{SourcePort: MakePortID(fromNode, fromPort), TargetPort: MakePortID(toNode, toPort)}
}

func (e Edge) Source() (string, string) {
	node, port, _ := ParsePortID(e.SourcePort)

	return node, port
}

func (e Edge) Target() (string, string) {
	node, port, _ := ParsePortID(e.TargetPort)

	return node, port
}

func (e Edge) SourceNode() string {
	node, _ := e.Source()

	return node
}

func (e Edge) TargetNode() string {
	node, _ := e.Target()

	return node
}

// Definition is an immutable, versioned workflow graph. Saving a definition
// creates the next version; runs refer to (ID, Version).
type Definition struct {
	ID        string    `json:"id"                 yaml:"id"                 validate:"required"`
	Version   int       `json:"version"            yaml:"version"`
	Name      string    `json:"name"               yaml:"name"               validate:"required"`
	Nodes     []Node    `json:"nodes"              yaml:"nodes"              validate:"required,min=1,dive"`
	Edges     []Edge    `json:"edges"              yaml:"edges"              validate:"dive"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

func (d *Definition) Node(id string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i], true
		}
	}

	return nil, false
}

// TriggerNodes returns the nodes of type trigger in definition order.
func (d *Definition) TriggerNodes() []*Node {
	var nodes []*Node

	for i := range d.Nodes {
		if d.Nodes[i].IsTrigger() {
			nodes = append(nodes, &d.Nodes[i])
		}
	}

	return nodes
}
