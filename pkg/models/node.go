package models

import (
	"encoding/json"
	"fmt"
)

type NodeType string

const (
	NodeTypeTrigger     NodeType = "trigger"
	NodeTypeAILayer     NodeType = "ai_layer"
	NodeTypeIntegration NodeType = "integration"
	NodeTypeTransform   NodeType = "transform"
	NodeTypeControlFlow NodeType = "control_flow"
	NodeTypeMemory      NodeType = "memory"
	NodeTypeOutput      NodeType = "output"
)

type ControlFlowKind string

const (
	ControlFlowBranch   ControlFlowKind = "branch"
	ControlFlowFanOut   ControlFlowKind = "fan_out"
	ControlFlowFanIn    ControlFlowKind = "fan_in"
	ControlFlowParallel ControlFlowKind = "parallel"
	ControlFlowJoin     ControlFlowKind = "join"
)

type MemoryKind string

const (
	MemoryLoad   MemoryKind = "load"
	MemoryRecord MemoryKind = "record"
)

type OutputKind string

const (
	OutputNotify       OutputKind = "notify"
	OutputLog          OutputKind = "log"
	OutputHTTPResponse OutputKind = "http_response"
)

// Default port names.
const (
	PortInput          = "input"
	PortOutput         = "output"
	PortItems          = "items"
	PortItem           = "item"
	PortMemory         = "memory"
	PortWorkflowOutput = "workflow_output"
)

// Node is a typed step of a workflow graph. Inputs and Outputs may be left
// empty, in which case the defaults for the node type apply.
type Node struct {
	ID      string         `json:"id"                yaml:"id"                validate:"required,excludesall=:#"`
	Type    NodeType       `json:"type"              yaml:"type"              validate:"required,oneof=trigger ai_layer integration transform control_flow memory output"`
	Name    string         `json:"name,omitempty"    yaml:"name,omitempty"`
	Config  map[string]any `json:"config,omitempty"  yaml:"config,omitempty"`
	Inputs  []Port         `json:"inputs,omitempty"  yaml:"inputs,omitempty"  validate:"dive"`
	Outputs []Port         `json:"outputs,omitempty" yaml:"outputs,omitempty" validate:"dive"`
}

// Kind returns config["kind"], the variant tag inside a node type.
func (n *Node) Kind() string {
	kind, _ := n.Config["kind"].(string)

	return kind
}

func (n *Node) ControlFlowKind() ControlFlowKind {
	if n.Type != NodeTypeControlFlow {
		return ""
	}

	return ControlFlowKind(n.Kind())
}

func (n *Node) IsFanOut() bool { return n.ControlFlowKind() == ControlFlowFanOut }

func (n *Node) IsFanIn() bool { return n.ControlFlowKind() == ControlFlowFanIn }

func (n *Node) IsTrigger() bool { return n.Type == NodeTypeTrigger }

// DecodeConfig decodes the free-form config into a typed variant struct.
func (n *Node) DecodeConfig(target any) error {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config of node %s: %w", n.ID, err)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode config of node %s: %w", n.ID, err)
	}

	return nil
}

func (n *Node) TriggerConfig() (TriggerConfig, error) {
	var cfg TriggerConfig
	err := n.DecodeConfig(&cfg)

	return cfg, err
}

func (n *Node) ControlFlowConfig() (ControlFlowConfig, error) {
	var cfg ControlFlowConfig
	err := n.DecodeConfig(&cfg)

	return cfg, err
}

func (n *Node) MemoryConfig() (MemoryConfig, error) {
	var cfg MemoryConfig
	err := n.DecodeConfig(&cfg)

	return cfg, err
}

func (n *Node) OutputConfig() (OutputConfig, error) {
	var cfg OutputConfig
	err := n.DecodeConfig(&cfg)

	return cfg, err
}

// InputPorts returns the declared input ports or the type defaults.
func (n *Node) InputPorts() []Port {
	if len(n.Inputs) > 0 {
		return n.Inputs
	}

	switch n.Type {
	case NodeTypeTrigger:
		return nil
	case NodeTypeTransform, NodeTypeOutput:
		return []Port{{Name: PortInput, Schema: AnySchema(), Required: true}}
	case NodeTypeMemory:
		if MemoryKind(n.Kind()) == MemoryRecord {
			return []Port{{Name: PortWorkflowOutput, Schema: AnySchema(), Required: true}}
		}

		return nil
	case NodeTypeControlFlow:
		switch n.ControlFlowKind() {
		case ControlFlowFanOut:
			return []Port{{Name: PortItems, Schema: ArrayOf(nil), Required: true}}
		case ControlFlowFanIn:
			return nil
		}
	}

	return []Port{{Name: PortInput, Schema: AnySchema()}}
}

// OutputPorts returns the declared output ports or the type defaults.
func (n *Node) OutputPorts() []Port {
	if len(n.Outputs) > 0 {
		return n.Outputs
	}

	switch n.Type {
	case NodeTypeOutput:
		return nil
	case NodeTypeMemory:
		return []Port{{Name: PortMemory, Schema: AnySchema()}}
	case NodeTypeControlFlow:
		switch n.ControlFlowKind() {
		case ControlFlowFanOut:
			return []Port{{Name: PortItem, Schema: AnySchema()}}
		case ControlFlowFanIn:
			return []Port{{Name: PortItems, Schema: ArrayOf(nil)}}
		}
	}

	return []Port{{Name: PortOutput, Schema: AnySchema()}}
}

func (n *Node) InputPort(name string) (Port, bool) {
	return findPort(n.InputPorts(), name)
}

func (n *Node) OutputPort(name string) (Port, bool) {
	return findPort(n.OutputPorts(), name)
}

func findPort(ports []Port, name string) (Port, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}

	return Port{}, false
}

// ControlFlowConfig configures branch, fan-out, fan-in, parallel and join nodes.
// Closes names the fan-out a fan-in aggregates.
type ControlFlowConfig struct {
	Kind   ControlFlowKind `json:"kind"             validate:"required,oneof=branch fan_out fan_in parallel join"`
	Closes string          `json:"closes,omitempty" validate:"required_if=Kind fan_in"`
}

type MemoryConfig struct {
	Kind               MemoryKind `json:"kind"                          validate:"required,oneof=load record"`
	UpdateInstructions string     `json:"update_instructions,omitempty"`
}

type OutputConfig struct {
	Kind    OutputKind `json:"kind"              validate:"required,oneof=notify log http_response"`
	URL     string     `json:"url,omitempty"     validate:"required_if=Kind notify"`
	Level   string     `json:"level,omitempty"   validate:"omitempty,oneof=debug info warn error"`
	Message string     `json:"message,omitempty"`
}
