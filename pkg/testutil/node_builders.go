// Package testutil provides test data builders for workflow definitions.
package testutil

import (
	"github.com/google/uuid"

	"github.com/dukex/aide/pkg/models"
)

// CreateTestNode creates a transform node with default values that can be overridden.
func CreateTestNode(id string, overrides ...func(*models.Node)) models.Node {
	node := models.Node{
		ID:   id,
		Type: models.NodeTypeTransform,
		Name: "Test Node " + id,
	}

	for _, override := range overrides {
		override(&node)
	}

	return node
}

// WithTriggerNode configures the node as a trigger of the given kind.
func WithTriggerNode(kind models.TriggerKind) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeTrigger
		n.Config = map[string]any{"kind": string(kind)}

		switch kind {
		case models.TriggerSchedule:
			n.Config["cron"] = "*/5 * * * *"
			n.Config["timezone"] = "UTC"
		case models.TriggerWebhook:
			n.Config["path"] = "/hooks/" + n.ID
		case models.TriggerIntegrationEvent:
			n.Config["source"] = "mail"
			n.Config["event_type"] = "received"
		}
	}
}

func WithType(t models.NodeType, kind string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = t

		if kind != "" {
			if n.Config == nil {
				n.Config = map[string]any{}
			}

			n.Config["kind"] = kind
		}
	}
}

func WithFanOut() func(*models.Node) {
	return WithType(models.NodeTypeControlFlow, string(models.ControlFlowFanOut))
}

// WithFanIn makes the node a fan-in closing fanOut with the given input ports.
func WithFanIn(fanOut string, inputs ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = models.NodeTypeControlFlow
		n.Config = map[string]any{"kind": string(models.ControlFlowFanIn), "closes": fanOut}

		if len(inputs) == 0 {
			inputs = []string{models.PortItem}
		}

		n.Inputs = nil
		for _, name := range inputs {
			n.Inputs = append(n.Inputs, models.Port{Name: name, Schema: models.AnySchema(), Required: true})
		}
	}
}

func WithOutputNode(kind models.OutputKind) func(*models.Node) {
	return WithType(models.NodeTypeOutput, string(kind))
}

// WithConfig merges keys into the node configuration.
func WithConfig(config map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		if n.Config == nil {
			n.Config = map[string]any{}
		}

		for k, v := range config {
			n.Config[k] = v
		}
	}
}

func WithInputs(ports ...models.Port) func(*models.Node) {
	return func(n *models.Node) {
		n.Inputs = ports
	}
}

func WithOutputs(ports ...models.Port) func(*models.Node) {
	return func(n *models.Node) {
		n.Outputs = ports
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// Link connects the default ports "from:output" -> "to:input" unless ports
// are given explicitly as "node:port".
func Link(from, to string) models.Edge {
	src, dst := from, to

	if _, _, ok := models.ParsePortID(from); !ok {
		src = models.MakePortID(from, models.PortOutput)
	}

	if _, _, ok := models.ParsePortID(to); !ok {
		dst = models.MakePortID(to, models.PortInput)
	}

	return models.Edge{SourcePort: src, TargetPort: dst}
}

// CreateTestDefinition assembles a definition with a random id.
func CreateTestDefinition(nodes []models.Node, edges ...models.Edge) *models.Definition {
	return &models.Definition{
		ID:      uuid.NewString(),
		Version: 1,
		Name:    "test workflow",
		Nodes:   nodes,
		Edges:   edges,
	}
}

// LinearDefinition is A (manual trigger) -> B (transform) -> C (log output).
func LinearDefinition() *models.Definition {
	return CreateTestDefinition(
		[]models.Node{
			CreateTestNode("A", WithTriggerNode(models.TriggerManual)),
			CreateTestNode("B"),
			CreateTestNode("C", WithOutputNode(models.OutputLog)),
		},
		Link("A", "B"),
		Link("B", "C"),
	)
}

// FanOutDefinition is T -> S (transform) -> F (fan-out) -> D -> J (fan-in) -> O.
func FanOutDefinition() *models.Definition {
	return CreateTestDefinition(
		[]models.Node{
			CreateTestNode("T", WithTriggerNode(models.TriggerManual)),
			CreateTestNode("S"),
			CreateTestNode("F", WithFanOut()),
			CreateTestNode("D"),
			CreateTestNode("J", WithFanIn("F")),
			CreateTestNode("O", WithOutputNode(models.OutputLog)),
		},
		Link("T", "S"),
		Link("S", "F:items"),
		Link("F:item", "D"),
		Link("D", "J:item"),
		Link("J:items", "O"),
	)
}
