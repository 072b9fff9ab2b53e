package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/schema"
)

// Analysis is the structural view of a definition shared by the validator,
// the remaining-work tracker and the worker.
type Analysis struct {
	Graph  *Graph
	Scopes *ScopeTable
	Order  []string
}

// Analyze builds the adjacency index, a topological order and the scope
// table. It fails on cycles and malformed fan-out/fan-in pairings only; use
// Validator for the full construction-time check.
func Analyze(def *models.Definition) (*Analysis, error) {
	g := New(def)

	order, cycleNode, ok := g.TopologicalOrder()
	if !ok {
		return nil, ValidationErrors{cycleError(cycleNode)}
	}

	scopes, errs := buildScopes(g, order)
	if len(errs) > 0 {
		return nil, errs
	}

	return &Analysis{Graph: g, Scopes: scopes, Order: order}, nil
}

// Validator performs construction-time validation of workflow definitions.
type Validator struct {
	compat  schema.Compatibility
	structs *validator.Validate
}

func NewValidator(compat schema.Compatibility) *Validator {
	if compat == nil {
		compat = schema.TypeCompatibility{}
	}

	return &Validator{
		compat:  compat,
		structs: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate returns nil or ValidationErrors listing every defect.
func (v *Validator) Validate(def *models.Definition) error {
	var errs ValidationErrors

	if err := v.structs.Struct(def); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate definition structure: %w", err)
		}

		for _, fe := range fieldErrs {
			errs = append(errs, &ValidationError{
				Code:    CodeInvalidStructure,
				Message: fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()),
			})
		}

		return errs
	}

	errs = append(errs, v.checkNodes(def)...)
	if len(errs) > 0 {
		return errs
	}

	g := New(def)

	errs = append(errs, v.checkEdges(g)...)
	if len(errs) > 0 {
		return errs
	}

	order, cycleNode, ok := g.TopologicalOrder()
	if !ok {
		return append(errs, cycleError(cycleNode))
	}

	scopes, scopeErrs := buildScopes(g, order)
	if len(scopeErrs) > 0 {
		return append(errs, scopeErrs...)
	}

	c := &checker{v: v, g: g, scopes: scopes, order: order, effective: map[string]models.Schema{}}
	errs = append(errs, c.checkSchemas()...)
	errs = append(errs, c.checkFanOuts()...)
	errs = append(errs, c.checkFanIns()...)
	errs = append(errs, c.checkScopeEdges()...)

	if len(errs) > 0 {
		return errs
	}

	return nil
}

func cycleError(nodeID string) *ValidationError {
	return &ValidationError{Code: CodeCycleDetected, NodeID: nodeID, Message: "graph contains a cycle through this node"}
}

func (v *Validator) checkNodes(def *models.Definition) ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]bool, len(def.Nodes))

	for i := range def.Nodes {
		node := &def.Nodes[i]

		if seen[node.ID] {
			errs = append(errs, &ValidationError{Code: CodeDuplicateNode, NodeID: node.ID, Message: "node id is not unique"})
		}

		seen[node.ID] = true

		for _, p := range append(slices.Clone(node.InputPorts()), node.OutputPorts()...) {
			if err := schema.CheckSchema(p.Schema); err != nil {
				errs = append(errs, &ValidationError{Code: CodeInvalidSchema, NodeID: node.ID, Port: p.Name, Message: err.Error()})
			}
		}

		if err := v.checkConfig(node); err != nil {
			errs = append(errs, &ValidationError{Code: CodeInvalidConfig, NodeID: node.ID, Message: err.Error()})
		}
	}

	return errs
}

func (v *Validator) checkConfig(node *models.Node) error {
	var cfg any

	switch node.Type {
	case models.NodeTypeTrigger:
		tc, err := node.TriggerConfig()
		if err != nil {
			return err
		}

		if tc.Kind == models.TriggerSchedule {
			if _, _, err := models.ParseSchedule(tc.Cron, tc.Timezone); err != nil {
				return err
			}
		}

		cfg = tc
	case models.NodeTypeControlFlow:
		c, err := node.ControlFlowConfig()
		if err != nil {
			return err
		}

		cfg = c
	case models.NodeTypeMemory:
		c, err := node.MemoryConfig()
		if err != nil {
			return err
		}

		cfg = c
	case models.NodeTypeOutput:
		c, err := node.OutputConfig()
		if err != nil {
			return err
		}

		cfg = c
	default:
		return nil
	}

	return v.structs.Struct(cfg)
}

// checkEdges covers endpoint existence, destination arity and required inputs.
func (v *Validator) checkEdges(g *Graph) ValidationErrors {
	var errs ValidationErrors

	fed := make(map[string]int)

	for _, e := range g.def.Edges {
		fromNode, fromPort := e.Source()
		toNode, toPort := e.Target()

		src, ok := g.Node(fromNode)
		if !ok {
			errs = append(errs, &ValidationError{Code: CodeNodeNotFound, NodeID: fromNode, Message: "edge source node does not exist"})

			continue
		}

		dst, ok := g.Node(toNode)
		if !ok {
			errs = append(errs, &ValidationError{Code: CodeNodeNotFound, NodeID: toNode, Message: "edge target node does not exist"})

			continue
		}

		if _, ok := src.OutputPort(fromPort); !ok {
			errs = append(errs, &ValidationError{Code: CodeSourcePortNotFound, NodeID: fromNode, Port: fromPort, Message: "output port does not exist"})
		}

		if _, ok := dst.InputPort(toPort); !ok {
			errs = append(errs, &ValidationError{Code: CodeTargetPortNotFound, NodeID: toNode, Port: toPort, Message: "input port does not exist"})
		}

		fed[e.TargetPort]++
	}

	for _, n := range g.def.Nodes {
		for _, p := range n.InputPorts() {
			count := fed[models.MakePortID(n.ID, p.Name)]

			if count > 1 {
				errs = append(errs, &ValidationError{Code: CodePortArity, NodeID: n.ID, Port: p.Name, Message: fmt.Sprintf("input port receives %d edges, at most one allowed", count)})
			}

			if p.Required && count == 0 {
				errs = append(errs, &ValidationError{Code: CodeRequiredInputMissing, NodeID: n.ID, Port: p.Name, Message: "required input port has no incoming edge"})
			}
		}
	}

	return errs
}

type checker struct {
	v         *Validator
	g         *Graph
	scopes    *ScopeTable
	order     []string
	effective map[string]models.Schema
}

func (c *checker) checkSchemas() ValidationErrors {
	var errs ValidationErrors

	for _, e := range c.g.def.Edges {
		toNode, toPort := e.Target()
		dst, _ := c.g.Node(toNode)

		src, _ := c.g.Node(e.SourceNode())

		// fan-in inputs and fan-out items are checked by their own rules.
		if dst.IsFanIn() || src.IsFanOut() {
			continue
		}

		accepted, _ := dst.InputPort(toPort)
		produced := c.producedSchema(e.SourcePort)

		if !c.v.compat.Compatible(produced, accepted.Schema) {
			errs = append(errs, &ValidationError{
				Code:    CodeIncompatibleSchemas,
				NodeID:  toNode,
				Port:    toPort,
				Message: fmt.Sprintf("schema of %s is not compatible with %s", e.SourcePort, e.TargetPort),
			})
		}
	}

	return errs
}

// producedSchema is the schema a port emits after taking fan-out item
// derivation and fan-in list typing into account.
func (c *checker) producedSchema(portID string) models.Schema {
	if s, ok := c.effective[portID]; ok {
		return s
	}

	nodeID, portName, _ := models.ParsePortID(portID)
	node, _ := c.g.Node(nodeID)
	port, _ := node.OutputPort(portName)
	s := port.Schema

	switch {
	case node.IsFanOut() && s.IsAny():
		for _, in := range c.g.Incoming(nodeID) {
			if _, p := in.Target(); p == models.PortItems {
				s = c.producedSchema(in.SourcePort).Items()
			}
		}
	case node.IsFanIn():
		if common, ok := c.fanInCommon(nodeID); ok {
			s = models.ArrayOf(common)
		}
	}

	c.effective[portID] = s

	return s
}

func (c *checker) fanInCommon(nodeID string) (models.Schema, bool) {
	var schemas []models.Schema

	for _, in := range c.g.Incoming(nodeID) {
		schemas = append(schemas, c.producedSchema(in.SourcePort))
	}

	return schema.IntersectAll(c.v.compat, schemas)
}

func (c *checker) checkFanOuts() ValidationErrors {
	var errs ValidationErrors

	for _, id := range c.order {
		node, _ := c.g.Node(id)
		if !node.IsFanOut() {
			continue
		}

		if len(node.OutputPorts()) != 1 {
			errs = append(errs, &ValidationError{Code: CodeFanOutPort, NodeID: id, Message: "fan-out must expose exactly one item output port"})

			continue
		}

		itemPort := node.OutputPorts()[0].Name
		item := c.producedSchema(models.MakePortID(id, itemPort))

		for _, e := range c.g.Outgoing(id) {
			if _, p := e.Source(); p != itemPort {
				errs = append(errs, &ValidationError{Code: CodeFanOutPort, NodeID: id, Port: p, Message: "fan-out edges must start at the item port"})

				continue
			}

			childID, childPort := e.Target()
			child, _ := c.g.Node(childID)
			accepted, _ := child.InputPort(childPort)

			if !c.v.compat.Compatible(item, accepted.Schema) {
				errs = append(errs, &ValidationError{
					Code:    CodeIncompatibleSchemas,
					NodeID:  childID,
					Port:    childPort,
					Message: fmt.Sprintf("items of fan-out %s are not compatible with this child", id),
				})
			}
		}
	}

	return errs
}

func (c *checker) checkFanIns() ValidationErrors {
	var errs ValidationErrors

	for _, id := range c.order {
		node, _ := c.g.Node(id)
		if !node.IsFanIn() {
			continue
		}

		scope, _ := c.scopes.ClosedBy(id)

		if !slices.Equal(c.scopes.Chain(id), c.scopes.Chain(scope.FanOut)) {
			errs = append(errs, &ValidationError{Code: CodeFanInScope, NodeID: id, Message: "fan-in must sit in the same scope as its fan-out"})
		}

		incoming := c.g.Incoming(id)
		if len(incoming) == 0 {
			errs = append(errs, &ValidationError{Code: CodeFanInScope, NodeID: id, Message: "fan-in has no incoming edges"})

			continue
		}

		for _, e := range incoming {
			if src := e.SourceNode(); !scope.FanInScope[src] {
				errs = append(errs, &ValidationError{
					Code:    CodeFanInScope,
					NodeID:  id,
					Message: fmt.Sprintf("input from %s lies outside the scope of fan-out %s", src, scope.FanOut),
				})
			}
		}

		if _, ok := c.fanInCommon(id); !ok {
			errs = append(errs, &ValidationError{Code: CodeFanInIntersection, NodeID: id, Message: "incoming schemas have no common shape"})
		}
	}

	return errs
}

func (c *checker) checkScopeEdges() ValidationErrors {
	var errs ValidationErrors

	for _, e := range c.g.def.Edges {
		from, to := e.SourceNode(), e.TargetNode()

		if !c.scopes.edgeAllowed(from, to) {
			errs = append(errs, &ValidationError{
				Code:    CodeScopeEscape,
				NodeID:  from,
				Message: fmt.Sprintf("edge to %s leaves a fan-out scope without passing through its fan-in", to),
			})
		}
	}

	return errs
}
