// Package graph validates workflow definitions and answers structural
// questions about them: neighbours, reachability, topological order and the
// fan-out scope table.
package graph

import (
	"slices"

	"github.com/dukex/aide/pkg/models"
)

// Graph is a read-only adjacency index over a definition.
type Graph struct {
	def   *models.Definition
	nodes map[string]*models.Node
	out   map[string][]models.Edge
	in    map[string][]models.Edge
}

func New(def *models.Definition) *Graph {
	g := &Graph{
		def:   def,
		nodes: make(map[string]*models.Node, len(def.Nodes)),
		out:   make(map[string][]models.Edge),
		in:    make(map[string][]models.Edge),
	}

	for i := range def.Nodes {
		g.nodes[def.Nodes[i].ID] = &def.Nodes[i]
	}

	for _, e := range def.Edges {
		g.out[e.SourceNode()] = append(g.out[e.SourceNode()], e)
		g.in[e.TargetNode()] = append(g.in[e.TargetNode()], e)
	}

	return g
}

func (g *Graph) Definition() *models.Definition { return g.def }

func (g *Graph) Node(id string) (*models.Node, bool) {
	n, ok := g.nodes[id]

	return n, ok
}

func (g *Graph) Outgoing(id string) []models.Edge { return g.out[id] }

func (g *Graph) Incoming(id string) []models.Edge { return g.in[id] }

// Successors returns distinct direct successors in edge order.
func (g *Graph) Successors(id string) []string {
	return distinct(g.out[id], models.Edge.TargetNode)
}

// Predecessors returns distinct direct predecessors in edge order.
func (g *Graph) Predecessors(id string) []string {
	return distinct(g.in[id], models.Edge.SourceNode)
}

// EntryNodes returns nodes without incoming edges, in definition order.
func (g *Graph) EntryNodes() []string {
	var ids []string

	for _, n := range g.def.Nodes {
		if len(g.in[n.ID]) == 0 {
			ids = append(ids, n.ID)
		}
	}

	return ids
}

// Descendants returns every node reachable from id, excluding id itself.
func (g *Graph) Descendants(id string) map[string]bool {
	return g.reach(id, g.Successors)
}

// Ancestors returns every node from which id is reachable, excluding id.
func (g *Graph) Ancestors(id string) map[string]bool {
	return g.reach(id, g.Predecessors)
}

func (g *Graph) reach(start string, next func(string) []string) map[string]bool {
	seen := make(map[string]bool)
	stack := slices.Clone(next(start))

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[id] || id == start {
			continue
		}

		seen[id] = true
		stack = append(stack, next(id)...)
	}

	return seen
}

// TopologicalOrder returns the nodes in a dependency-respecting order, ties
// broken by definition order. ok is false if the graph has a cycle, in which
// case cycleNode names a node on a cycle.
func (g *Graph) TopologicalOrder() (order []string, cycleNode string, ok bool) {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.def.Nodes {
		indeg[n.ID] = len(g.Predecessors(n.ID))
	}

	var queue []string

	for _, n := range g.def.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, succ := range g.Successors(id) {
			indeg[succ]--
			if indeg[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) == len(g.def.Nodes) {
		return order, "", true
	}

	return order, g.findCycle(), false
}

// findCycle walks nodes left unordered by Kahn's algorithm and returns one
// that lies on a cycle.
func (g *Graph) findCycle() string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.nodes))

	var visit func(id string) string

	visit = func(id string) string {
		color[id] = grey

		for _, succ := range g.Successors(id) {
			switch color[succ] {
			case grey:
				return succ
			case white:
				if found := visit(succ); found != "" {
					return found
				}
			}
		}

		color[id] = black

		return ""
	}

	for _, n := range g.def.Nodes {
		if color[n.ID] == white {
			if found := visit(n.ID); found != "" {
				return found
			}
		}
	}

	return ""
}

func distinct(edges []models.Edge, pick func(models.Edge) string) []string {
	var ids []string

	for _, e := range edges {
		id := pick(e)
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	return ids
}
