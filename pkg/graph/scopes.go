package graph

import (
	"fmt"
	"slices"
	"sort"
)

// Scope is one fan-out region. Region holds the nodes executed once per item;
// FanInScope is the subset from which the closing fan-in is reachable.
type Scope struct {
	ID         int
	FanOut     string
	FanIn      string
	Parent     int
	Region     map[string]bool
	FanInScope map[string]bool
}

// ScopeTable is a flat arena of fan-out scopes plus, per node, the chain of
// enclosing scope ids from outermost to innermost.
type ScopeTable struct {
	Scopes   []Scope
	chains   map[string][]int
	byFanOut map[string]int
	byFanIn  map[string]int
}

func (t *ScopeTable) Chain(nodeID string) []int { return t.chains[nodeID] }

func (t *ScopeTable) Depth(nodeID string) int { return len(t.chains[nodeID]) }

func (t *ScopeTable) Scope(id int) *Scope { return &t.Scopes[id] }

// OfFanOut returns the scope opened by a fan-out node.
func (t *ScopeTable) OfFanOut(nodeID string) (*Scope, bool) {
	id, ok := t.byFanOut[nodeID]
	if !ok {
		return nil, false
	}

	return &t.Scopes[id], true
}

// ClosedBy returns the scope a fan-in node closes.
func (t *ScopeTable) ClosedBy(nodeID string) (*Scope, bool) {
	id, ok := t.byFanIn[nodeID]
	if !ok {
		return nil, false
	}

	return &t.Scopes[id], true
}

// Innermost returns the innermost scope enclosing nodeID.
func (t *ScopeTable) Innermost(nodeID string) (*Scope, bool) {
	chain := t.chains[nodeID]
	if len(chain) == 0 {
		return nil, false
	}

	return &t.Scopes[chain[len(chain)-1]], true
}

// buildScopes expects an acyclic graph.
func buildScopes(g *Graph, order []string) (*ScopeTable, ValidationErrors) {
	var errs ValidationErrors

	t := &ScopeTable{
		chains:   make(map[string][]int),
		byFanOut: make(map[string]int),
		byFanIn:  make(map[string]int),
	}

	closer := make(map[string]string)

	for _, id := range order {
		node, _ := g.Node(id)
		if !node.IsFanIn() {
			continue
		}

		cfg, err := node.ControlFlowConfig()
		if err != nil {
			errs = append(errs, &ValidationError{Code: CodeInvalidConfig, NodeID: id, Message: err.Error()})

			continue
		}

		target, ok := g.Node(cfg.Closes)

		switch {
		case cfg.Closes == "":
			errs = append(errs, &ValidationError{Code: CodeFanInCloses, NodeID: id, Message: "fan-in must name the fan-out it closes"})
		case !ok || !target.IsFanOut():
			errs = append(errs, &ValidationError{Code: CodeFanInCloses, NodeID: id, Message: fmt.Sprintf("closes edge points at %q which is not a fan-out node", cfg.Closes)})
		case closer[cfg.Closes] != "":
			errs = append(errs, &ValidationError{Code: CodeFanInCloses, NodeID: id, Message: fmt.Sprintf("fan-out %s is already closed by %s", cfg.Closes, closer[cfg.Closes])})
		case !g.Descendants(cfg.Closes)[id]:
			errs = append(errs, &ValidationError{Code: CodeFanInCloses, NodeID: id, Message: fmt.Sprintf("fan-out %s does not reach this fan-in", cfg.Closes)})
		default:
			closer[cfg.Closes] = id
		}
	}

	for _, id := range order {
		node, _ := g.Node(id)
		if !node.IsFanOut() {
			continue
		}

		region := g.Descendants(id)
		scope := Scope{ID: len(t.Scopes), FanOut: id, Parent: -1, Region: region, FanInScope: map[string]bool{}}

		if fanIn, ok := closer[id]; ok {
			scope.FanIn = fanIn
			delete(region, fanIn)

			for d := range g.Descendants(fanIn) {
				delete(region, d)
			}

			ancestors := g.Ancestors(fanIn)
			for n := range region {
				if ancestors[n] {
					scope.FanInScope[n] = true
				}
			}

			t.byFanIn[fanIn] = scope.ID
		}

		t.byFanOut[id] = scope.ID
		t.Scopes = append(t.Scopes, scope)
	}

	// depth of a scope is the number of scopes whose region holds its fan-out.
	depth := make([]int, len(t.Scopes))
	for i := range t.Scopes {
		for j := range t.Scopes {
			if i != j && t.Scopes[j].Region[t.Scopes[i].FanOut] {
				depth[i]++
			}
		}
	}

	for _, n := range g.def.Nodes {
		var chain []int

		for _, s := range t.Scopes {
			if s.Region[n.ID] {
				chain = append(chain, s.ID)
			}
		}

		sort.SliceStable(chain, func(a, b int) bool { return depth[chain[a]] < depth[chain[b]] })

		for k := 1; k < len(chain); k++ {
			outer, inner := t.Scopes[chain[k-1]], t.Scopes[chain[k]]
			if !outer.Region[inner.FanOut] {
				errs = append(errs, &ValidationError{
					Code:    CodeScopeOverlap,
					NodeID:  n.ID,
					Message: fmt.Sprintf("node is reachable from unrelated fan-outs %s and %s", outer.FanOut, inner.FanOut),
				})
			}
		}

		if len(chain) > 0 {
			t.chains[n.ID] = chain
		}
	}

	for i := range t.Scopes {
		if chain := t.chains[t.Scopes[i].FanOut]; len(chain) > 0 {
			t.Scopes[i].Parent = chain[len(chain)-1]
		}
	}

	return t, errs
}

// edgeAllowed reports whether an edge between two nodes respects scope
// nesting: it either stays in or descends into the source's scope chain, or
// it leaves exactly one scope through that scope's fan-in.
func (t *ScopeTable) edgeAllowed(from, to string) bool {
	cu, cv := t.chains[from], t.chains[to]

	if isPrefix(cu, cv) {
		return true
	}

	if len(cu) == len(cv)+1 && isPrefix(cv, cu) {
		return t.Scopes[cu[len(cu)-1]].FanIn == to
	}

	return false
}

func isPrefix(prefix, s []int) bool {
	return len(prefix) <= len(s) && slices.Equal(prefix, s[:len(prefix)])
}
