// Package remaining computes which executions of a run are still owed work.
//
// The graph it works on is the definition expanded over fan-out items: a node
// inside a fan-out region gets one vertex per item of every completed
// instance of that fan-out, or a single placeholder while the fan-out has not
// completed. Completed and skipped vertices are removed together with their
// outgoing edges; a failed vertex keeps a self-loop so nothing downstream of
// it can ever become ready.
package remaining

import (
	"fmt"
	"sort"

	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/runstate"
)

// Skip is an execution that can never run and should be recorded as skipped.
type Skip struct {
	Key    models.ExecKey
	Reason string
}

type Result struct {
	Ready      []models.ExecKey
	NewlyReady []models.ExecKey
	Skippable  []Skip
	Running    []models.ExecKey
	Failed     []models.ExecKey
	Blocked    []models.ExecKey
	// Outputs maps completed executions of sink nodes to their output keys.
	Outputs   map[models.ExecKey]string
	Remaining int
}

// Complete reports that no work is left.
func (r *Result) Complete() bool { return r.Remaining == 0 }

// Stuck reports that work is left but nothing can make progress.
func (r *Result) Stuck() bool {
	return r.Remaining > 0 && len(r.Ready) == 0 && len(r.Skippable) == 0 && len(r.Running) == 0
}

type vertex struct {
	key         models.ExecKey
	node        string
	instance    models.Instance
	placeholder bool
	deps        []*vertex
}

type expansion struct {
	a      *graph.Analysis
	st     *runstate.State
	byNode map[string][]*vertex
	byKey  map[models.ExecKey]*vertex
	all    []*vertex
}

// Compute is pure: it reads the analysis and the state and returns a fresh
// result.
func Compute(a *graph.Analysis, st *runstate.State) *Result {
	x := &expansion{
		a:      a,
		st:     st,
		byNode: make(map[string][]*vertex),
		byKey:  make(map[models.ExecKey]*vertex),
	}

	for _, id := range a.Order {
		x.expand(id)
	}

	for _, v := range x.all {
		if !v.placeholder {
			x.link(v)
		}
	}

	return x.result()
}

func (x *expansion) add(v *vertex) {
	x.all = append(x.all, v)
	x.byNode[v.node] = append(x.byNode[v.node], v)
	x.byKey[v.key] = v
}

func placeholderKey(nodeID string, prefix models.Instance) models.ExecKey {
	return models.ExecKey(fmt.Sprintf("%s#%s*", nodeID, prefix))
}

func (x *expansion) expand(id string) {
	chain := x.a.Scopes.Chain(id)
	if len(chain) == 0 {
		x.add(&vertex{key: models.MakeExecKey(id, nil), node: id, instance: models.Instance{}})

		return
	}

	fanOut := x.a.Scopes.Scope(chain[len(chain)-1]).FanOut

	for _, fv := range x.byNode[fanOut] {
		if fv.placeholder {
			x.add(&vertex{key: placeholderKey(id, fv.instance), node: id, instance: fv.instance, placeholder: true, deps: []*vertex{fv}})

			continue
		}

		switch x.st.ExecutionStatus(fv.key) {
		case models.ExecutionCompleted:
			n := x.st.Execution(fanOut, fv.instance).ItemCount
			for i := 0; i < n; i++ {
				inst := fv.instance.Child(i)
				x.add(&vertex{key: models.MakeExecKey(id, inst), node: id, instance: inst})
			}
		case models.ExecutionSkipped:
		default:
			x.add(&vertex{key: placeholderKey(id, fv.instance), node: id, instance: fv.instance, placeholder: true, deps: []*vertex{fv}})
		}
	}
}

func (x *expansion) link(v *vertex) {
	node, _ := x.a.Graph.Node(v.node)

	if node.IsFanIn() {
		if sc, ok := x.a.Scopes.ClosedBy(v.node); ok {
			if fv, ok := x.byKey[models.MakeExecKey(sc.FanOut, v.instance)]; ok {
				v.deps = append(v.deps, fv)
			}
		}

		depth := len(v.instance)

		for _, pred := range x.a.Graph.Predecessors(v.node) {
			for _, u := range x.byNode[pred] {
				if len(u.instance) >= depth && u.instance.Prefix(depth).String() == v.instance.String() {
					v.deps = append(v.deps, u)
				}
			}
		}

		return
	}

	for _, pred := range x.a.Graph.Predecessors(v.node) {
		key := models.MakeExecKey(pred, v.instance.Prefix(x.a.Scopes.Depth(pred)))
		if u, ok := x.byKey[key]; ok {
			v.deps = append(v.deps, u)
		}
	}
}

func (x *expansion) status(v *vertex) models.ExecutionStatus {
	if v.placeholder {
		return models.ExecutionPending
	}

	return x.st.ExecutionStatus(v.key)
}

func removed(s models.ExecutionStatus) bool {
	return s == models.ExecutionCompleted || s == models.ExecutionSkipped
}

func (x *expansion) result() *Result {
	r := &Result{Outputs: make(map[models.ExecKey]string)}
	dependents := make(map[*vertex][]*vertex)

	for _, v := range x.all {
		for _, d := range v.deps {
			dependents[d] = append(dependents[d], v)
		}
	}

	var failed []*vertex

	for _, v := range x.all {
		status := x.status(v)

		if status == models.ExecutionCompleted && len(x.a.Graph.Outgoing(v.node)) == 0 {
			r.Outputs[v.key] = x.st.Execution(v.node, v.instance).OutputKey
		}

		if removed(status) {
			continue
		}

		r.Remaining++

		switch status {
		case models.ExecutionFailed:
			r.Failed = append(r.Failed, v.key)
			failed = append(failed, v)

			continue
		case models.ExecutionRunning:
			r.Running = append(r.Running, v.key)

			continue
		}

		if v.placeholder {
			continue
		}

		if reason, ok := x.skipReason(v); ok && status == models.ExecutionPending {
			r.Skippable = append(r.Skippable, Skip{Key: v.key, Reason: reason})

			continue
		}

		if x.inDegree(v) > 0 {
			continue
		}

		r.Ready = append(r.Ready, v.key)
		if status == models.ExecutionPending {
			r.NewlyReady = append(r.NewlyReady, v.key)
		}
	}

	r.Blocked = blocked(failed, dependents)

	sortKeys(r.Ready)
	sortKeys(r.NewlyReady)
	sortKeys(r.Running)
	sortKeys(r.Failed)
	sort.Slice(r.Skippable, func(i, j int) bool { return r.Skippable[i].Key < r.Skippable[j].Key })

	return r
}

func (x *expansion) inDegree(v *vertex) int {
	n := 0

	for _, d := range v.deps {
		if !removed(x.status(d)) {
			n++
		}
	}

	return n
}

func (x *expansion) skipReason(v *vertex) (string, bool) {
	node, _ := x.a.Graph.Node(v.node)

	if node.IsTrigger() {
		if v.node == x.st.StartNodeID {
			return "", false
		}

		return "trigger did not fire this run", true
	}

	if len(v.deps) == 0 {
		return "", false
	}

	if !node.IsFanIn() {
		for _, e := range x.a.Graph.Incoming(v.node) {
			src := e.SourceNode()
			key := models.MakeExecKey(src, v.instance.Prefix(x.a.Scopes.Depth(src)))

			_, portName := e.Target()
			port, _ := node.InputPort(portName)

			if port.Required && x.st.ExecutionStatus(key) == models.ExecutionSkipped {
				return fmt.Sprintf("required input %s is fed by skipped %s", portName, key), true
			}
		}
	}

	for _, d := range v.deps {
		if d.placeholder || x.st.ExecutionStatus(d.key) != models.ExecutionSkipped {
			return "", false
		}
	}

	return "every predecessor was skipped", true
}

func blocked(failed []*vertex, dependents map[*vertex][]*vertex) []models.ExecKey {
	seen := make(map[*vertex]bool)
	stack := append([]*vertex(nil), failed...)

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, d := range dependents[v] {
			if !seen[d] {
				seen[d] = true
				stack = append(stack, d)
			}
		}
	}

	var out []models.ExecKey

	for v := range seen {
		if !v.placeholder {
			out = append(out, v.key)
		}
	}

	sortKeys(out)

	return out
}

func sortKeys(keys []models.ExecKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
