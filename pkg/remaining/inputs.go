package remaining

import (
	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/runstate"
)

// Inputs resolves the blob references feeding each input port of one
// execution. Ports fed only by skipped executions are left out.
func Inputs(a *graph.Analysis, st *runstate.State, nodeID string, instance models.Instance) map[string]models.InputRef {
	node, ok := a.Graph.Node(nodeID)
	if !ok {
		return nil
	}

	refs := make(map[string]models.InputRef)

	for _, e := range a.Graph.Incoming(nodeID) {
		srcID, srcPort := e.Source()
		_, port := e.Target()
		src, _ := a.Graph.Node(srcID)

		if node.IsFanIn() {
			refs[port] = models.InputRef{Gather: gather(a, st, src, srcPort, instance)}

			continue
		}

		depth := a.Scopes.Depth(srcID)

		exec := st.Execution(srcID, instance.Prefix(depth))
		if exec.Status != models.ExecutionCompleted {
			continue
		}

		ref := sourceRef(src, srcPort, exec.OutputKey)

		if src.IsFanOut() && depth < len(instance) {
			i := instance[depth]
			ref.Index = &i
		}

		refs[port] = ref
	}

	return refs
}

func sourceRef(src *models.Node, port, key string) models.InputRef {
	ref := models.InputRef{Key: key}
	if len(src.OutputPorts()) > 1 {
		ref.Port = port
	}

	return ref
}

func gather(a *graph.Analysis, st *runstate.State, src *models.Node, srcPort string, instance models.Instance) []models.InputRef {
	sc, ok := a.Scopes.Innermost(src.ID)
	if !ok {
		return nil
	}

	n := st.Execution(sc.FanOut, instance).ItemCount
	out := make([]models.InputRef, 0, n)

	for i := 0; i < n; i++ {
		exec := st.Execution(src.ID, instance.Child(i))
		if exec.Status == models.ExecutionCompleted {
			out = append(out, sourceRef(src, srcPort, exec.OutputKey))
		}
	}

	return out
}
