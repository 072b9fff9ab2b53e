package capability

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/aide/pkg/models"
)

// Registry maps node types to executors. An executor registered for
// "type/kind" wins over one registered for the bare type.
type Registry struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	executors map[string]Executor
}

var _ Executor = (*Registry)(nil)

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		executors: make(map[string]Executor),
	}
}

func Key(nodeType models.NodeType, kind string) string {
	if kind == "" {
		return string(nodeType)
	}

	return string(nodeType) + "/" + kind
}

func (r *Registry) Register(nodeType models.NodeType, kind string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(nodeType, kind)
	r.executors[key] = exec
	r.logger.Debug("registered executor", "key", key)
}

func (r *Registry) Lookup(node *models.Node) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if exec, ok := r.executors[Key(node.Type, node.Kind())]; ok {
		return exec, true
	}

	exec, ok := r.executors[string(node.Type)]

	return exec, ok
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.executors))
	for k := range r.executors {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Execute dispatches to the executor of the request's node.
func (r *Registry) Execute(ctx context.Context, req *Request) (any, error) {
	exec, ok := r.Lookup(req.Node)
	if !ok {
		return nil, Fail(FailureUnsupportedNodeType, "no executor for node type %s", Key(req.Node.Type, req.Node.Kind()))
	}

	return exec.Execute(ctx, req)
}
