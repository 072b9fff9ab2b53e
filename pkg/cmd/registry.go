// Package cmd wires the components shared by the aide binaries.
package cmd

import (
	"log/slog"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/nodes/ailayer"
	"github.com/dukex/aide/pkg/nodes/controlflow"
	"github.com/dukex/aide/pkg/nodes/httprequest"
	lognode "github.com/dukex/aide/pkg/nodes/log"
	"github.com/dukex/aide/pkg/nodes/memory"
	"github.com/dukex/aide/pkg/nodes/output"
	"github.com/dukex/aide/pkg/nodes/transform"
	"github.com/dukex/aide/pkg/persistence"
)

// NewRegistry registers every native node. Memory records go through the AI
// layer when aiLayerURL is set and keep the workflow output verbatim
// otherwise.
func NewRegistry(logger *slog.Logger, memories persistence.MemoryRepository, aiLayerURL string) *capability.Registry {
	reg := capability.NewRegistry(logger)
	client := httprequest.NewClient()
	bridge := ailayer.NewBridge(aiLayerURL, client)

	var updater capability.MemoryUpdater = capability.StoreOutput{}
	if bridge.Configured() {
		updater = bridge
	}

	reg.Register(models.NodeTypeTransform, "", transform.New())
	controlflow.Register(reg)
	httprequest.Register(reg, client)
	lognode.Register(reg, logger)
	output.Register(reg, client)
	memory.Register(reg, memories, updater)
	ailayer.Register(reg, bridge)

	return reg
}
