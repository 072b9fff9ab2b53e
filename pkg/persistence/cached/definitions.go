// Package cached decorates repositories with in-process caches.
package cached

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// Definitions caches definition versions forever, since a saved version never
// changes, along with their structural analysis. Latest is cached for
// latestTTL only.
type Definitions struct {
	persistence.DefinitionRepository

	versions  *gocache.Cache
	latest    *gocache.Cache
	latestTTL time.Duration
}

// Analyzed is a definition version with its precomputed graph analysis.
type Analyzed struct {
	Definition *models.Definition
	Analysis   *graph.Analysis
}

func NewDefinitions(repo persistence.DefinitionRepository, latestTTL time.Duration) *Definitions {
	return &Definitions{
		DefinitionRepository: repo,
		versions:             gocache.New(gocache.NoExpiration, 10*time.Minute),
		latest:               gocache.New(latestTTL, time.Minute),
		latestTTL:            latestTTL,
	}
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s@%d", id, version)
}

func (d *Definitions) Save(ctx context.Context, def *models.Definition) (*models.Definition, error) {
	saved, err := d.DefinitionRepository.Save(ctx, def)
	if err != nil {
		return nil, err
	}

	d.latest.Delete(saved.ID)

	return saved, nil
}

func (d *Definitions) Latest(ctx context.Context, id string) (*models.Definition, error) {
	if d.latestTTL > 0 {
		if v, ok := d.latest.Get(id); ok {
			return v.(*models.Definition), nil
		}
	}

	def, err := d.DefinitionRepository.Latest(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.latestTTL > 0 {
		d.latest.SetDefault(id, def)
	}

	return def, nil
}

func (d *Definitions) Version(ctx context.Context, id string, version int) (*models.Definition, error) {
	a, err := d.Analyzed(ctx, id, version)
	if err != nil {
		return nil, err
	}

	return a.Definition, nil
}

// Analyzed returns the version and its analysis, computing both once.
func (d *Definitions) Analyzed(ctx context.Context, id string, version int) (*Analyzed, error) {
	key := versionKey(id, version)

	if v, ok := d.versions.Get(key); ok {
		return v.(*Analyzed), nil
	}

	def, err := d.DefinitionRepository.Version(ctx, id, version)
	if err != nil {
		return nil, err
	}

	analysis, err := graph.Analyze(def)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze definition %s: %w", key, err)
	}

	a := &Analyzed{Definition: def, Analysis: analysis}
	d.versions.Set(key, a, gocache.NoExpiration)

	return a, nil
}
