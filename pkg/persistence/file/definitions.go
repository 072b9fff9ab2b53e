package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/codec"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

// DefinitionRepository stores definitions/{id}/{version}.json.
type DefinitionRepository struct {
	root string
	mu   sync.Mutex
}

func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (r *DefinitionRepository) dir(id string) string {
	return filepath.Join(r.root, "definitions", safeName(id))
}

func (r *DefinitionRepository) Save(_ context.Context, def *models.Definition) (*models.Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, err := r.versions(def.ID)
	if err != nil {
		return nil, persistence.NewStoreError("SaveDefinition", def.ID, err)
	}

	saved := *def
	saved.Version = 1
	saved.CreatedAt = time.Now().UTC()

	if len(versions) > 0 {
		saved.Version = versions[len(versions)-1] + 1
	}

	data, err := codec.Marshal(codec.KindDefinition, &saved)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal definition %s: %w", def.ID, err)
	}

	path := filepath.Join(r.dir(def.ID), strconv.Itoa(saved.Version)+".json")
	if err := writeAtomic(path, data, nil); err != nil {
		return nil, persistence.NewStoreError("SaveDefinition", def.ID, err)
	}

	return &saved, nil
}

func (r *DefinitionRepository) Latest(ctx context.Context, id string) (*models.Definition, error) {
	r.mu.Lock()
	versions, err := r.versions(id)
	r.mu.Unlock()

	if err != nil {
		return nil, persistence.NewStoreError("LatestDefinition", id, err)
	}

	if len(versions) == 0 {
		return nil, persistence.NewStoreError("LatestDefinition", id, persistence.ErrDefinitionNotFound)
	}

	return r.Version(ctx, id, versions[len(versions)-1])
}

func (r *DefinitionRepository) Version(_ context.Context, id string, version int) (*models.Definition, error) {
	body, err := os.ReadFile(filepath.Join(r.dir(id), strconv.Itoa(version)+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewStoreError("GetDefinition", fmt.Sprintf("%s@%d", id, version), persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewStoreError("GetDefinition", id, err)
	}

	var def models.Definition
	if err := codec.Unmarshal(body, codec.KindDefinition, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition %s@%d: %w", id, version, err)
	}

	return &def, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.Definition, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, "definitions"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.Definition{}, nil
		}

		return nil, persistence.NewStoreError("ListDefinitions", "", err)
	}

	defs := make([]*models.Definition, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		def, err := r.Latest(ctx, entry.Name())
		if err != nil {
			if errors.Is(err, persistence.ErrDefinitionNotFound) {
				continue
			}

			return nil, err
		}

		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs, nil
}

func (r *DefinitionRepository) versions(id string) ([]int, error) {
	entries, err := os.ReadDir(r.dir(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var out []int

	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok {
			continue
		}

		if v, err := strconv.Atoi(name); err == nil {
			out = append(out, v)
		}
	}

	sort.Ints(out)

	return out, nil
}
