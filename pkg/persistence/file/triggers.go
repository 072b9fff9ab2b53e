package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
)

type matchKey struct {
	kind models.TriggerKind
	key  string
}

// triggerIndex is triggers.json held in memory with its lookup maps.
type triggerIndex struct {
	entries      map[string]*models.TriggerEntry
	byMatch      map[matchKey][]string
	byKind       map[models.TriggerKind][]string
	byDefinition map[string][]string
	modTime      time.Time
	size         int64
}

func newTriggerIndex(entries map[string]*models.TriggerEntry) *triggerIndex {
	idx := &triggerIndex{
		entries:      entries,
		byMatch:      make(map[matchKey][]string),
		byKind:       make(map[models.TriggerKind][]string),
		byDefinition: make(map[string][]string),
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		e := entries[id]
		mk := matchKey{kind: e.Kind, key: e.MatchKey}
		idx.byMatch[mk] = append(idx.byMatch[mk], id)
		idx.byKind[e.Kind] = append(idx.byKind[e.Kind], id)
		idx.byDefinition[e.DefinitionID] = append(idx.byDefinition[e.DefinitionID], id)
	}

	return idx
}

func (idx *triggerIndex) get(ids []string) []*models.TriggerEntry {
	out := make([]*models.TriggerEntry, 0, len(ids))
	for _, id := range ids {
		entry := *idx.entries[id]
		out = append(out, &entry)
	}

	return out
}

// TriggerRepository keeps the whole index in triggers.json, rewritten
// atomically on every Apply. Lookups are served from memory; the file is
// reloaded when another process has rewritten it.
type TriggerRepository struct {
	root  string
	mu    sync.RWMutex
	index *triggerIndex
}

func NewTriggerRepository(root string) *TriggerRepository {
	return &TriggerRepository{root: root}
}

func (r *TriggerRepository) path() string {
	return filepath.Join(r.root, "triggers.json")
}

// current returns the in-memory index, reloading it when triggers.json
// changed on disk since it was read.
func (r *TriggerRepository) current() (*triggerIndex, error) {
	info, err := os.Stat(r.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()

	if idx != nil && sameFile(idx, info) {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index != nil && sameFile(r.index, info) {
		return r.index, nil
	}

	return r.reload()
}

func sameFile(idx *triggerIndex, info os.FileInfo) bool {
	if info == nil {
		return idx.modTime.IsZero()
	}

	return idx.modTime.Equal(info.ModTime()) && idx.size == info.Size()
}

// reload reads triggers.json. r.mu must be held for writing.
func (r *TriggerRepository) reload() (*triggerIndex, error) {
	entries := map[string]*models.TriggerEntry{}

	body, err := os.ReadFile(r.path())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger index: %w", err)
		}
	}

	idx := newTriggerIndex(entries)

	if info, err := os.Stat(r.path()); err == nil {
		idx.modTime = info.ModTime()
		idx.size = info.Size()
	}

	r.index = idx

	return idx, nil
}

func (r *TriggerRepository) lookup(op string, ids func(*triggerIndex) []string) ([]*models.TriggerEntry, error) {
	idx, err := r.current()
	if err != nil {
		return nil, persistence.NewStoreError(op, "", err)
	}

	return idx.get(ids(idx)), nil
}

func (r *TriggerRepository) ByID(_ context.Context, id string) (*models.TriggerEntry, error) {
	idx, err := r.current()
	if err != nil {
		return nil, persistence.NewStoreError("GetTrigger", id, err)
	}

	if _, ok := idx.entries[id]; !ok {
		return nil, persistence.NewStoreError("GetTrigger", id, persistence.ErrTriggerNotFound)
	}

	return idx.get([]string{id})[0], nil
}

func (r *TriggerRepository) ByDefinition(_ context.Context, definitionID string) ([]*models.TriggerEntry, error) {
	return r.lookup("TriggersByDefinition", func(idx *triggerIndex) []string { return idx.byDefinition[definitionID] })
}

func (r *TriggerRepository) ByKind(_ context.Context, kind models.TriggerKind) ([]*models.TriggerEntry, error) {
	return r.lookup("TriggersByKind", func(idx *triggerIndex) []string { return idx.byKind[kind] })
}

func (r *TriggerRepository) ByMatchKey(_ context.Context, kind models.TriggerKind, key string) ([]*models.TriggerEntry, error) {
	return r.lookup("TriggersByMatchKey", func(idx *triggerIndex) []string { return idx.byMatch[matchKey{kind: kind, key: key}] })
}

func (r *TriggerRepository) Apply(_ context.Context, upserts []*models.TriggerEntry, deletes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Always start from the file so a concurrent writer in another process
	// is not overwritten with a stale view.
	idx, err := r.reload()
	if err != nil {
		return persistence.NewStoreError("ApplyTriggers", "", err)
	}

	entries := make(map[string]*models.TriggerEntry, len(idx.entries)+len(upserts))
	for id, e := range idx.entries {
		entries[id] = e
	}

	for _, id := range deletes {
		delete(entries, id)
	}

	for _, entry := range upserts {
		e := *entry
		entries[e.ID] = &e
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trigger index: %w", err)
	}

	if err := writeAtomic(r.path(), data, nil); err != nil {
		return persistence.NewStoreError("ApplyTriggers", "", err)
	}

	next := newTriggerIndex(entries)

	if info, err := os.Stat(r.path()); err == nil {
		next.modTime = info.ModTime()
		next.size = info.Size()
	}

	r.index = next

	return nil
}
