// Package file provides file-based persistence for single-process use: the
// dev binary and tests. Every entity lives under one root directory.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/aide/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
type Persistence struct {
	root        string
	events      *EventLog
	definitions *DefinitionRepository
	triggers    *TriggerRepository
	memory      *MemoryRepository
	blobs       *BlobStore
	runs        *RunRepository
}

// NewPersistence accepts a plain directory or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:        cleanRoot,
		events:      NewEventLog(cleanRoot),
		definitions: NewDefinitionRepository(cleanRoot),
		triggers:    NewTriggerRepository(cleanRoot),
		memory:      NewMemoryRepository(cleanRoot),
		blobs:       NewBlobStore(cleanRoot),
		runs:        NewRunRepository(cleanRoot),
	}
}

func (fp *Persistence) Events() persistence.EventLog                  { return fp.events }
func (fp *Persistence) Definitions() persistence.DefinitionRepository { return fp.definitions }
func (fp *Persistence) Triggers() persistence.TriggerRepository       { return fp.triggers }
func (fp *Persistence) Memory() persistence.MemoryRepository          { return fp.memory }
func (fp *Persistence) Blobs() persistence.BlobStore                  { return fp.blobs }
func (fp *Persistence) Runs() persistence.RunRepository               { return fp.runs }

// HealthCheck creates the root when missing and verifies it is a directory.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.root, 0750); err != nil {
		return fmt.Errorf("failed to create root directory: %w", err)
	}

	info, err := os.Stat(fp.root)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", fp.root)
	}

	return nil
}

// Close is a no-op for file persistence.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path. beforeRename, when set, runs between the sync and
// the rename; an error aborts the write and leaves path untouched.
func writeAtomic(path string, data []byte, beforeRename func() error) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if beforeRename != nil {
		if err := beforeRename(); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// safeName keeps caller-supplied ids from escaping their directory.
func safeName(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")

	return r.Replace(id)
}
