package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpointer remembers the last fully processed slot.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, slot uint64) error
}

// slotCheckpoint is the on-disk document. The program id binds it to one Farm program
// so a shared path never resumes another program's backfill.
type slotCheckpoint struct {
	ProgramID         string    `json:"program_id"`
	LastProcessedSlot uint64    `json:"last_processed_slot"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// FileCheckpoint keeps the checkpoint in a JSON file, replaced atomically on every save.
type FileCheckpoint struct {
	path      string
	programID string
	enabled   bool
}

// NewFileCheckpoint returns a checkpoint for programID at path. A disabled checkpoint
// never loads anything and ignores saves.
func NewFileCheckpoint(path, programID string, enabled bool) *FileCheckpoint {
	return &FileCheckpoint{path: path, programID: programID, enabled: enabled}
}

// Load returns the saved slot. ok is false when nothing was saved yet.
func (c *FileCheckpoint) Load(_ context.Context) (uint64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}

	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}

	var cp slotCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	if cp.ProgramID != "" && cp.ProgramID != c.programID {
		return 0, false, fmt.Errorf("checkpoint %s belongs to program %s, not %s", c.path, cp.ProgramID, c.programID)
	}

	return cp.LastProcessedSlot, true, nil
}

// Save records slot as the last processed one.
func (c *FileCheckpoint) Save(_ context.Context, slot uint64) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(slotCheckpoint{
		ProgramID:         c.programID,
		LastProcessedSlot: slot,
		UpdatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	return nil
}

// StateStore is a keyed slot store, such as the postgres indexer_state table.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, slot uint64) error
}

// StateCheckpoint keeps the checkpoint in a StateStore under one name.
type StateCheckpoint struct {
	store StateStore
	name  string
}

// NewStateCheckpoint binds a checkpoint to name in store.
func NewStateCheckpoint(store StateStore, name string) *StateCheckpoint {
	return &StateCheckpoint{store: store, name: name}
}

// Load implements Checkpointer
func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

// Save implements Checkpointer
func (c *StateCheckpoint) Save(ctx context.Context, slot uint64) error {
	return c.store.SaveState(ctx, c.name, slot)
}
