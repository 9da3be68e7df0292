// Package checkpoint remembers which archive each dataset was last loaded
// from, so a run can tell whether a release changed since the previous one.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrNoCheckpoint is returned when no checkpoint exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

const fileName = "checkpoint.json"

// Checkpoint is the archive state after the last successful run.
type Checkpoint struct {
	RunID     string                  `json:"run_id"`
	Version   string                  `json:"version"`
	Archives  map[string]ArchiveState `json:"archives"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// ArchiveState describes the archive a dataset was last loaded from.
type ArchiveState struct {
	Archive   string    `json:"archive"`
	Checksum  string    `json:"checksum"`
	Bytes     int64     `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// New returns an empty checkpoint for runID.
func New(runID, version string) *Checkpoint {
	return &Checkpoint{
		RunID:    runID,
		Version:  version,
		Archives: make(map[string]ArchiveState),
	}
}

// Record stores the archive state of dataset code.
func (c *Checkpoint) Record(code string, state ArchiveState) {
	if c.Archives == nil {
		c.Archives = make(map[string]ArchiveState)
	}
	c.Archives[code] = state
}

// Unchanged reports whether code was last loaded from an archive with the
// same checksum.
func (c *Checkpoint) Unchanged(code, checksum string) bool {
	if c == nil || checksum == "" {
		return false
	}
	prev, ok := c.Archives[code]
	return ok && prev.Checksum == checksum
}

// Manager handles checkpoint persistence and retrieval.
type Manager interface {
	// Load reads the current checkpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save persists the checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// Config configures the checkpoint manager.
type Config struct {
	Enabled bool
	Dir     string // Directory for the checkpoint file
}

// NewManager creates a checkpoint manager based on configuration.
func NewManager(cfg Config) (Manager, error) {
	if !cfg.Enabled {
		return &noopManager{}, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
	}

	return &fileManager{path: filepath.Join(cfg.Dir, fileName)}, nil
}

// fileManager persists the checkpoint to a local file.
type fileManager struct {
	path string
}

// Load reads the checkpoint from file.
func (m *fileManager) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return &cp, nil
}

// Save persists the checkpoint to file.
func (m *fileManager) Save(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write atomically
	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}

	return nil
}

// noopManager is used when checkpointing is disabled.
type noopManager struct{}

func (m *noopManager) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, ErrNoCheckpoint
}

func (m *noopManager) Save(ctx context.Context, cp *Checkpoint) error {
	return nil
}
