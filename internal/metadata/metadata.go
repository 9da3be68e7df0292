// Package metadata records what each pipeline run fetched, loaded and stored.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Dataset statuses.
const (
	StatusLoaded  = "loaded"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// RunManifest is the lineage record of one run.
type RunManifest struct {
	RunID       string           `json:"run_id"`
	Version     string           `json:"version"`
	BaseURL     string           `json:"base_url"`
	Driver      string           `json:"driver"`
	DedupMode   string           `json:"dedup_mode"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Success     bool             `json:"success"`
	Error       string           `json:"error,omitempty"`
	SnapshotURI string           `json:"snapshot_uri,omitempty"`
	Datasets    []*DatasetRecord `json:"datasets"`
}

// DatasetRecord describes one dataset's passage through the run.
type DatasetRecord struct {
	Code         string        `json:"code"`
	Archive      string        `json:"archive"`
	ArchiveBytes int64         `json:"archive_bytes,omitempty"`
	SHA256       string        `json:"sha256,omitempty"`
	Unchanged    bool          `json:"unchanged_since_last_run,omitempty"`
	RowsLoaded   int           `json:"rows_loaded"`
	RowsSkipped  int           `json:"rows_skipped"`
	ControlCount int           `json:"control_count"`
	ControlDelta int           `json:"control_delta"`
	Status       string        `json:"status"`
	SkipReason   string        `json:"skip_reason,omitempty"`
	Tables       []TableRecord `json:"tables,omitempty"`
}

// TableRecord describes one populate call.
type TableRecord struct {
	Table      string   `json:"table"`
	Candidates int      `json:"candidates"`
	Inserted   int      `json:"inserted"`
	Missing    []string `json:"missing_columns,omitempty"`
}

// New starts a manifest for runID.
func New(runID, version string) *RunManifest {
	return &RunManifest{
		RunID:     runID,
		Version:   version,
		StartedAt: time.Now().UTC(),
	}
}

// Dataset returns the record for code, adding it on first use.
func (m *RunManifest) Dataset(code, archive string) *DatasetRecord {
	for _, d := range m.Datasets {
		if d.Code == code {
			return d
		}
	}
	d := &DatasetRecord{Code: code, Archive: archive}
	m.Datasets = append(m.Datasets, d)
	return d
}

// Skip marks a dataset as skipped with a reason.
func (d *DatasetRecord) Skip(reason string) {
	d.Status = StatusSkipped
	d.SkipReason = reason
}

// AddTable appends a populate result.
func (d *DatasetRecord) AddTable(rec TableRecord) {
	d.Tables = append(d.Tables, rec)
}

// Finish stamps the end of the run. A nil err marks success.
func (m *RunManifest) Finish(err error) {
	m.FinishedAt = time.Now().UTC()
	m.Success = err == nil
	if err != nil {
		m.Error = err.Error()
	}
}

// WriteJSON writes the manifest to path via temp file + rename.
func (m *RunManifest) WriteJSON(path string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, b, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}

// ReadJSON loads a manifest written by WriteJSON.
func ReadJSON(path string) (*RunManifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m RunManifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}
