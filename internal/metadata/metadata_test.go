package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestManifestRoundTrip(t *testing.T) {
	m := New("run-1", "test")
	m.BaseURL = "https://www.bis.org/statistics/"

	exr := m.Dataset("exr", "full_xru_csv.zip")
	exr.Status = StatusLoaded
	exr.RowsLoaded = 10
	exr.ControlDelta = 1
	exr.AddTable(TableRecord{Table: "exchange_rate", Candidates: 10, Inserted: 10})

	m.Dataset("pr", "full_cbpol_m_csv.zip").Skip("fetch failed")

	if again := m.Dataset("exr", "full_xru_csv.zip"); again != exr {
		t.Error("Dataset should return the existing record")
	}

	m.Finish(nil)

	path := filepath.Join(t.TempDir(), "nested", "run_manifest.json")
	if err := m.WriteJSON(path); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp manifest should be renamed away")
	}

	got, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if !got.Success || got.RunID != "run-1" || len(got.Datasets) != 2 {
		t.Fatalf("unexpected manifest %+v", got)
	}
	if got.Datasets[1].Status != StatusSkipped || got.Datasets[1].SkipReason != "fetch failed" {
		t.Errorf("unexpected skip record %+v", got.Datasets[1])
	}
	if got.Datasets[0].Tables[0].Inserted != 10 {
		t.Errorf("unexpected table record %+v", got.Datasets[0].Tables)
	}
}

func TestFinishWithError(t *testing.T) {
	m := New("run-2", "test")
	m.Finish(errors.New("insert into exchange_rate: disk full"))
	if m.Success || m.Error == "" || m.FinishedAt.IsZero() {
		t.Errorf("unexpected manifest %+v", m)
	}
}

func TestNewWriterFileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_manifest.json")
	w, err := NewWriter(context.Background(), CatalogConfig{ManifestPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	m := New("run-3", "test")
	m.Finish(nil)
	if err := w.RecordRun(context.Background(), m); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if _, err := ReadJSON(path); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestNewWriterBadCatalogDSN(t *testing.T) {
	_, err := NewWriter(context.Background(), CatalogConfig{PostgresDSN: "postgres://%zz"})
	if err == nil {
		t.Error("expected error for malformed DSN")
	}
}
