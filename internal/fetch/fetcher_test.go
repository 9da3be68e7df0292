package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func archiveServer(t *testing.T, archives map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[strings.TrimPrefix(r.URL.Path, "/statistics/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsArchive(t *testing.T) {
	csv := "FREQ,REF_AREA,2020-01\nM,AU,1.5\n"
	srv := archiveServer(t, map[string][]byte{
		"full_xru_csv.zip": zipBytes(t, map[string]string{"WS_XRU_csv_col.csv": csv}),
	})

	dir := t.TempDir()
	f := New(Config{BaseURL: srv.URL + "/statistics/"})

	res, ok := f.Fetch(context.Background(), "full_xru_csv.zip", dir)
	if !ok {
		t.Fatal("expected fetch to succeed")
	}

	if _, err := os.Stat(filepath.Join(dir, "full_xru_csv.zip")); err != nil {
		t.Errorf("archive should be kept in the working directory: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "WS_XRU_csv_col.csv"))
	if err != nil {
		t.Fatalf("extracted CSV missing: %v", err)
	}
	if string(data) != csv {
		t.Errorf("extracted content mismatch: %q", data)
	}
	if !strings.HasPrefix(res.Checksum, "sha256:") || res.Bytes == 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(res.Members) != 1 {
		t.Errorf("expected 1 member, got %v", res.Members)
	}
}

func TestFetchMissingRemote(t *testing.T) {
	srv := archiveServer(t, map[string][]byte{})
	f := New(Config{BaseURL: srv.URL + "/statistics"})

	if _, ok := f.Fetch(context.Background(), "full_cbpol_m_csv.zip", t.TempDir()); ok {
		t.Error("expected failure for 404")
	}
}

func TestFetchMalformedArchive(t *testing.T) {
	srv := archiveServer(t, map[string][]byte{
		"full_long_cpi_csv.zip": []byte("this is not a zip file"),
	})
	f := New(Config{BaseURL: srv.URL + "/statistics/"})

	_, err := f.FetchArchive(context.Background(), "full_long_cpi_csv.zip", t.TempDir())
	if err == nil {
		t.Fatal("expected error for malformed archive")
	}
	if _, ok := f.Fetch(context.Background(), "full_long_cpi_csv.zip", t.TempDir()); ok {
		t.Error("Fetch should report false for malformed archive")
	}
}

func TestFetchOversizedArchive(t *testing.T) {
	payload := zipBytes(t, map[string]string{"big.csv": strings.Repeat("x", 4096)})
	srv := archiveServer(t, map[string][]byte{"big.zip": payload})

	f := New(Config{BaseURL: srv.URL + "/statistics/", MaxArchiveBytes: 16})
	_, err := f.FetchArchive(context.Background(), "big.zip", t.TempDir())
	if !errors.Is(err, ErrArchiveTooLarge) {
		t.Errorf("expected ErrArchiveTooLarge, got %v", err)
	}

	f = New(Config{BaseURL: srv.URL + "/statistics/", MaxMemberBytes: 100})
	_, err = f.FetchArchive(context.Background(), "big.zip", t.TempDir())
	if !errors.Is(err, ErrArchiveTooLarge) {
		t.Errorf("expected ErrArchiveTooLarge for member, got %v", err)
	}
}

func TestFetchEmptyArchive(t *testing.T) {
	srv := archiveServer(t, map[string][]byte{"empty.zip": {}})
	f := New(Config{BaseURL: srv.URL + "/statistics/"})

	_, err := f.FetchArchive(context.Background(), "empty.zip", t.TempDir())
	if !errors.Is(err, ErrEmptyArchive) {
		t.Errorf("expected ErrEmptyArchive, got %v", err)
	}
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(archive, zipBytes(t, map[string]string{"../escape.csv": "x"}), 0644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	if _, err := Extract(archive, out, 0); err == nil {
		t.Error("expected error for member outside target directory")
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.csv")); !os.IsNotExist(err) {
		t.Error("member must not be written outside the target directory")
	}
}

func TestFetchFromFileBucket(t *testing.T) {
	mirror := t.TempDir()
	payload := zipBytes(t, map[string]string{"WS_CBPOL_M_csv_col.csv": "FREQ,2020-01\nM,0.25\n"})
	if err := os.WriteFile(filepath.Join(mirror, "full_cbpol_m_csv.zip"), payload, 0644); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	f := New(Config{BaseURL: "file://" + mirror})

	res, ok := f.Fetch(context.Background(), "full_cbpol_m_csv.zip", dir)
	if !ok {
		t.Fatal("expected fetch from file bucket to succeed")
	}
	if res.Bytes != int64(len(payload)) {
		t.Errorf("byte count mismatch: %d != %d", res.Bytes, len(payload))
	}
	if _, err := os.Stat(filepath.Join(dir, "WS_CBPOL_M_csv_col.csv")); err != nil {
		t.Errorf("extracted CSV missing: %v", err)
	}
}

func TestJoinURL(t *testing.T) {
	if got := joinURL("https://www.bis.org/statistics/", "a.zip"); got != "https://www.bis.org/statistics/a.zip" {
		t.Errorf("joinURL with slash = %s", got)
	}
	if got := joinURL("https://www.bis.org/statistics", "a.zip"); got != "https://www.bis.org/statistics/a.zip" {
		t.Errorf("joinURL without slash = %s", got)
	}
}
