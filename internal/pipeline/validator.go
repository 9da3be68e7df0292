package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// ValidationResult contains the outcome of a control-count check.
type ValidationResult struct {
	Passed   bool
	Errors   []string
	Warnings []string
	RawLines int // physical lines in the file, header included
	Loaded   int // data rows the loader kept
	Delta    int // RawLines - Loaded; 1 when only the header differs
}

// CountLines returns the number of physical lines in path. A final line
// without a trailing newline still counts.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	buf := make([]byte, 64*1024)
	var (
		lines int
		last  byte
		seen  bool
	)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			lines += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
			seen = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if seen && last != '\n' {
		lines++
	}
	return lines, nil
}

// CheckControlCount compares the raw line count of path with the number of
// rows the loader kept.
func CheckControlCount(path string, loaded int) (int, error) {
	lines, err := CountLines(path)
	if err != nil {
		return 0, err
	}
	return lines - loaded, nil
}

// ValidateLoad runs the control-count check. A delta above one means rows
// beyond the header were dropped; it is reported as a warning, never an
// error, so the dataset is still populated.
func ValidateLoad(path string, loaded int) ValidationResult {
	result := ValidationResult{Passed: true, Loaded: loaded}

	lines, err := CountLines(path)
	if err != nil {
		result.Passed = false
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	result.RawLines = lines
	result.Delta = lines - loaded
	if result.Delta > 1 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("control total exception: %d lines, %d rows loaded", lines, loaded))
	}
	return result
}

// LogControlCount writes the control summary line and, when rows were
// dropped, the control total warning.
func LogControlCount(log *slog.Logger, path string, result ValidationResult) {
	name := filepath.Base(path)
	if !result.Passed {
		log.Error("control count failed", "file", name, "errors", result.Errors)
		return
	}

	log.Info(fmt.Sprintf("%s_file=%d_import=%d_delta=%d", name, result.RawLines, result.Loaded, result.Delta),
		"file", name,
		"lines", result.RawLines,
		"loaded", result.Loaded,
		"delta", result.Delta,
	)
	if result.Delta > 1 {
		log.Warn("control total exception", "file", name, "delta", result.Delta)
	}
}
