package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

// IdentifierRow is one archived series description. Missing attributes are
// left out of the map.
type IdentifierRow struct {
	SeriesID   int64             `parquet:"series_id"`
	Attributes map[string]string `parquet:"attributes"`
}

// ValueRow is one archived observation.
type ValueRow struct {
	SeriesID int64    `parquet:"series_id"`
	Period   string   `parquet:"period"`
	Value    *float64 `parquet:"value,optional"`
}

// EncodeIdentifiers converts a normalized identifier frame to parquet.
func EncodeIdentifiers(f *tables.Frame) ([]byte, error) {
	rows := make([]IdentifierRow, f.Len())
	for i, r := range f.Rows {
		attrs := make(map[string]string, len(f.Columns))
		for j, c := range f.Columns {
			if s, ok := r[j].(string); ok {
				attrs[c] = s
			}
		}
		rows[i] = IdentifierRow{SeriesID: f.Index[i], Attributes: attrs}
	}
	return encode(rows)
}

// EncodeValues converts a normalized value frame to parquet. keyColumn and
// periodColumn name the series key and period columns of f.
func EncodeValues(f *tables.Frame, keyColumn, periodColumn, valueColumn string) ([]byte, error) {
	kp, pp, vp := f.ColumnIndex(keyColumn), f.ColumnIndex(periodColumn), f.ColumnIndex(valueColumn)
	if kp < 0 || pp < 0 || vp < 0 {
		return nil, fmt.Errorf("value frame lacks %s, %s or %s", keyColumn, periodColumn, valueColumn)
	}

	rows := make([]ValueRow, f.Len())
	for i, r := range f.Rows {
		key, _ := r[kp].(int64)
		period, _ := r[pp].(string)
		row := ValueRow{SeriesID: key, Period: period}
		if v, ok := r[vp].(float64); ok {
			row.Value = &v
		}
		rows[i] = row
	}
	return encode(rows)
}

func encode[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// VerifyChecksum verifies that data matches the expected checksum.
func VerifyChecksum(data []byte, expected string) bool {
	return ComputeChecksum(data) == expected
}
