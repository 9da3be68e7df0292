package tables

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrTooFewColumns is returned when the identifier block is wider than the file.
var ErrTooFewColumns = errors.New("identifier column count exceeds table width")

// Melted value-frame column names, renamed per dataset by Normalize.
const (
	MeltKeyColumn    = "index"
	MeltPeriodColumn = "variable"
	MeltValueColumn  = "value"
)

// Load parses the CSV at path and splits it into an identifier block of the
// first idColumns columns and a melted value block of the remaining ones.
func Load(path string, idColumns int) (*RawTable, *Frame, *Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	raw, err := ReadCSV(f)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
	}

	ids, values, err := Split(raw, idColumns)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("split %s: %w", path, err)
	}
	return raw, ids, values, nil
}

// ReadCSV reads a header plus records. Records wider than the header, or
// that fail to parse, are skipped and counted in Skipped. Narrower records
// are kept and padded with empty cells, which load as missing values.
func ReadCSV(r io.Reader) (*RawTable, error) {
	cr := csv.NewReader(bufio.NewReaderSize(r, 1<<20))
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	raw := &RawTable{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				raw.Skipped++
				continue
			}
			return nil, err
		}
		if len(rec) > len(header) {
			raw.Skipped++
			continue
		}
		for len(rec) < len(header) {
			rec = append(rec, "")
		}
		raw.Records = append(raw.Records, rec)
	}
	return raw, nil
}

// Split builds the identifier and value frames from raw.
//
// Identifier rows are indexed by their 1-based position among loaded rows.
// Value rows carry that position in the "index" column and are themselves
// indexed 1..rows*periods, period-major, so every period of the first
// period column precedes the second period column.
func Split(raw *RawTable, idColumns int) (*Frame, *Frame, error) {
	if idColumns < 0 || idColumns > len(raw.Header) {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrTooFewColumns, idColumns, len(raw.Header))
	}

	n := raw.Len()
	ids := NewFrame(raw.Header[:idColumns], n)
	for i, rec := range raw.Records {
		row := make([]any, idColumns)
		for j := 0; j < idColumns; j++ {
			row[j] = textCell(rec[j])
		}
		ids.Append(int64(i+1), row)
	}

	periods := raw.Header[idColumns:]
	values := NewFrame([]string{MeltKeyColumn, MeltPeriodColumn, MeltValueColumn}, n*len(periods))
	var pos int64
	for p, period := range periods {
		col := idColumns + p
		for i, rec := range raw.Records {
			pos++
			values.Append(pos, []any{int64(i + 1), period, numericCell(rec[col])})
		}
	}

	return ids, values, nil
}

func textCell(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func numericCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
