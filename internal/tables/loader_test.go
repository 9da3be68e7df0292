package tables

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// buildCSV renders rows x (ids + periods) with predictable cell values.
func buildCSV(rows, ids, periods int) string {
	var b strings.Builder
	var header []string
	for i := 0; i < ids; i++ {
		header = append(header, fmt.Sprintf("ID%d", i))
	}
	for p := 0; p < periods; p++ {
		header = append(header, fmt.Sprintf("2020-%02d", p+1))
	}
	b.WriteString(strings.Join(header, ",") + "\n")

	for r := 0; r < rows; r++ {
		var cells []string
		for i := 0; i < ids; i++ {
			cells = append(cells, fmt.Sprintf("r%d_id%d", r+1, i))
		}
		for p := 0; p < periods; p++ {
			cells = append(cells, fmt.Sprintf("%d.%d", r+1, p+1))
		}
		b.WriteString(strings.Join(cells, ",") + "\n")
	}
	return b.String()
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "WS_TEST_csv_col.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSplitsAndMelts(t *testing.T) {
	path := writeTemp(t, buildCSV(10, 3, 5))

	raw, ids, values, err := Load(path, 3)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if raw.Len() != 10 {
		t.Fatalf("expected 10 raw rows, got %d", raw.Len())
	}
	if ids.Len() != 10 || len(ids.Columns) != 3 {
		t.Errorf("expected 10x3 identifier subset, got %dx%d", ids.Len(), len(ids.Columns))
	}
	if values.Len() != 50 {
		t.Errorf("expected 50 melted rows, got %d", values.Len())
	}

	// identifier index is the 1-based row position
	for i, idx := range ids.Index {
		if idx != int64(i+1) {
			t.Fatalf("identifier index %d = %d", i, idx)
		}
	}
	if ids.Rows[3][0] != "r4_id0" {
		t.Errorf("unexpected identifier cell: %v", ids.Rows[3][0])
	}

	// every melted row joins back to the identifier row its value came from
	for i, row := range values.Rows {
		key := row[0].(int64)
		period := row[1].(string)
		var p int
		fmt.Sscanf(period, "2020-%02d", &p)
		want := fmt.Sprintf("%d.%d", key, p)
		got := fmt.Sprintf("%g", row[2].(float64))
		if got != want {
			t.Fatalf("row %d: key %d period %s has value %s, want %s", i, key, period, got, want)
		}
		if values.Index[i] != int64(i+1) {
			t.Fatalf("value index %d = %d", i, values.Index[i])
		}
	}

	// period-major ordering
	if values.Rows[0][1] != "2020-01" || values.Rows[10][1] != "2020-02" {
		t.Errorf("expected period-major melt, got %v then %v", values.Rows[0], values.Rows[10])
	}
}

func TestSplitValueCount(t *testing.T) {
	cases := []struct{ rows, ids, periods int }{
		{1, 1, 1},
		{4, 2, 0},
		{7, 17, 12},
		{3, 14, 30},
	}
	for _, tc := range cases {
		raw, err := ReadCSV(strings.NewReader(buildCSV(tc.rows, tc.ids, tc.periods)))
		if err != nil {
			t.Fatal(err)
		}
		ids, values, err := Split(raw, tc.ids)
		if err != nil {
			t.Fatalf("Split(%+v) failed: %v", tc, err)
		}
		if ids.Len() != tc.rows {
			t.Errorf("%+v: identifier rows = %d", tc, ids.Len())
		}
		if want := tc.rows * tc.periods; values.Len() != want {
			t.Errorf("%+v: value rows = %d, want %d", tc, values.Len(), want)
		}
	}
}

func TestMissingValuesRetained(t *testing.T) {
	csv := "ID,2020-01,2020-02\nA,,\nB,1.5,NaN\n"
	raw, err := ReadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	_, values, err := Split(raw, 1)
	if err != nil {
		t.Fatal(err)
	}
	if values.Len() != 4 {
		t.Fatalf("expected 4 melted rows including missing ones, got %d", values.Len())
	}

	missing := 0
	for _, row := range values.Rows {
		if row[2] == nil {
			missing++
		}
	}
	if missing != 3 {
		t.Errorf("expected 3 missing values, got %d", missing)
	}
}

func TestMalformedRowsSkipped(t *testing.T) {
	csv := "ID,NAME,2020-01\nA,alpha,1\nD,delta,4,extra\nE,epsilon,5\n"
	raw, err := ReadCSV(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if raw.Skipped != 1 {
		t.Errorf("expected 1 skipped row, got %d", raw.Skipped)
	}
	for _, rec := range raw.Records {
		if len(rec) != 3 {
			t.Errorf("record has %d cells, want 3: %v", len(rec), rec)
		}
		if rec[0] == "D" {
			t.Errorf("over-wide record retained: %v", rec)
		}
	}
	if raw.Records[0][0] != "A" || raw.Records[1][0] != "E" {
		t.Errorf("good rows lost: %v", raw.Records)
	}
}

func TestShortRowsPadded(t *testing.T) {
	raw, err := ReadCSV(strings.NewReader("A,B,2020,2021\nx,y,1\nx,z,1,2\nw\n"))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if raw.Len() != 3 || raw.Skipped != 0 {
		t.Fatalf("loaded=%d skipped=%d, want 3 and 0", raw.Len(), raw.Skipped)
	}

	ids, values, err := Split(raw, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ids.Len() != 3 || values.Len() != 6 {
		t.Fatalf("got %d ids and %d values, want 3 and 6", ids.Len(), values.Len())
	}
	// Series keys follow file order, so the second row keeps key 2.
	if ids.Rows[1][1] != "z" || ids.Index[1] != 2 {
		t.Errorf("second series = %v (index %d)", ids.Rows[1], ids.Index[1])
	}
	if ids.Rows[2][1] != nil {
		t.Errorf("padded identifier cell = %v, want nil", ids.Rows[2][1])
	}

	// Period-major: rows 4..6 are 2021, and the first row's 2021 is missing.
	if values.Rows[3][1] != "2021" || values.Rows[3][2] != nil {
		t.Errorf("first 2021 value = %v, want missing", values.Rows[3])
	}
	if values.Rows[4][2] != 2.0 {
		t.Errorf("second 2021 value = %v, want 2", values.Rows[4][2])
	}
}

func TestSplitTooManyIDColumns(t *testing.T) {
	raw, err := ReadCSV(strings.NewReader("A,B\n1,2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Split(raw, 3); !errors.Is(err, ErrTooFewColumns) {
		t.Errorf("expected ErrTooFewColumns, got %v", err)
	}
}

func TestReadCSVStripsBOM(t *testing.T) {
	raw, err := ReadCSV(strings.NewReader("\ufeffFREQ,2020\nM,1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if raw.Header[0] != "FREQ" {
		t.Errorf("BOM not stripped: %q", raw.Header[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, _, _, err := Load(filepath.Join(t.TempDir(), "absent.csv"), 1); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNormalize(t *testing.T) {
	f := NewFrame([]string{"Frequency", "Reference area", "FREQ_X"}, 1)
	f.Append(1, []any{"Monthly", "Australia", "M"})

	out := Normalize(f, map[string]string{
		"Frequency":      "frequency",
		"Reference area": "reference_area",
	})

	want := []string{"frequency", "reference_area", "FREQ_X"}
	for i := range want {
		if out.Columns[i] != want[i] {
			t.Errorf("column %d = %s, want %s", i, out.Columns[i], want[i])
		}
	}
	if f.Columns[0] != "Frequency" {
		t.Error("Normalize must not modify its input")
	}
	if out.Len() != 1 || out.Rows[0][1] != "Australia" {
		t.Error("rows should carry over unchanged")
	}
}

func TestFrameTake(t *testing.T) {
	f := NewFrame([]string{"a"}, 3)
	f.Append(10, []any{"x"})
	f.Append(20, []any{"y"})
	f.Append(30, []any{"z"})

	sub := f.Take([]int{2, 0})
	if sub.Len() != 2 || sub.Index[0] != 30 || sub.Index[1] != 10 {
		t.Errorf("unexpected subset: %+v", sub)
	}
	col, ok := sub.Column("a")
	if !ok || col[0] != "z" {
		t.Errorf("unexpected column: %v", col)
	}
	if _, ok := sub.Column("missing"); ok {
		t.Error("unknown column should not be found")
	}
}
