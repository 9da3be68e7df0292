package tables

// RawTable is a parsed CSV file: the header plus every well-formed record,
// in file order.
type RawTable struct {
	Header  []string
	Records [][]string
	Skipped int // malformed records dropped while parsing
}

// Len returns the number of loaded data rows.
func (t *RawTable) Len() int {
	return len(t.Records)
}

// Frame is a named-column block of rows keyed by an int64 index. The index
// is what the populator diffs against stored surrogate identities.
//
// Cells hold string, int64, float64 or nil for a missing value.
type Frame struct {
	Columns []string
	Index   []int64
	Rows    [][]any
}

// NewFrame returns an empty frame with the given columns.
func NewFrame(columns []string, capacity int) *Frame {
	return &Frame{
		Columns: append([]string(nil), columns...),
		Index:   make([]int64, 0, capacity),
		Rows:    make([][]any, 0, capacity),
	}
}

// Append adds one row. len(row) must equal len(f.Columns).
func (f *Frame) Append(index int64, row []any) {
	f.Index = append(f.Index, index)
	f.Rows = append(f.Rows, row)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the cells of one column.
func (f *Frame) Column(name string) ([]any, bool) {
	pos := f.ColumnIndex(name)
	if pos < 0 {
		return nil, false
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[pos]
	}
	return out, true
}

// Take returns a frame holding the rows at the given positions, in that
// order. Row slices are shared with f.
func (f *Frame) Take(positions []int) *Frame {
	out := NewFrame(f.Columns, len(positions))
	for _, p := range positions {
		out.Append(f.Index[p], f.Rows[p])
	}
	return out
}
