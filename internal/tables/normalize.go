package tables

// Normalize returns a frame whose column names are mapped through renames.
// Unmapped columns keep their names; rows and index are shared with f.
func Normalize(f *Frame, renames map[string]string) *Frame {
	cols := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		if to, ok := renames[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	return &Frame{Columns: cols, Index: f.Index, Rows: f.Rows}
}
