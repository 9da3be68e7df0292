package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

// differ picks the frame positions that are not stored yet. It returns them
// in ascending index order with the number of stored rows it compared.
type differ interface {
	diff(ctx context.Context, db *sqlx.DB, table string, frame *tables.Frame) ([]int, int, error)
}

// indexDiffer treats a row as stored when its frame index equals a stored
// surrogate id. Ids are assigned 1..N in insert order, and frames are
// indexed 1..N in the same order, so a re-run of the same release adds
// nothing.
type indexDiffer struct{}

func (indexDiffer) diff(ctx context.Context, db *sqlx.DB, table string, frame *tables.Frame) ([]int, int, error) {
	var ids []int64
	q := "SELECT " + dataset.SurrogateColumn(table) + " FROM " + table
	if err := db.SelectContext(ctx, &ids, q); err != nil {
		return nil, 0, fmt.Errorf("read stored ids of %s: %w", table, err)
	}

	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	keep := make([]int, 0, frame.Len())
	for i, idx := range frame.Index {
		if _, ok := seen[idx]; !ok {
			keep = append(keep, i)
		}
	}
	ascendingByIndex(frame, keep)
	return keep, len(ids), nil
}

// keyDiffer treats a row as stored when its natural key columns match a
// stored row. Duplicate keys within the frame are inserted once.
type keyDiffer struct {
	columns []string
}

func (k keyDiffer) diff(ctx context.Context, db *sqlx.DB, table string, frame *tables.Frame) ([]int, int, error) {
	positions := make([]int, len(k.columns))
	for i, c := range k.columns {
		if err := checkIdent(c); err != nil {
			return nil, 0, err
		}
		positions[i] = frame.ColumnIndex(c)
		if positions[i] < 0 {
			return nil, 0, fmt.Errorf("key column %s not in frame for %s", c, table)
		}
	}

	q := "SELECT " + strings.Join(k.columns, ", ") + " FROM " + table
	rows, err := db.QueryxContext(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("read stored keys of %s: %w", table, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	existing := 0
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, 0, fmt.Errorf("scan stored key of %s: %w", table, err)
		}
		seen[joinKey(vals)] = struct{}{}
		existing++
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("read stored keys of %s: %w", table, err)
	}

	order := make([]int, frame.Len())
	for i := range order {
		order[i] = i
	}
	ascendingByIndex(frame, order)

	keep := make([]int, 0, frame.Len())
	cells := make([]any, len(positions))
	for _, i := range order {
		for j, pos := range positions {
			cells[j] = frame.Rows[i][pos]
		}
		key := joinKey(cells)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	return keep, existing, nil
}

// joinKey renders key cells the same way whether they come from a frame or
// from a driver, which may hand back text columns as []byte.
func joinKey(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = keyPart(v)
	}
	return strings.Join(parts, "\x1f")
}

func keyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00"
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
