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

// ResolveSeriesKeys rewrites the series key column of values from load
// positions to the stored surrogate ids of the matching identifier rows, so
// key-mode dedup of value tables follows series content rather than file
// order. ids must already be populated. Value rows whose series has no
// stored identifier row are dropped. In index mode values is returned as is.
func (p *Populator) ResolveSeriesKeys(ctx context.Context, desc dataset.Descriptor, ids, values *tables.Frame) (*tables.Frame, error) {
	if p.cfg.DedupMode != DedupKey {
		return values, nil
	}

	keyCols := p.keys[desc.IDTable]
	if len(keyCols) == 0 {
		keyCols = desc.IDKey()
	}
	idPos := make([]int, len(keyCols))
	for i, c := range keyCols {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		if idPos[i] = ids.ColumnIndex(c); idPos[i] < 0 {
			return nil, fmt.Errorf("key column %s not in %s frame", c, desc.IDTable)
		}
	}
	seriesCol := values.ColumnIndex(desc.SeriesKeyColumn())
	if seriesCol < 0 {
		return nil, fmt.Errorf("series key column %s not in %s frame", desc.SeriesKeyColumn(), desc.ValueTable)
	}

	db, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect for %s: %w", desc.IDTable, err)
	}
	defer db.Close()

	stored, err := storedSurrogates(ctx, db, desc.IDTable, keyCols)
	if err != nil {
		return nil, err
	}

	// load position -> stored surrogate id
	byPosition := make(map[int64]int64, ids.Len())
	cells := make([]any, len(idPos))
	for i, row := range ids.Rows {
		for j, pos := range idPos {
			cells[j] = row[pos]
		}
		if id, ok := stored[joinKey(cells)]; ok {
			byPosition[ids.Index[i]] = id
		}
	}

	out := tables.NewFrame(values.Columns, values.Len())
	unresolved := 0
	for i, row := range values.Rows {
		pos, ok := row[seriesCol].(int64)
		if !ok {
			unresolved++
			continue
		}
		id, ok := byPosition[pos]
		if !ok {
			unresolved++
			continue
		}
		resolved := append([]any(nil), row...)
		resolved[seriesCol] = id
		out.Append(values.Index[i], resolved)
	}

	if unresolved > 0 {
		p.log.Warn("value rows without stored series dropped",
			"table", desc.ValueTable, "rows", unresolved)
	}
	return out, nil
}

// storedSurrogates maps the natural key of every stored row of table to its
// surrogate id.
func storedSurrogates(ctx context.Context, db *sqlx.DB, table string, keyCols []string) (map[string]int64, error) {
	q := "SELECT " + dataset.SurrogateColumn(table) + ", " + strings.Join(keyCols, ", ") + " FROM " + table
	rows, err := db.QueryxContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read stored keys of %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan stored key of %s: %w", table, err)
		}
		id, err := toInt64(vals[0])
		if err != nil {
			return nil, fmt.Errorf("surrogate of %s: %w", table, err)
		}
		key := joinKey(vals[1:])
		if _, dup := out[key]; !dup {
			out[key] = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stored keys of %s: %w", table, err)
	}
	return out, nil
}

// toInt64 converts a scanned integer column. The MySQL text protocol hands
// integers back as []byte.
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected id type %T", v)
	}
}
