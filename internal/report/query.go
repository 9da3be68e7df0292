// Package report reads stored series back out of the identifier and value
// tables and renders comparison charts from them.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
)

// Point is one observation of a series.
type Point struct {
	Period string
	Time   time.Time
	Value  float64
}

// SeriesQuery selects observations of one dataset. Empty filters match
// everything; From and To are inclusive periods in the dataset's own format.
type SeriesQuery struct {
	Dataset   string
	Area      string
	Frequency string
	Unit      string
	From      string
	To        string
}

// Querier runs read queries against the stored tables.
type Querier struct {
	db    *sqlx.DB
	descs []dataset.Descriptor
}

// NewQuerier creates a querier over the tables described by descs.
func NewQuerier(db *sqlx.DB, descs []dataset.Descriptor) *Querier {
	return &Querier{db: db, descs: descs}
}

type observation struct {
	Date  string          `db:"date"`
	Value sql.NullFloat64 `db:"value"`
}

// Series returns the observations matching q ordered by period. Missing
// values are left out.
func (q *Querier) Series(ctx context.Context, sq SeriesQuery) ([]Point, error) {
	desc, ok := dataset.Lookup(q.descs, sq.Dataset)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q", sq.Dataset)
	}

	query, args, err := seriesSQL(desc, sq)
	if err != nil {
		return nil, err
	}

	var rows []observation
	if err := q.db.SelectContext(ctx, &rows, q.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query %s series: %w", desc.Code, err)
	}

	points := make([]Point, 0, len(rows))
	for _, r := range rows {
		if !r.Value.Valid {
			continue
		}
		t, err := ParsePeriod(r.Date)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{Period: r.Date, Time: t, Value: r.Value.Float64})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

func seriesSQL(desc dataset.Descriptor, sq SeriesQuery) (string, []any, error) {
	key := desc.SeriesKeyColumn()

	var (
		where []string
		args  []any
	)
	filter := func(column, value, label string) error {
		if value == "" {
			return nil
		}
		if column == "" {
			return fmt.Errorf("dataset %s has no %s column", desc.Code, label)
		}
		where = append(where, "s."+column+" = ?")
		args = append(args, value)
		return nil
	}
	if err := filter(desc.AreaColumn, sq.Area, "area"); err != nil {
		return "", nil, err
	}
	if err := filter(desc.FrequencyColumn, sq.Frequency, "frequency"); err != nil {
		return "", nil, err
	}
	if err := filter(desc.UnitColumn, sq.Unit, "unit"); err != nil {
		return "", nil, err
	}
	if sq.From != "" {
		where = append(where, "v.date >= ?")
		args = append(args, sq.From)
	}
	if sq.To != "" {
		where = append(where, "v.date <= ?")
		args = append(args, sq.To)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT v.date, v.value FROM %s v JOIN %s s ON s.%s = v.%s",
		desc.ValueTable, desc.IDTable, key, key)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY v.date")
	return b.String(), args, nil
}
