package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/tables"
)

var testDescriptor = dataset.Descriptor{
	Code:       "t",
	IDTable:    "series_info",
	ValueTable: "series_info_values",
	IDSchema: []dataset.Column{
		{Name: "freq_code", Type: dataset.Text},
		{Name: "ref_area_code", Type: dataset.Text},
		{Name: "series", Type: dataset.Text},
	},
}

func sqliteConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "bis.db"),
	}
}

func setupSchema(t *testing.T, cfg Config) {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	d, err := DialectFor(cfg.Driver)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, db, d, []dataset.Descriptor{testDescriptor}))
}

func countRows(t *testing.T, cfg Config, table string) int {
	t.Helper()
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func idFrame(n int, extra ...string) *tables.Frame {
	cols := append([]string{"freq_code", "ref_area_code", "series"}, extra...)
	f := tables.NewFrame(cols, n)
	for i := 1; i <= n; i++ {
		row := []any{"M", "A" + string(rune('A'+i-1)), "M.A" + string(rune('A'+i-1))}
		for range extra {
			row = append(row, "x")
		}
		f.Append(int64(i), row)
	}
	return f
}

func TestPopulateIsIdempotent(t *testing.T) {
	cfg := sqliteConfig(t)
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))
	ctx := context.Background()

	res, err := p.Populate(ctx, "series_info", idFrame(3))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 0, res.Existing)

	res, err = p.Populate(ctx, "series_info", idFrame(3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Existing)

	assert.Equal(t, 3, countRows(t, cfg, "series_info"))
}

func TestPopulateAppendsOnlyUnseenIndices(t *testing.T) {
	cfg := sqliteConfig(t)
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))
	ctx := context.Background()

	_, err := p.Populate(ctx, "series_info", idFrame(2))
	require.NoError(t, err)

	res, err := p.Populate(ctx, "series_info", idFrame(4))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	var ids []int64
	require.NoError(t, db.Select(&ids, "SELECT series_info_id FROM series_info ORDER BY series_info_id"))
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)

	var series string
	require.NoError(t, db.Get(&series, "SELECT series FROM series_info WHERE series_info_id = 4"))
	assert.Equal(t, "M.AD", series)
}

func TestPopulateDropsExtraColumns(t *testing.T) {
	cfg := sqliteConfig(t)
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))

	res, err := p.Populate(context.Background(), "series_info", idFrame(2, "Unit Multiplier"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, []string{"Unit Multiplier"}, res.Dropped)
	assert.Empty(t, res.Missing)
}

func TestPopulateMissingColumnIsCritical(t *testing.T) {
	cfg := sqliteConfig(t)
	setupSchema(t, cfg)
	var logs bytes.Buffer
	p := NewPopulator(cfg, WithLogger(logging.New(&logs, "text", "info")))

	f := tables.NewFrame([]string{"freq_code", "series"}, 2)
	f.Append(1, []any{"M", "M.AU"})
	f.Append(2, []any{"Q", "Q.AU"})

	res, err := p.Populate(context.Background(), "series_info", f)
	require.NoError(t, err)
	assert.Equal(t, []string{"ref_area_code"}, res.Missing)
	assert.Equal(t, 2, res.Inserted)
	assert.Contains(t, logs.String(), "level=CRITICAL")
	assert.Contains(t, logs.String(), "Missing Columns Critical Error")
	assert.Equal(t, 2, countRows(t, cfg, "series_info"))
}

func TestPopulateValueTableWithMissingCells(t *testing.T) {
	cfg := sqliteConfig(t)
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))

	f := tables.NewFrame([]string{"series_info_id", "date", "value"}, 4)
	f.Append(1, []any{int64(1), "2020-01", 1.5})
	f.Append(2, []any{int64(2), "2020-01", nil})
	f.Append(3, []any{int64(1), "2020-02", 1.7})
	f.Append(4, []any{int64(2), "2020-02", 2.0})

	res, err := p.Populate(context.Background(), "series_info_values", f)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	var nulls int
	require.NoError(t, db.Get(&nulls, "SELECT COUNT(*) FROM series_info_values WHERE value IS NULL"))
	assert.Equal(t, 1, nulls)
}

func TestPopulateBatches(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.BatchSize = 2
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))

	res, err := p.Populate(context.Background(), "series_info", idFrame(5))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, 5, countRows(t, cfg, "series_info"))
}

func TestPopulateKeyMode(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DedupMode = DedupKey
	setupSchema(t, cfg)
	p := NewPopulator(cfg,
		WithDatasetKeys([]dataset.Descriptor{testDescriptor}),
		testLogger(t),
	)
	ctx := context.Background()

	_, err := p.Populate(ctx, "series_info", idFrame(2))
	require.NoError(t, err)

	// Same series under shifted indices are recognised by key.
	shifted := tables.NewFrame([]string{"freq_code", "ref_area_code", "series"}, 3)
	shifted.Append(10, []any{"M", "AB", "M.AB"})
	shifted.Append(11, []any{"M", "AZ", "M.AZ"})
	shifted.Append(12, []any{"M", "AA", "M.AA"})
	shifted.Append(13, []any{"M", "AZ", "M.AZ"})

	res, err := p.Populate(ctx, "series_info", shifted)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 3, countRows(t, cfg, "series_info"))

	// Value rows key on series id and period, so a NULL value is still matched.
	vals := tables.NewFrame([]string{"series_info_id", "date", "value"}, 2)
	vals.Append(1, []any{int64(1), "2020-01", nil})
	vals.Append(2, []any{int64(1), "2020-02", 3.25})
	_, err = p.Populate(ctx, "series_info_values", vals)
	require.NoError(t, err)
	res, err = p.Populate(ctx, "series_info_values", vals)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 2, res.Existing)
}

// loadRelease populates one release of (series, period, value) rows the way
// the pipeline does: identifier rows, then series keys resolved, then values.
func loadRelease(t *testing.T, p *Populator, series []string, values map[string][]any, periods ...string) {
	t.Helper()
	ctx := context.Background()

	ids := tables.NewFrame([]string{"freq_code", "ref_area_code", "series"}, len(series))
	for i, s := range series {
		ids.Append(int64(i+1), []any{"M", s, s})
	}
	vals := tables.NewFrame([]string{"series_info_id", "date", "value"}, len(series)*len(periods))
	var pos int64
	for j, period := range periods {
		for i, s := range series {
			pos++
			vals.Append(pos, []any{int64(i + 1), period, values[s][j]})
		}
	}

	_, err := p.Populate(ctx, testDescriptor.IDTable, ids)
	require.NoError(t, err)
	resolved, err := p.ResolveSeriesKeys(ctx, testDescriptor, ids, vals)
	require.NoError(t, err)
	_, err = p.Populate(ctx, testDescriptor.ValueTable, resolved)
	require.NoError(t, err)
}

func TestKeyModeFollowsSeriesAcrossReorderedReleases(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DedupMode = DedupKey
	setupSchema(t, cfg)
	p := NewPopulator(cfg, WithDatasetKeys([]dataset.Descriptor{testDescriptor}), testLogger(t))

	loadRelease(t, p, []string{"A", "B"}, map[string][]any{
		"A": {1.0},
		"B": {2.0},
	}, "2020-01")

	// The next release lists B first, adds C and a new period.
	loadRelease(t, p, []string{"B", "A", "C"}, map[string][]any{
		"B": {2.0, 20.0},
		"A": {1.0, 10.0},
		"C": {3.0, 30.0},
	}, "2020-01", "2020-02")

	assert.Equal(t, 3, countRows(t, cfg, "series_info"))
	assert.Equal(t, 6, countRows(t, cfg, "series_info_values"))

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	var got []struct {
		Series string  `db:"series"`
		Date   string  `db:"date"`
		Value  float64 `db:"value"`
	}
	require.NoError(t, db.Select(&got, `
		SELECT s.series, v.date, v.value FROM series_info_values v
		JOIN series_info s ON s.series_info_id = v.series_info_id
		ORDER BY s.series, v.date`))

	want := map[string]float64{
		"A/2020-01": 1, "A/2020-02": 10,
		"B/2020-01": 2, "B/2020-02": 20,
		"C/2020-01": 3, "C/2020-02": 30,
	}
	require.Len(t, got, len(want))
	for _, r := range got {
		assert.Equal(t, want[r.Series+"/"+r.Date], r.Value, "%s %s", r.Series, r.Date)
	}
}

func TestResolveSeriesKeysIndexModeUnchanged(t *testing.T) {
	p := NewPopulator(sqliteConfig(t), testLogger(t))
	vals := tables.NewFrame([]string{"series_info_id", "date", "value"}, 1)
	vals.Append(1, []any{int64(7), "2020-01", 1.0})

	out, err := p.ResolveSeriesKeys(context.Background(), testDescriptor, idFrame(1), vals)
	require.NoError(t, err)
	assert.Same(t, vals, out)
}

func TestResolveSeriesKeysDropsUnstoredSeries(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DedupMode = DedupKey
	setupSchema(t, cfg)
	p := NewPopulator(cfg, WithDatasetKeys([]dataset.Descriptor{testDescriptor}), testLogger(t))
	ctx := context.Background()

	_, err := p.Populate(ctx, "series_info", idFrame(1))
	require.NoError(t, err)

	vals := tables.NewFrame([]string{"series_info_id", "date", "value"}, 2)
	vals.Append(1, []any{int64(1), "2020-01", 1.0})
	vals.Append(2, []any{int64(2), "2020-01", 2.0})

	out, err := p.ResolveSeriesKeys(ctx, testDescriptor, idFrame(2), vals)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, int64(1), out.Rows[0][0])
	// The input frame is left untouched.
	assert.Equal(t, int64(2), vals.Rows[1][0])
}

func TestPopulateKeyModeRequiresKeys(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DedupMode = DedupKey
	setupSchema(t, cfg)
	p := NewPopulator(cfg, testLogger(t))

	_, err := p.Populate(context.Background(), "series_info", idFrame(1))
	require.Error(t, err)
}

func TestPopulateMissingTableFails(t *testing.T) {
	cfg := sqliteConfig(t)
	p := NewPopulator(cfg, testLogger(t))

	_, err := p.Populate(context.Background(), "series_info", idFrame(1))
	require.Error(t, err)
}

func TestPopulateRejectsBadTableName(t *testing.T) {
	p := NewPopulator(sqliteConfig(t), testLogger(t))
	_, err := p.Populate(context.Background(), "series; DROP TABLE x", idFrame(1))
	require.Error(t, err)
}

func TestCreateTableSQL(t *testing.T) {
	cases := map[string]string{
		"mysql":    "series_info_id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		"postgres": "series_info_id BIGSERIAL PRIMARY KEY",
		"sqlite":   "series_info_id INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	for driver, want := range cases {
		d, err := DialectFor(driver)
		require.NoError(t, err)

		stmt, err := CreateTableSQL(d, "series_info", testDescriptor.IDSchema)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS series_info ("), driver)
		assert.Contains(t, stmt, want, driver)
		assert.Contains(t, stmt, "series TEXT", driver)
	}

	_, err := DialectFor("oracle")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSchemaStatementsOrder(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)

	stmts, err := SchemaStatements(d, dataset.Defaults())
	require.NoError(t, err)
	require.Len(t, stmts, 6)
	for i, s := range stmts {
		isValue := strings.Contains(s, "_values (")
		assert.Equal(t, i >= 3, isValue, s)
	}
	assert.Contains(t, stmts[3], "exchange_rate_id BIGINT")
	assert.Contains(t, stmts[3], "value DOUBLE PRECISION")
}

func TestDSN(t *testing.T) {
	cfg := Config{Driver: "mysql", Host: "db", Port: 3306, User: "bis", Password: "secret", Database: "stats"}
	driver, dsn, err := cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "mysql", driver)
	assert.True(t, strings.HasPrefix(dsn, "bis:secret@tcp(db:3306)/stats"), dsn)
	assert.Contains(t, dsn, "charset=utf8mb4")

	cfg.Driver = "postgres"
	cfg.Port = 5432
	driver, dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://bis:secret@db:5432/stats", dsn)

	cfg = Config{Driver: "sqlite", Database: "/tmp/bis.db"}
	driver, dsn, err = cfg.DSN()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "/tmp/bis.db", dsn)
}

// testLogger routes populator logs to the test log.
func testLogger(t *testing.T) Option {
	return WithLogger(logging.New(testWriter{t}, "text", "debug"))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
