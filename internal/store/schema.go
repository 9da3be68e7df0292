package store

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jmoiron/sqlx"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
)

//go:embed schema.sql.tmpl
var schemaTmpl string

var createTable = template.Must(template.New("schema").Parse(schemaTmpl))

type tableDDL struct {
	Table     string
	Surrogate string
	Identity  string
	Columns   []columnDDL
}

type columnDDL struct {
	Name string
	Type string
}

// CreateTableSQL renders the CREATE TABLE IF NOT EXISTS statement for table.
func CreateTableSQL(d Dialect, table string, columns []dataset.Column) (string, error) {
	if err := checkIdent(table); err != nil {
		return "", err
	}

	ddl := tableDDL{
		Table:     table,
		Surrogate: dataset.SurrogateColumn(table),
		Identity:  d.Identity,
	}
	for _, c := range columns {
		if err := checkIdent(c.Name); err != nil {
			return "", err
		}
		typ, ok := d.Types[c.Type]
		if !ok {
			return "", fmt.Errorf("column %s: no %s type for %s", c.Name, d.Name, c.Type)
		}
		ddl.Columns = append(ddl.Columns, columnDDL{Name: c.Name, Type: typ})
	}

	var b strings.Builder
	if err := createTable.Execute(&b, ddl); err != nil {
		return "", fmt.Errorf("render schema for %s: %w", table, err)
	}
	return b.String(), nil
}

// SchemaStatements returns the DDL for every identifier and value table of
// descs, identifier tables first.
func SchemaStatements(d Dialect, descs []dataset.Descriptor) ([]string, error) {
	var stmts []string
	for _, desc := range descs {
		s, err := CreateTableSQL(d, desc.IDTable, desc.IDSchema)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	for _, desc := range descs {
		s, err := CreateTableSQL(d, desc.ValueTable, desc.ValueSchema())
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

// EnsureSchema creates any missing tables. Existing tables are left as they
// are; column drift is reported later by the populator.
func EnsureSchema(ctx context.Context, db *sqlx.DB, d Dialect, descs []dataset.Descriptor) error {
	stmts, err := SchemaStatements(d, descs)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	slog.Info("schema ensured", "component", "store", "dialect", d.Name, "tables", len(stmts))
	return nil
}
