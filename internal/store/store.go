// Package store loads normalized frames into the relational tables.
package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/withObsrvr/obsrvr-bis-pipeline/internal/dataset"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
	sqlx.BindDriver("pgx", sqlx.DOLLAR)
}

// ErrUnknownDriver is returned for an unsupported Config.Driver.
var ErrUnknownDriver = errors.New("unknown database driver")

// Config describes the storage connection and load behaviour.
type Config struct {
	Driver    string // "mysql" | "postgres" | "sqlite"
	Host      string
	Port      int
	User      string
	Password  string
	Database  string // database name, or file path for sqlite
	DedupMode string // "index" | "key"
	BatchSize int
}

// Dialect carries the per-engine DDL vocabulary.
type Dialect struct {
	Name       string
	DriverName string
	Identity   string
	Types      map[dataset.ColumnType]string
}

var dialects = map[string]Dialect{
	"mysql": {
		Name:       "mysql",
		DriverName: "mysql",
		Identity:   "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
		Types: map[dataset.ColumnType]string{
			dataset.Text:   "TEXT",
			dataset.Int:    "BIGINT",
			dataset.Float:  "DOUBLE",
			dataset.Period: "VARCHAR(32)",
		},
	},
	"postgres": {
		Name:       "postgres",
		DriverName: "pgx",
		Identity:   "BIGSERIAL PRIMARY KEY",
		Types: map[dataset.ColumnType]string{
			dataset.Text:   "TEXT",
			dataset.Int:    "BIGINT",
			dataset.Float:  "DOUBLE PRECISION",
			dataset.Period: "VARCHAR(32)",
		},
	},
	"sqlite": {
		Name:       "sqlite",
		DriverName: "sqlite",
		Identity:   "INTEGER PRIMARY KEY AUTOINCREMENT",
		Types: map[dataset.ColumnType]string{
			dataset.Text:   "TEXT",
			dataset.Int:    "INTEGER",
			dataset.Float:  "REAL",
			dataset.Period: "TEXT",
		},
	},
}

// DialectFor returns the dialect of a configured driver.
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return Dialect{}, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return d, nil
}

// DSN builds the driver name and data source name for cfg.
func (c Config) DSN() (string, string, error) {
	d, err := DialectFor(c.Driver)
	if err != nil {
		return "", "", err
	}

	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	switch c.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = c.Database
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return d.DriverName, mc.FormatDSN(), nil
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.User, c.Password),
			Host:   addr,
			Path:   "/" + c.Database,
		}
		return d.DriverName, u.String(), nil
	default:
		return d.DriverName, c.Database, nil
	}
}

// Open connects and pings the configured database. The handle is limited to
// one connection; callers close it when their statement sequence is done.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driverName, dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkIdent guards names interpolated into SQL text.
func checkIdent(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}
