package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Report     ReportConfig     `yaml:"report"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Datasets restricts the run to these dataset codes. Empty means all.
	Datasets []string `yaml:"datasets"`
}

type SourceConfig struct {
	BaseURL         string        `yaml:"base_url"`
	DataDir         string        `yaml:"data_dir"`
	MaxArchiveBytes int64         `yaml:"max_archive_bytes"`
	MaxMemberBytes  int64         `yaml:"max_member_bytes"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"` // 0 waits indefinitely
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "mysql" | "postgres" | "sqlite"
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	DedupMode    string `yaml:"dedup_mode"` // "index" | "key"
	BatchSize    int    `yaml:"batch_size"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type LogConfig struct {
	File   string `yaml:"file"`
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	Stderr bool   `yaml:"stderr"`
}

type SnapshotConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"` // "local" | "gcs" | "s3"
	LocalDir   string `yaml:"local_dir"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

type CatalogConfig struct {
	ManifestPath string `yaml:"manifest_path"` // empty: <data_dir>/run_manifest.json
	PostgresDSN  string `yaml:"postgres_dsn"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // empty: <data_dir>
}

type MetricsConfig struct {
	Namespace    string `yaml:"namespace"`
	TextfilePath string `yaml:"textfile_path"`
	PushURL      string `yaml:"push_url"`
	Job          string `yaml:"job"`
}

type ReportConfig struct {
	ChartDir string        `yaml:"chart_dir"`
	Width    float64       `yaml:"width_inches"`
	Height   float64       `yaml:"height_inches"`
	Charts   []ChartConfig `yaml:"charts"`
}

// ChartConfig overrides the built-in chart set when present in a config file.
type ChartConfig struct {
	File    string         `yaml:"file"`
	Title   string         `yaml:"title"`
	YLabel  string         `yaml:"y_label"`
	Dataset string         `yaml:"dataset"`
	From    string         `yaml:"from"`
	To      string         `yaml:"to"`
	Rebase  bool           `yaml:"rebase"`
	Change  bool           `yaml:"percent_change"` // plot period-over-period change
	Series  []SeriesConfig `yaml:"series"`
}

type SeriesConfig struct {
	Label     string `yaml:"label"`
	Area      string `yaml:"area"`
	Frequency string `yaml:"frequency"`
	Unit      string `yaml:"unit"`
}

// Load reads configuration from the environment, then applies the YAML file
// named by CONFIG_FILE on top of it.
func Load() (Config, error) {
	cfg := FromEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() Config {
	return Config{
		Source: SourceConfig{
			BaseURL:         getenvDefault("BASE_URL", "https://www.bis.org/statistics/"),
			DataDir:         getenvDefault("DATA_DIR", "../data/"),
			MaxArchiveBytes: parseInt64(getenvDefault("MAX_ARCHIVE_BYTES", "1073741824")),
			MaxMemberBytes:  parseInt64(getenvDefault("MAX_MEMBER_BYTES", "4294967296")),
			HTTPTimeout:     parseDuration(os.Getenv("HTTP_TIMEOUT")),
		},
		Database: DatabaseConfig{
			Driver:       getenvDefault("DB_DRIVER", "mysql"),
			Host:         os.Getenv("HOST"),
			Port:         parseInt(getenvDefault("PORT", "3306")),
			User:         os.Getenv("USER"),
			Password:     os.Getenv("PASSWORD"),
			Name:         os.Getenv("DB_NAME"),
			DedupMode:    getenvDefault("DEDUP_MODE", "index"),
			BatchSize:    parseInt(getenvDefault("BATCH_SIZE", "500")),
			EnsureSchema: getenvDefault("ENSURE_SCHEMA", "true") == "true",
		},
		Log: LogConfig{
			File:   getenvDefault("LOG_FILE", "pipeline.log"),
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Stderr: os.Getenv("LOG_STDERR") == "true",
		},
		Snapshot: SnapshotConfig{
			Enabled:    os.Getenv("SNAPSHOT_ENABLED") == "true",
			Backend:    getenvDefault("SNAPSHOT_BACKEND", "local"),
			LocalDir:   getenvDefault("SNAPSHOT_DIR", "../data/snapshots"),
			Bucket:     os.Getenv("SNAPSHOT_BUCKET"),
			Prefix:     getenvDefault("SNAPSHOT_PREFIX", "bis/"),
			S3Endpoint: os.Getenv("SNAPSHOT_S3_ENDPOINT"),
			S3Region:   os.Getenv("SNAPSHOT_S3_REGION"),
		},
		Metrics: MetricsConfig{
			Namespace:    getenvDefault("METRICS_NAMESPACE", "bis_pipeline"),
			TextfilePath: os.Getenv("METRICS_TEXTFILE"),
			PushURL:      os.Getenv("METRICS_PUSH_URL"),
			Job:          getenvDefault("METRICS_JOB", "bis_pipeline"),
		},
		Report: ReportConfig{
			ChartDir: getenvDefault("CHART_DIR", "."),
			Width:    10,
			Height:   5,
		},
		Catalog: CatalogConfig{
			ManifestPath: os.Getenv("RUN_MANIFEST"),
			PostgresDSN:  os.Getenv("CATALOG_DSN"),
		},
		Checkpoint: CheckpointConfig{
			Enabled: getenvDefault("CHECKPOINT_ENABLED", "true") == "true",
			Dir:     os.Getenv("CHECKPOINT_DIR"),
		},
		Datasets: splitList(os.Getenv("DATASETS")),
	}
}

// ManifestPath returns where the run manifest is written.
func (c Config) ManifestPath() string {
	if c.Catalog.ManifestPath != "" {
		return c.Catalog.ManifestPath
	}
	return filepath.Join(c.Source.DataDir, "run_manifest.json")
}

// CheckpointDir returns where the archive checkpoint is kept.
func (c Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	return c.Source.DataDir
}

// ApplyFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot act on.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Database.DedupMode {
	case "index", "key":
	default:
		return fmt.Errorf("unsupported DEDUP_MODE %q", c.Database.DedupMode)
	}
	if c.Database.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Database.BatchSize)
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if c.Source.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.Snapshot.Enabled {
		switch c.Snapshot.Backend {
		case "local", "gcs", "s3":
		default:
			return fmt.Errorf("unsupported SNAPSHOT_BACKEND %q", c.Snapshot.Backend)
		}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseInt(v string) int {
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return parsed
}

func parseInt64(v string) int64 {
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func parseDuration(v string) time.Duration {
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
