package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Feed     FeedConfig     `yaml:"feed"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Report   ReportConfig   `yaml:"report"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type FeedConfig struct {
	URL                       string        `yaml:"url"`
	APIKey                    string        `yaml:"api_key"`
	SchoolFilter              string        `yaml:"school_filter"`
	TimeoutSeconds            int           `yaml:"timeout_seconds"`
	SkipCertificateValidation bool          `yaml:"skip_certificate_validation"`
	MaxRetries                int           `yaml:"max_retries"`
	RetryDelay                time.Duration `yaml:"retry_delay"`
	// AuthURL enables bearer authentication: UserToken is exchanged there for an access token.
	AuthURL     string        `yaml:"auth_url"`
	UserToken   string        `yaml:"user_token"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type SyncConfig struct {
	Workers        int    `yaml:"workers"`
	AllowEmptyFeed bool   `yaml:"allow_empty_feed"`
	DateLayout     string `yaml:"date_layout"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
	Dir  string `yaml:"dir"`
}

type ReportConfig struct {
	SpreadsheetID       string        `yaml:"spreadsheet_id"`
	CredentialsFilePath string        `yaml:"credentials_file_path"`
	MaxRetries          int           `yaml:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
}

type ArchiveConfig struct {
	Driver    string `yaml:"driver"`
	Dir       string `yaml:"dir"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

func Default() Config {
	return Config{
		Feed: FeedConfig{
			SchoolFilter:   "ALL",
			TimeoutSeconds: 30,
			RetryDelay:     2000 * time.Millisecond,
			TokenExpiry:    60 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "students.db",
		},
		Sync: SyncConfig{
			Workers:    4,
			DateLayout: "02/01/2006",
		},
		Log: LogConfig{Mode: "dev"},
		Report: ReportConfig{
			MaxRetries: 3,
			RetryDelay: 2000 * time.Millisecond,
		},
		Archive: ArchiveConfig{Region: "us-east-1"},
		Metrics: MetricsConfig{Job: "student_roster_sync"},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file '%s': %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Feed.URL, "FEED_URL")
	setString(&cfg.Feed.APIKey, "FEED_API_KEY")
	setString(&cfg.Feed.SchoolFilter, "FEED_SCHOOL_FILTER")
	setString(&cfg.Feed.AuthURL, "FEED_AUTH_URL")
	setString(&cfg.Feed.UserToken, "USER_TOKEN")
	setString(&cfg.Database.Driver, "DB_DRIVER")
	setString(&cfg.Database.DSN, "DB_DSN")
	setString(&cfg.Sync.DateLayout, "SYNC_DATE_LAYOUT")
	setString(&cfg.Log.Mode, "LOG_MODE")
	setString(&cfg.Log.Dir, "LOG_DIR")
	setString(&cfg.Report.SpreadsheetID, "SPREADSHEET_ID")
	setString(&cfg.Report.CredentialsFilePath, "CREDENTIALS_FILE_PATH")
	setString(&cfg.Archive.Driver, "ARCHIVE_DRIVER")
	setString(&cfg.Archive.Dir, "ARCHIVE_DIR")
	setString(&cfg.Archive.Bucket, "ARCHIVE_S3_BUCKET")
	setString(&cfg.Archive.Region, "ARCHIVE_S3_REGION")
	setString(&cfg.Archive.Endpoint, "ARCHIVE_S3_ENDPOINT")
	setString(&cfg.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
	setString(&cfg.Metrics.Job, "METRICS_JOB")

	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"FEED_TIMEOUT_SECONDS", &cfg.Feed.TimeoutSeconds},
		{"FEED_MAX_RETRIES", &cfg.Feed.MaxRetries},
		{"SYNC_WORKERS", &cfg.Sync.Workers},
		{"REPORT_MAX_RETRIES", &cfg.Report.MaxRetries},
	} {
		if err := setInt(f.dst, f.name); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"FEED_SKIP_CERTIFICATE_VALIDATION", &cfg.Feed.SkipCertificateValidation},
		{"SYNC_ALLOW_EMPTY_FEED", &cfg.Sync.AllowEmptyFeed},
		{"ARCHIVE_S3_PATH_STYLE", &cfg.Archive.PathStyle},
	} {
		if err := setBool(f.dst, f.name); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		name string
		dst  *time.Duration
	}{
		{"FEED_RETRY_DELAY", &cfg.Feed.RetryDelay},
		{"REPORT_RETRY_DELAY", &cfg.Report.RetryDelay},
	} {
		if err := setDuration(f.dst, f.name); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports the first missing or out-of-range setting a sync run needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Feed.URL) == "" {
		return errors.New("feed url is required (FEED_URL)")
	}
	if c.Feed.TimeoutSeconds <= 0 {
		return fmt.Errorf("feed timeout must be positive, got %d", c.Feed.TimeoutSeconds)
	}
	if c.Feed.MaxRetries < 0 {
		return fmt.Errorf("feed max retries must not be negative, got %d", c.Feed.MaxRetries)
	}
	if c.Feed.AuthURL != "" && c.Feed.UserToken == "" {
		return errors.New("user token is required when an auth url is configured (USER_TOKEN)")
	}
	return c.ValidateDatabase()
}

func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for driver %q (DB_DSN)", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}
