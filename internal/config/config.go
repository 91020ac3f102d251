package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config is the server configuration. Precedence, lowest first:
// Defaults, the yaml file, .env, the process environment, command line flags.
type Config struct {
	ServerID string `yaml:"server_id" env:"NC_SERVER_ID"`
	Listen   string `yaml:"listen" env:"NC_LISTEN"`
	DataDir  string `yaml:"data_dir" env:"NC_DATA_DIR"`
	LogLevel string `yaml:"log_level" env:"NC_LOG_LEVEL"`

	Backend    string        `yaml:"backend" env:"NC_BACKEND"`
	FlushEvery time.Duration `yaml:"flush_every" env:"NC_FLUSH_EVERY"`

	InboxSize         int     `yaml:"inbox_size" env:"NC_INBOX_SIZE"`
	OutboundQueue     int     `yaml:"outbound_queue" env:"NC_OUTBOUND_QUEUE"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"NC_REQUESTS_PER_SECOND"`
	Burst             int     `yaml:"burst" env:"NC_BURST"`
	CheckInvariants   bool    `yaml:"check_invariants" env:"NC_CHECK_INVARIANTS"`

	// AuthSecret signs identity tokens. Empty runs in dev mode.
	AuthSecret string `yaml:"auth_secret" env:"NC_AUTH_SECRET"`

	Index    IndexConfig   `yaml:"index" envPrefix:"NC_INDEX_"`
	AuditLog bool          `yaml:"audit_log" env:"NC_AUDIT_LOG"`
	Archive  ArchiveConfig `yaml:"archive" envPrefix:"NC_ARCHIVE_"`
	Mirror   MirrorConfig  `yaml:"mirror" envPrefix:"NC_MIRROR_"`
	Discord  DiscordConfig `yaml:"discord" envPrefix:"NC_DISCORD_"`
	Tracing  TracingConfig `yaml:"tracing" envPrefix:"NC_OTEL_"`
}

type IndexConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

type ArchiveConfig struct {
	// Every is the version distance between archived blobs; 0 disables archiving.
	Every uint64 `yaml:"every" env:"EVERY"`
	Keep  int    `yaml:"keep" env:"KEEP"`
}

type MirrorConfig struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

func (m MirrorConfig) Enabled() bool { return m.Endpoint != "" && m.Bucket != "" }

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"WEBHOOK_URL"`
	Username   string `yaml:"username" env:"USERNAME"`
}

// TracingConfig enables OTLP/HTTP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	Disabled bool   `yaml:"disabled" env:"DISABLED"`
}

func (t TracingConfig) Enabled() bool { return t.Endpoint != "" && !t.Disabled }

func Defaults() Config {
	return Config{
		ServerID:          "nationcraft",
		Listen:            ":8080",
		DataDir:           "./data",
		LogLevel:          "info",
		Backend:           BackendFile,
		FlushEvery:        30 * time.Second,
		InboxSize:         1024,
		OutboundQueue:     32,
		RequestsPerSecond: 5,
		Burst:             10,
		Index:             IndexConfig{Enabled: true},
		AuditLog:          true,
		Archive:           ArchiveConfig{Every: 1000, Keep: 24},
		Discord:           DiscordConfig{Username: "Nationcraft"},
	}
}

// Load applies the yaml file at path (if non-empty) and then the environment on top of Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadDotEnv reads path into the environment without overriding variables already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ServerID == "" {
		errs = append(errs, errors.New("server_id is required"))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	switch c.Backend {
	case BackendFile, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("backend %q: want %s or %s", c.Backend, BackendFile, BackendBadger))
	}
	if c.FlushEvery <= 0 {
		errs = append(errs, errors.New("flush_every must be positive"))
	}
	if c.InboxSize <= 0 || c.OutboundQueue <= 0 {
		errs = append(errs, errors.New("inbox_size and outbound_queue must be positive"))
	}
	if c.RequestsPerSecond < 0 || c.Burst < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	if c.Mirror.Enabled() && (c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "") {
		errs = append(errs, errors.New("mirror requires access_key_id and secret_access_key"))
	}
	return errors.Join(errs...)
}

// IndexPath is where the sqlite index lives unless configured.
func (c Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(c.DataDir, "index", "nations.sqlite")
}
