package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cbodonnell/flywheel-exchange/pkg/log"
	"github.com/cbodonnell/flywheel-exchange/pkg/repositories"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "EXCHANGE_"

// Database URL schemes understood by the server.
const (
	SchemeSQLite   = "sqlite"
	SchemePostgres = "postgresql"
	SchemeMemory   = "memory"
)

type Config struct {
	Port            int            `yaml:"port" env:"PORT"`
	LogLevel        string         `yaml:"log_level" env:"LOG_LEVEL"`
	DatabaseURL     string         `yaml:"database_url" env:"DATABASE_URL"`
	Migrations      string         `yaml:"migrations" env:"MIGRATIONS"`
	BeltCapacity    int            `yaml:"belt_capacity" env:"BELT_CAPACITY"`
	ReceiptBuffer   int            `yaml:"receipt_buffer" env:"RECEIPT_BUFFER"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Firebase        FirebaseConfig `yaml:"firebase" envPrefix:"FIREBASE_"`
	TLS             TLSConfig      `yaml:"tls" envPrefix:"TLS_"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id" env:"PROJECT_ID"`
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// Enabled reports whether the server should terminate TLS itself.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func Default() Config {
	return Config{
		Port:            8080,
		LogLevel:        "info",
		DatabaseURL:     "memory://",
		BeltCapacity:    repositories.DefaultBeltCapacity,
		ReceiptBuffer:   1000,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// the -config flag, then EXCHANGE_* environment variables, then the
// remaining command-line flags.
func Load(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("exchange", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	port := fs.Int("port", cfg.Port, "Port to listen on")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level")
	databaseURL := fs.String("database-url", cfg.DatabaseURL, "Database URL (sqlite://, postgresql:// or memory://)")
	migrations := fs.String("migrations", cfg.Migrations, "Migrations directory")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %v", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "log-level":
			cfg.LogLevel = *logLevel
		case "database-url":
			cfg.DatabaseURL = *databaseURL
		case "migrations":
			cfg.Migrations = *migrations
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v", path, err)
	}
	return nil
}

// DatabaseScheme returns the scheme of DatabaseURL. "postgres" is an alias
// for "postgresql".
func (c Config) DatabaseScheme() string {
	scheme, _, ok := strings.Cut(c.DatabaseURL, "://")
	if !ok {
		return ""
	}
	if scheme == "postgres" {
		return SchemePostgres
	}
	return scheme
}

// SQLitePath returns the file path of a sqlite:// database URL.
func (c Config) SQLitePath() string {
	return strings.TrimPrefix(c.DatabaseURL, SchemeSQLite+"://")
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := log.ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.DatabaseScheme() {
	case SchemeMemory:
	case SchemeSQLite:
		if c.SQLitePath() == "" {
			return fmt.Errorf("sqlite database URL has no path")
		}
		if c.Migrations == "" {
			return fmt.Errorf("migrations directory is required for %s", SchemeSQLite)
		}
	case SchemePostgres:
		if c.Migrations == "" {
			return fmt.Errorf("migrations directory is required for %s", SchemePostgres)
		}
	default:
		return fmt.Errorf("unsupported database URL %q", c.DatabaseURL)
	}
	if c.BeltCapacity <= 0 {
		return fmt.Errorf("belt capacity must be positive, got %d", c.BeltCapacity)
	}
	if c.ReceiptBuffer <= 0 {
		return fmt.Errorf("receipt buffer must be positive, got %d", c.ReceiptBuffer)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase project id is required")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key must be set together")
	}
	return nil
}
