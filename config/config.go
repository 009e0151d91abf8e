/*
Package config loads server configuration.

PURPOSE:
  One Config struct for the server and CLI. Values come from, in order
  of precedence: command-line flags (cli package), LOYALTY_* environment
  variables, a TOML file, then Default().

FILE FORMAT:
  [server]
  port = 8080
  read_timeout = "10s"
  write_timeout = "10s"
  shutdown_timeout = "10s"
  cors_origins = ["http://localhost:3000"]

  [database]
  driver = "sqlite"       # sqlite | postgres | memory
  dsn = "loyalty.db"

  [ledger]
  max_attempts = 5
  retry_backoff = "10ms"

  [log]
  level = "info"          # debug | info | warn | error
  format = "console"      # console | json

ENVIRONMENT:
  LOYALTY_DB_DRIVER, LOYALTY_DB_DSN, LOYALTY_PORT, LOYALTY_LOG_LEVEL
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	CORSOrigins     []string      `toml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type LedgerConfig struct {
	MaxAttempts  int           `toml:"max_attempts"`
	RetryBackoff time.Duration `toml:"retry_backoff"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "loyalty.db",
		},
		Ledger: LedgerConfig{
			MaxAttempts:  5,
			RetryBackoff: 10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("LOYALTY_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := getenv("LOYALTY_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("LOYALTY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOYALTY_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("LOYALTY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for %s", c.Database.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("ledger.max_attempts must be >= 1")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
