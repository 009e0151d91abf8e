// Package cli implements the loyalty command: the HTTP server plus the
// operator commands that share its configuration and stores.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/warp/loyalty-engine/api"
	"github.com/warp/loyalty-engine/config"
	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/generic/store"
	"github.com/warp/loyalty-engine/logging"
	"github.com/warp/loyalty-engine/metrics"
	"github.com/warp/loyalty-engine/store/postgres"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func init() {
	f := rootCmd.PersistentFlags()
	f.StringP("config", "c", "", "Path to a TOML config file")
	f.String("db-driver", "", "Database driver: sqlite, postgres or memory")
	f.String("db-dsn", "", "Database path (sqlite) or connection string (postgres)")
	f.String("log-level", "", "Log level: debug, info, warn or error")
	f.String("log-format", "", "Log format: console or json")
}

var rootCmd = &cobra.Command{
	Use:   "loyalty",
	Short: "Campus loyalty points ledger",
	Long: `Loyalty runs the points ledger HTTP API and provides operator
commands for schema migration, demo data, accounts and promotions.

Configuration is read from --config (TOML), then LOYALTY_* environment
variables, then flags.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// loadConfig reads the config file and environment, then applies any
// flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		cfg.Database.Driver, _ = flags.GetString("db-driver")
	}
	if flags.Changed("db-dsn") {
		cfg.Database.DSN, _ = flags.GetString("db-dsn")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Lookup("port") != nil && flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	return cfg, cfg.Validate()
}

// setup loads config and returns a context carrying the configured logger.
func setup(cmd *cobra.Command) (context.Context, config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, config.Config{}, zerolog.Nop(), err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithContext(ctx, logger), cfg, logger, nil
}

// openStore opens the configured store, migrating the schema if needed.
func openStore(ctx context.Context, cfg config.Config) (api.Store, func(), error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// newHandler builds the API handler with the ledger tuned from cfg.
// m may be nil.
func newHandler(st api.Store, cfg config.Config, m *metrics.Metrics) *api.Handler {
	h := api.NewHandler(st)
	h.Ledger.MaxAttempts = cfg.Ledger.MaxAttempts
	h.Ledger.Backoff = cfg.Ledger.RetryBackoff
	if m != nil {
		h.Ledger.Observer = m
	}
	return h
}

// operator is the identity used for catalog writes made from the CLI.
var operator = generic.Actor{Utorid: "cli", Role: generic.RoleSuperuser}
