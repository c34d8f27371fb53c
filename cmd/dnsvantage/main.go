package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mekleo/dnsvantage/internal/repository/postgres"
	"github.com/mekleo/dnsvantage/pkg/config"
)

var buildVersion = "dev"

var rootCmd = &cobra.Command{
	Use:           "dnsvantage",
	Short:         "DNS latency probing agent",
	Long:          "dnsvantage resolves random labels under tracked domains on a fixed\ninterval and keeps running latency statistics in PostgreSQL.",
	Version:       buildVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file")
	flags.String("db-name", "", "database name")
	flags.String("db-user", "", "database user")
	flags.String("db-password", "", "database password")
	flags.Bool("db-password-prompt", false, "prompt for the database password")
	flags.String("db-host", "", "database host")
	flags.Int("db-port", 0, "database port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, addCmd, removeCmd, listCmd, migrateCmd)
}

// loadConfig resolves configuration in precedence order: command line flags
// over config file values over environment defaults.
func loadConfig(cmd *cobra.Command) (config.AgentConfig, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		return cfg, err
	}
	if flags.Changed("db-name") {
		cfg.DBName, _ = flags.GetString("db-name")
	}
	if flags.Changed("db-user") {
		cfg.DBUser, _ = flags.GetString("db-user")
	}
	if flags.Changed("db-password") {
		cfg.DBPassword, _ = flags.GetString("db-password")
	}
	if flags.Changed("db-host") {
		cfg.DBHost, _ = flags.GetString("db-host")
	}
	if flags.Changed("db-port") {
		cfg.DBPort, _ = flags.GetInt("db-port")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if prompt, _ := flags.GetBool("db-password-prompt"); prompt {
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", cfg.DBUser, cfg.DBHost)
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if err != nil {
			return cfg, fmt.Errorf("read password: %w", err)
		}
		cfg.DBPassword = strings.TrimSpace(string(secret))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openStore connects the pgx pool and verifies the connection.
func openStore(ctx context.Context, cfg config.AgentConfig, log *slog.Logger) (*postgres.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	store := postgres.New(pool, log)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
