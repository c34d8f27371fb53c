package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mekleo/dnsvantage/internal/app/migrate"
	"github.com/mekleo/dnsvantage/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	flags := migrateCmd.Flags()
	flags.String("command", "up", "migrate command (up|status|down)")
	flags.Duration("timeout", time.Minute, "command timeout")
	flags.Int64("target", 0, "target version for down command (optional)")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.New("migrate", cfg.LogLevel)

	command, _ := cmd.Flags().GetString("command")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	target, _ := cmd.Flags().GetInt64("target")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	runner, err := migrate.New(cfg.DatabaseURL(), cfg.MigrationsDir, log)
	if err != nil {
		return fmt.Errorf("configure migration runner: %w", err)
	}

	switch command {
	case "up":
		return runner.Ensure(ctx)
	case "status":
		return runner.Status(ctx)
	case "down":
		return runner.Down(ctx, target)
	default:
		return fmt.Errorf("unsupported migrate command %q", command)
	}
}
