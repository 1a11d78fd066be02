package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/launchfleet/launchbot/internal/config"
	pgstore "github.com/launchfleet/launchbot/internal/state/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			withMigrator(func(m *migrate.Migrate) error { return m.Up() })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back one migration",
		Run: func(cmd *cobra.Command, args []string) {
			withMigrator(func(m *migrate.Migrate) error { return m.Steps(-1) })
		},
	})
	return cmd
}

func withMigrator(run func(*migrate.Migrate) error) {
	dsn, err := resolveDSN()
	if err != nil {
		slog.Error("migrate: no database configured", "error", err)
		os.Exit(1)
	}
	m, err := pgstore.NewMigrator(dsn)
	if err != nil {
		slog.Error("migrate: create migrator failed", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := run(m); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("migrate: no change")
			return
		}
		slog.Error("migrate: failed", "error", err)
		os.Exit(1)
	}
	slog.Info("migrate: done")
}

func resolveDSN() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.DSN == "" {
		return "", fmt.Errorf("store.dsn is empty (set LAUNCHBOT_STORE_DSN)")
	}
	return cfg.Store.DSN, nil
}
