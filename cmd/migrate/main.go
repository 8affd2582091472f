package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/wolfman30/clinic-portal/internal/config"
	appmigrations "github.com/wolfman30/clinic-portal/migrations"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var databaseURL string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply clinic-portal database migrations",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (defaults to DATABASE_URL)")

	withMigrator := func(run func(m *migrate.Migrate, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSpace(databaseURL)
			if url == "" {
				url = config.Load().DatabaseURL
			}
			m, closeFn, err := openMigrator(url)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(m, args)
		}
	}

	logger := logging.New("info")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(m *migrate.Migrate, _ []string) error {
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}
			logger.Info("migrations complete")
			return nil
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrator(func(m *migrate.Migrate, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			logger.Info("rolled back migrations", "steps", steps)
			return nil
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Set the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(m *migrate.Migrate, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			if err := m.Force(version); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			logger.Info("forced migration version", "version", version)
			return nil
		}),
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: withMigrator(func(m *migrate.Migrate, _ []string) error {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("no migrations applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Printf("version %d (dirty=%t)\n", version, dirty)
			return nil
		}),
	})
	return root
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps < 1 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return steps, nil
}

func openMigrator(databaseURL string) (*migrate.Migrate, func(), error) {
	if databaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, func() { _, _ = m.Close() }, nil
}
