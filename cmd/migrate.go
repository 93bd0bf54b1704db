package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/gohive/internal/config"
	"github.com/nextlevelbuilder/gohive/internal/store/pg"
	"github.com/nextlevelbuilder/gohive/internal/store/sqlite"
)

// Migrations are embedded in the store packages, so this command needs no
// migrations directory on disk. The serve path migrates on open anyway; this
// exists for operators who want schema changes applied ahead of a deploy.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())
	return cmd
}

// newMigrator opens the configured database and returns a migrator over the
// matching embedded migration set. Callers own both closes.
func newMigrator() (*migrate.Migrate, *sql.DB, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	switch cfg.Database.Mode {
	case "managed":
		if cfg.Database.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("GOHIVE_POSTGRES_DSN environment variable is not set")
		}
		db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		m, err := pg.Migrator(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return m, db, nil
	case "standalone", "":
		if cfg.Database.Path == "" {
			return nil, nil, fmt.Errorf("database.path is not set")
		}
		db, err := sql.Open("sqlite", "file:"+config.ExpandHome(cfg.Database.Path))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		m, err := sqlite.Migrator(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return m, db, nil
	default:
		return nil, nil, fmt.Errorf("unknown database mode %q", cfg.Database.Mode)
	}
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := newMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := m.Version()
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := newMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if steps <= 0 {
				steps = 1
			}
			if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := m.Version()
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, db, err := newMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			v, dirty, err := m.Version()
			if err != nil {
				return fmt.Errorf("get version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force set migration version (no migration applied)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			m, db, err := newMigrator()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := m.Force(version); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			fmt.Printf("forced version: %d\n", version)
			return nil
		},
	}
}
