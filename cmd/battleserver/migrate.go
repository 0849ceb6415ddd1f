package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/migrations"
)

var (
	migrateDirection string
	migrateSteps     int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDirection, "direction", "up", "migration direction: up or down")
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of steps (0 = all)")
}

func runMigrate(*cobra.Command, []string) error {
	start := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	m, err := migrations.New(cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer m.Close()

	switch migrateDirection {
	case "up":
		if migrateSteps > 0 {
			err = m.Steps(migrateSteps)
		} else {
			err = m.Up()
		}
	case "down":
		if migrateSteps > 0 {
			err = m.Steps(-migrateSteps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("invalid direction %q: must be 'up' or 'down'", migrateDirection)
	}

	noChange := errors.Is(err, migrate.ErrNoChange)
	if err != nil && !noChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, _ := m.Version()
	elapsed := time.Since(start)
	if noChange {
		fmt.Fprintf(os.Stdout, "no changes (version=%d dirty=%v) [%s]\n", version, dirty, elapsed)
	} else {
		fmt.Fprintf(os.Stdout, "migrated %s to version=%d dirty=%v [%s]\n", migrateDirection, version, dirty, elapsed)
	}
	return nil
}
