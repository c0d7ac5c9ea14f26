package db

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"mac-bot/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RunMigrations applies every pending up migration embedded in the binary.
func RunMigrations(databaseURL string, log *logger.Logger) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	fromVer, _, _ := m.Version()

	start := time.Now()
	upErr := m.Up()
	took := time.Since(start)

	if errors.Is(upErr, migrate.ErrNoChange) {
		log.Infow("Schema is up to date", "version", fromVer)
		return nil
	}
	if upErr != nil {
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, dirty, _ := m.Version()
	log.Infow("Migrations applied",
		"from_ver", fromVer,
		"to_ver", toVer,
		"dirty", dirty,
		"duration", took.Round(time.Millisecond))

	return nil
}
