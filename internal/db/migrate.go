// Package db owns the schema and its migrations.
package db

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// New builds a migrator over the embedded migrations.
func New(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, driverURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies pending migrations. An up-to-date schema is not an error.
func Up(databaseURL string, logger *zerolog.Logger) error {
	m, err := New(databaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	logVersion(m, logger)
	return nil
}

// Steps moves the schema n migrations forward, or back when n is negative.
func Steps(databaseURL string, n int, logger *zerolog.Logger) error {
	m, err := New(databaseURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)
	if err := m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate steps %d: %w", n, err)
	}
	logVersion(m, logger)
	return nil
}

// driverURL points postgres URLs at the pgx/v5 migrate driver.
func driverURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

func logVersion(m *migrate.Migrate, logger *zerolog.Logger) {
	if logger == nil {
		return
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warn().Err(err).Msg("read schema version")
		return
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}

func closeMigrator(m *migrate.Migrate, logger *zerolog.Logger) {
	srcErr, dbErr := m.Close()
	if logger == nil {
		return
	}
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn().Err(err).Msg("close migrator")
	}
}
