// Package migrations применяет встроенные SQL-миграции схемы ссылок.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migrator обёртка над golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	source  source.Driver
	logger  *zap.Logger
}

// New создаёт мигратор для базы по databaseURL (postgres://...)
func New(databaseURL string, logger *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(migrationsFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return &Migrator{migrate: m, source: src, logger: logger}, nil
}

// Up применяет все недостающие миграции. При грязном состоянии версия откатывается
// на предыдущую, и упавшая миграция выполняется заново (миграции идемпотентны).
func (m *Migrator) Up() error {
	version, dirty, err := m.migrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if dirty {
		prev, err := m.previousVersion(version)
		if err != nil {
			return err
		}
		m.logger.Warn("Schema is dirty, retrying failed migration",
			zap.Uint("dirty_version", version),
			zap.Int("forced_version", prev),
		)
		if err := m.migrate.Force(prev); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("Schema is up to date", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	newVersion, _, _ := m.migrate.Version()
	m.logger.Info("Migrations applied", zap.Uint("version", newVersion))
	return nil
}

// previousVersion версия перед version; для первой миграции NilVersion (схема пустая)
func (m *Migrator) previousVersion(version uint) (int, error) {
	prev, err := m.source.Prev(version)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return database.NilVersion, nil
		}
		return 0, fmt.Errorf("failed to find migration before %d: %w", version, err)
	}
	return int(prev), nil
}

// Down откатывает все миграции
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
