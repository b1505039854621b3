// Package database はPostgreSQL接続とスキーママイグレーションを扱う。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateLogger はgolang-migrateの進捗出力をslogに流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l migrateLogger) Verbose() bool { return false }

// NewMigrator は埋め込みマイグレーションを読み込んだmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{logger: slog.Default()}

	return m, nil
}

// MigrationResult は適用後のスキーマバージョン。
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後のバージョンを返す。
// dirty状態のDBには適用せずエラーを返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	if _, dirty, err := m.Version(); err == nil && dirty {
		return MigrationResult{Dirty: true}, errors.New("database is in a dirty migration state")
	}

	var res MigrationResult
	switch err := m.Up(); {
	case err == nil:
		res.Changed = true
	case errors.Is(err, migrate.ErrNoChange):
	default:
		return res, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return res, fmt.Errorf("failed to read migration version: %w", err)
	}
	res.Version, res.Dirty = version, dirty
	return res, nil
}
