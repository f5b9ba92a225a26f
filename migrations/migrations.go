// Package migrations holds the schema for the outbox store (MySQL) and the
// attempt journal (ClickHouse), applied with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed mysql/*.sql clickhouse/*.sql
var files embed.FS

const (
	MySQL      = "mysql"
	ClickHouse = "clickhouse"
)

var ErrUnknownDialect = errors.New("unknown migration dialect")

// Source returns the embedded migrations of one dialect.
func Source(dialect string) (source.Driver, error) {
	switch dialect {
	case MySQL, ClickHouse:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	return iofs.New(files, dialect)
}

// Up applies every pending migration of dialect on db and returns the resulting version.
// Nothing to apply is not an error. golang-migrate closes db when it is done.
func Up(db *sql.DB, dialect string) (uint, error) {
	src, err := Source(dialect)
	if err != nil {
		return 0, err
	}

	var drv database.Driver
	switch dialect {
	case MySQL:
		drv, err = mysql.WithInstance(db, &mysql.Config{})
	case ClickHouse:
		drv, err = clickhouse.WithInstance(db, &clickhouse.Config{})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create %s migrate driver: %w", dialect, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run %s migrations: %w", dialect, err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}
