package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmoiron/sqlx"
)

// MySQLDSN forces the options the outbox relies on: DATETIME columns scan into
// time.Time in UTC.
func MySQLDSN(dsn string) (string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// NewMySQLConnection opens the outbox store.
func NewMySQLConnection(c config.DatabaseConfig) (*sqlx.DB, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	dsn, err := MySQLDSN(c.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return configurePool(db, c)
}
