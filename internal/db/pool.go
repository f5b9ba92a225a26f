package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmoiron/sqlx"
)

const defaultPingTimeout = 5 * time.Second

// configurePool applies pool limits and pings; the handle is closed on ping failure.
func configurePool(db *sqlx.DB, c config.DatabaseConfig) (*sqlx.DB, error) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	if c.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
	}

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func wrap(raw *sql.DB, driver string) *sqlx.DB {
	return sqlx.NewDb(raw, driver)
}
