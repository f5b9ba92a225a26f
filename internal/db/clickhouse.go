package db

import (
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the attempt journal store,
// e.g. clickhouse://default:@localhost:9000/mailoutbox?dial_timeout=5s&compress=true
func NewClickHouseConnection(c config.DatabaseConfig) (*sqlx.DB, error) {
	opts, err := clickhouse.ParseDSN(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	return configurePool(wrap(clickhouse.OpenDB(opts), "clickhouse"), c)
}
