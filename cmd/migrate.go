package cmd

import (
	"fmt"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/db"
	"github.com/jmehdipour/mail-outbox/migrations"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the outbox table (MySQL) and the attempt journal (ClickHouse, when configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open mysql: %w", err)
		}
		version, err := migrations.Up(sqlDB.DB, migrations.MySQL)
		if err != nil {
			return err
		}
		fmt.Printf(">> %s at version %d\n", migrations.MySQL, version)

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			version, err := migrations.Up(chDB.DB, migrations.ClickHouse)
			if err != nil {
				return err
			}
			fmt.Printf(">> %s at version %d\n", migrations.ClickHouse, version)
		}

		fmt.Println(">> Migration complete")
		return nil
	},
}
