package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/mail-outbox/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Process due outbox emails on a fixed interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(configPath(cmd), app.Options{RequireDurableStore: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { _ = a.Log.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.Log.Info("mailer started",
			zap.Duration("interval", a.Cfg.Outbox.PollInterval),
			zap.Int("batch_size", a.Cfg.Outbox.BatchSize))
		return a.Handle().Run(ctx)
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process one batch of due emails and exit (cron trigger)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(configPath(cmd), app.Options{RequireDurableStore: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { _ = a.Log.Sync() }()

		n, err := a.Mailer().ProcessDueBatch(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf(">> processed %d emails\n", n)
		return nil
	},
}
