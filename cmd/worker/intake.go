package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/mail-outbox/internal/app"
	"github.com/jmehdipour/mail-outbox/internal/kafka"
	"github.com/jmehdipour/mail-outbox/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Consume email requests from Kafka into the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(configPath(cmd), app.Options{RequireDurableStore: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { _ = a.Log.Sync() }()

		if len(a.Cfg.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		consumer := kafka.NewConsumer(a.Cfg.Kafka)
		defer consumer.Close()

		a.Log.Info("intake started",
			zap.Strings("brokers", a.Cfg.Kafka.Brokers),
			zap.String("topic", a.Cfg.Kafka.Topic),
			zap.String("group_id", a.Cfg.Kafka.GroupID))
		return worker.NewIntake(consumer, a.Queue, a.Log).Run(ctx)
	},
}
