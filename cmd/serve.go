package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/mail-outbox/internal/app"
	httpSrv "github.com/jmehdipour/mail-outbox/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP API and the in-process outbox worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Bootstrap(cfgPath, app.Options{Redis: true})
		if err != nil {
			return err
		}
		defer a.Close()
		defer func() { _ = a.Log.Sync() }()

		server := httpSrv.NewServer(a.Cfg, httpSrv.Deps{
			Queue:   a.Queue,
			Journal: a.Journal,
			Redis:   a.Redis,
			Log:     a.Log,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return server.Run(ctx, a.Cfg.HTTP.Addr) })

		if a.Cfg.WorkerEnabled() {
			handle := a.Handle()
			g.Go(func() error { return handle.Run(ctx) })
		} else {
			a.Log.Info("outbox worker disabled", zap.String("env", a.Cfg.Env))
		}

		return g.Wait()
	},
}
