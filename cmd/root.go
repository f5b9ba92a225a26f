package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/mail-outbox/cmd/worker"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:           "mail-outbox",
		Short:         "Reliable email outbox CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults + MAILOUTBOX_* env when empty)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}
