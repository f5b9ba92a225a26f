package worker

import "github.com/spf13/cobra"

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(mailerCmd)
	cmd.AddCommand(drainCmd)
	cmd.AddCommand(intakeCmd)

	return cmd
}

// configPath reads the root persistent --config flag.
func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	return p
}
