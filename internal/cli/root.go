package cli

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "mailflow",
		Short:         "Mailbox to ticket workflow runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "trace, debug, info, warn or error")

	cmd.AddCommand(
		NewRunCmd(flags),
		NewSimulateCmd(flags),
		NewDeadLettersRootCmd(flags),
		NewConfigRootCmd(flags),
	)
	return cmd
}
