package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewConfigRootCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(NewConfigValidateCmd(flags))
	return cmd
}

func NewConfigValidateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), flags)
			if err != nil {
				return err
			}
			enabled := 0
			for _, mailbox := range cfg.Mailboxes {
				if mailbox.Processing.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok | service=%s mailboxes=%d enabled=%d dead_letters=%t\n",
				cfg.ServiceName, len(cfg.Mailboxes), enabled, cfg.DeadLetters.Enabled)
			return nil
		},
	}
}
