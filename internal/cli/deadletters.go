package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-mailflow/core"
	sqlstore "github.com/goliatone/go-mailflow/store/sql"
)

func NewDeadLettersRootCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect the dead letter journal",
	}
	cmd.AddCommand(
		NewDeadLettersListCmd(flags),
		NewDeadLettersSummaryCmd(flags),
		NewDeadLettersPruneCmd(flags),
	)
	return cmd
}

func NewDeadLettersListCmd(flags *globalFlags) *cobra.Command {
	var (
		filter sqlstore.DeadLetterFilter
		reason string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, flags)
			if err != nil {
				return err
			}
			journal, _, err := openJournal(ctx, cfg.DeadLetters)
			if err != nil {
				return err
			}
			defer journal.Close()

			filter.Reason = core.DropReason(reason)
			if since > 0 {
				cutoff := time.Now().UTC().Add(-since)
				filter.Since = &cutoff
			}
			page, err := journal.DeadLetters().List(ctx, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, "No dead letters.")
				return nil
			}
			for _, item := range page.Items {
				fmt.Fprintf(out, "%s | %s | mailbox=%s stage=%s reason=%s attempts=%d/%d escalated=%t | %s\n",
					item.OccurredAt.Format(time.RFC3339), item.JobID, item.Mailbox, item.Stage,
					item.Reason, item.Attempts, item.MaxRetries, item.Escalated, item.Error)
			}
			fmt.Fprintf(out, "page %d, %d of %d\n", page.Page, len(page.Items), page.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Mailbox, "mailbox", "", "only this mailbox")
	cmd.Flags().StringVar(&filter.JobID, "job", "", "only this job id")
	cmd.Flags().StringVar(&reason, "reason", "", "exhausted, fatal or programming")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this age")
	cmd.Flags().IntVar(&filter.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&filter.PerPage, "per-page", 25, "entries per page")
	return cmd
}

func NewDeadLettersSummaryCmd(flags *globalFlags) *cobra.Command {
	var mailbox string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count dead letters by reason",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, flags)
			if err != nil {
				return err
			}
			journal, cached, err := openJournal(ctx, cfg.DeadLetters)
			if err != nil {
				return err
			}
			defer journal.Close()

			summary, err := cached.Summary(ctx, mailbox)
			if err != nil {
				return err
			}
			scope := summary.Mailbox
			if scope == "" {
				scope = "all mailboxes"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s | total=%d escalated=%d\n", scope, summary.Total, summary.Escalated)
			for _, item := range summary.Reasons {
				fmt.Fprintf(out, "  %s: %d (escalated %d)\n", item.Reason, item.Total, item.Escalated)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mailbox, "mailbox", "", "only this mailbox")
	return cmd
}

func NewDeadLettersPruneCmd(flags *globalFlags) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete dead letters older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("cli: --older-than must be positive")
			}
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, flags)
			if err != nil {
				return err
			}
			journal, cached, err := openJournal(ctx, cfg.DeadLetters)
			if err != nil {
				return err
			}
			defer journal.Close()

			removed, err := cached.Prune(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d dead letters.\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "retention window")
	return cmd
}
