package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	mailflow "github.com/goliatone/go-mailflow"
	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/inbound"
	"github.com/goliatone/go-mailflow/providers/devkit"
)

const defaultSimulateTimeout = 30 * time.Second

type simulateFlags struct {
	fixture string
	mailbox string
	timeout time.Duration
}

// SimulationReport is what a simulate run produced.
type SimulationReport struct {
	Polls       map[string]inbound.PollResult
	Tickets     int
	Notes       int
	Attachments int
	Alerts      []core.Alert
	DeadLetters []core.DeadLetter
}

func NewSimulateCmd(flags *globalFlags) *cobra.Command {
	opts := &simulateFlags{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run fixture messages through in-memory providers once",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := simulate(cmd, flags, opts)
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "YAML fixture with accounts, contacts and messages")
	cmd.Flags().StringVar(&opts.mailbox, "mailbox", "", "mailbox that receives fixture messages (default: first)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultSimulateTimeout, "maximum time to wait for queued jobs")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func simulate(cmd *cobra.Command, flags *globalFlags, opts *simulateFlags) (SimulationReport, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx, flags)
	if err != nil {
		return SimulationReport{}, err
	}
	if len(cfg.Mailboxes) == 0 {
		mailbox := core.DefaultMailboxConfig()
		mailbox.Name = "support"
		mailbox.Address = "support@example.com"
		cfg.Mailboxes = append(cfg.Mailboxes, mailbox)
	}
	fixture, err := devkit.LoadFixture(opts.fixture)
	if err != nil {
		return SimulationReport{}, err
	}
	backend := newDevkitBackend(fixture, opts.mailbox)

	logs := loggerProvider(cmd, flags)
	alerts := devkit.NewRecordingEscalationSink()
	deadLetters := &memoryDeadLetters{}
	recorders := recorderChain{deadLetters}
	if cfg.DeadLetters.Enabled {
		journal, cached, err := openJournal(ctx, cfg.DeadLetters)
		if err != nil {
			return SimulationReport{}, err
		}
		defer journal.Close()
		recorders = append(recorders, cached)
	}

	rt, err := mailflow.NewRuntime(ctx, cfg, backend.Factory,
		mailflow.WithLoggerProvider(logs),
		mailflow.WithEscalationSink(alerts),
		mailflow.WithDeadLetterRecorder(recorders),
		mailflow.WithRetrySleeper(skipWait),
	)
	if err != nil {
		return SimulationReport{}, err
	}
	defer rt.Stop()

	polls, err := rt.PollOnce(ctx)
	if err != nil {
		return SimulationReport{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := rt.Wait(waitCtx); err != nil {
		return SimulationReport{}, fmt.Errorf("cli: jobs still running after %s: %w", opts.timeout, err)
	}

	return SimulationReport{
		Polls:       polls,
		Tickets:     len(backend.ticketing.CreatedTickets()),
		Notes:       len(backend.ticketing.CreatedNotes()),
		Attachments: len(backend.ticketing.CreatedAttachments()),
		Alerts:      alerts.Alerts(),
		DeadLetters: deadLetters.Entries(),
	}, nil
}

// skipWait retries immediately.
func skipWait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func writeReport(w io.Writer, report SimulationReport) error {
	names := make([]string, 0, len(report.Polls))
	for name := range report.Polls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		poll := report.Polls[name]
		if _, err := fmt.Fprintf(w, "mailbox %s | listed=%d started=%d skipped=%d failed=%d\n",
			name, poll.Listed, poll.Started, poll.Skipped, poll.Failed); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "tickets=%d notes=%d attachments=%d alerts=%d dead_letters=%d\n",
		report.Tickets, report.Notes, report.Attachments, len(report.Alerts), len(report.DeadLetters)); err != nil {
		return err
	}
	for _, alert := range report.Alerts {
		if _, err := fmt.Fprintf(w, "alert %s | %s\n", alert.Alias, alert.Message); err != nil {
			return err
		}
	}
	for _, entry := range report.DeadLetters {
		if _, err := fmt.Fprintf(w, "dead letter %s | stage=%s reason=%s attempts=%d\n",
			entry.JobID, entry.Stage, entry.Reason, entry.Attempts); err != nil {
			return err
		}
	}
	return nil
}
