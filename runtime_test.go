package mailflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	mailflow "github.com/goliatone/go-mailflow"
	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/metrics"
	"github.com/goliatone/go-mailflow/providers/devkit"
	"github.com/goliatone/go-mailflow/workflow"
)

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig(names ...string) mailflow.Config {
	cfg := mailflow.DefaultConfig()
	for _, name := range names {
		mailbox := core.DefaultMailboxConfig()
		mailbox.Name = name
		mailbox.Address = name + "@example.com"
		cfg.Mailboxes = append(cfg.Mailboxes, mailbox)
	}
	return cfg
}

type fakes struct {
	ticketing *devkit.FakeTicketing
	mailbox   *devkit.FakeMailbox
}

func newFakes(address string) fakes {
	ticketing := devkit.NewFakeTicketing()
	ticketing.AddAccount(workflow.Account{ID: "0", Name: "Unassigned"})
	ticketing.AddAccount(workflow.Account{ID: "42", Name: "Acme"}, "acme.test")
	return fakes{ticketing: ticketing, mailbox: devkit.NewFakeMailbox(address)}
}

func (f fakes) providers() mailflow.Providers {
	return mailflow.Providers{Mailbox: f.mailbox, Ticketing: f.ticketing}
}

func TestRuntime_PollOnceDrivesMessageToTicket(t *testing.T) {
	support := newFakes("support@example.com")
	registry := metrics.NewRegistry()
	rt, err := mailflow.NewRuntime(context.Background(), testConfig("support"),
		mailflow.StaticProviders(map[string]mailflow.Providers{"support": support.providers()}),
		mailflow.WithLogger(glog.Nop()),
		mailflow.WithRetrySleeper(noWait),
		mailflow.WithMetricsRecorder(registry),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(rt.Stop)

	support.mailbox.Deliver("Inbox", workflow.Message{
		ID:      "provider-1",
		Subject: "VPN broken",
		Sender:  workflow.Address{Email: "bob@acme.test"},
	})

	results, err := rt.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if got := results["support"].Started; got != 1 {
		t.Fatalf("expected one started workflow, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	tickets := support.ticketing.CreatedTickets()
	if len(tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(tickets))
	}
	if tickets[0].Account.ID != "42" || tickets[0].Contact != nil {
		t.Fatalf("expected domain account without contact, got %+v", tickets[0])
	}

	mailbox := rt.Mailbox("support")
	if mailbox == nil {
		t.Fatalf("expected support mailbox runtime")
	}
	stored, ok := support.mailbox.Message("provider-1")
	if !ok {
		t.Fatalf("expected stored message")
	}
	if stored.ParentFolderID != mailbox.Folders.Processed.ID || !stored.IsRead {
		t.Fatalf("expected message read in processed folder, got %+v", stored)
	}

	results, err = rt.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if got := results["support"].Listed; got != 0 {
		t.Fatalf("expected empty inbox, listed %d", got)
	}
	if got := registry.Counter("mailflow.poll.started", map[string]string{"mailbox": "support"}); got != 1 {
		t.Fatalf("expected poll.started=1, got %d", got)
	}
}

func TestRuntime_SkipsDisabledMailboxes(t *testing.T) {
	cfg := testConfig("support", "billing")
	cfg.Mailboxes[1].Processing.Enabled = false
	support := newFakes("support@example.com")

	rt, err := mailflow.NewRuntime(context.Background(), cfg,
		mailflow.StaticProviders(map[string]mailflow.Providers{"support": support.providers()}),
		mailflow.WithLogger(glog.Nop()),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(rt.Stop)

	if got := len(rt.Mailboxes()); got != 1 {
		t.Fatalf("expected one mailbox runtime, got %d", got)
	}
	if rt.Mailbox("billing") != nil {
		t.Fatalf("expected disabled mailbox to be skipped")
	}
	stats := rt.Stats()
	if len(stats) != 1 || stats[0].Name != "support" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRuntime_ProviderFailureFailsConstruction(t *testing.T) {
	_, err := mailflow.NewRuntime(context.Background(), testConfig("support"),
		mailflow.StaticProviders(nil),
		mailflow.WithLogger(glog.Nop()),
	)
	if err == nil {
		t.Fatalf("expected missing provider error")
	}

	if _, err = mailflow.NewRuntime(context.Background(), testConfig("support"), nil); err == nil {
		t.Fatalf("expected missing factory error")
	}

	broken := newFakes("support@example.com")
	broken.mailbox.FailNext("ResolveFolder", errors.New("graph down"), 1)
	_, err = mailflow.NewRuntime(context.Background(), testConfig("support"),
		mailflow.StaticProviders(map[string]mailflow.Providers{"support": broken.providers()}),
		mailflow.WithLogger(glog.Nop()),
	)
	if err == nil {
		t.Fatalf("expected folder setup error")
	}
	if got := core.TextCode(err); got != core.ErrorStageRecoverable {
		t.Fatalf("expected recoverable text code, got %q", got)
	}
}

func TestRuntime_RunStopsOnCancel(t *testing.T) {
	support := newFakes("support@example.com")
	billing := newFakes("billing@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	polls := make(chan struct{}, 8)
	rt, err := mailflow.NewRuntime(context.Background(), testConfig("support", "billing"),
		mailflow.StaticProviders(map[string]mailflow.Providers{
			"support": support.providers(),
			"billing": billing.providers(),
		}),
		mailflow.WithLogger(glog.Nop()),
		mailflow.WithPollSleeper(func(ctx context.Context, _ time.Duration) error {
			polls <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	<-polls
	<-polls
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runtime did not stop")
	}
	for _, mailbox := range rt.Mailboxes() {
		select {
		case <-mailbox.Scheduler.Done():
		default:
			t.Fatalf("expected scheduler %s to be stopped", mailbox.Config.Name)
		}
	}
}

func TestRuntime_RunWithoutMailboxes(t *testing.T) {
	rt, err := mailflow.NewRuntime(context.Background(), testConfig(), mailflow.StaticProviders(nil), mailflow.WithLogger(glog.Nop()))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Run(context.Background()); err == nil {
		t.Fatalf("expected run without mailboxes to fail")
	}
}
