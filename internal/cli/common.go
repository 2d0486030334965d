package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/spf13/cobra"

	mailflow "github.com/goliatone/go-mailflow"
	"github.com/goliatone/go-mailflow/adapters/gologger"
	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/providers/devkit"
	sqlstore "github.com/goliatone/go-mailflow/store/sql"
)

const summaryCacheTTL = 30 * time.Second

func loadConfig(ctx context.Context, flags *globalFlags) (mailflow.Config, error) {
	return mailflow.LoadConfig(ctx, flags.configPath, mailflow.Config{})
}

func loggerProvider(cmd *cobra.Command, flags *globalFlags) glog.LoggerProvider {
	return gologger.NewTextProvider(cmd.ErrOrStderr(), flags.logLevel)
}

// logEscalations reports alerts through the logger. It stands in for a
// paging integration.
func logEscalations(logger glog.Logger) core.EscalationSink {
	return core.EscalationSinkFunc(func(_ context.Context, alert core.Alert) error {
		logger.Error("workflow escalated",
			"alias", alert.Alias,
			"source", alert.Source,
			"message", alert.Message,
		)
		return nil
	})
}

func openJournal(ctx context.Context, cfg core.DeadLetterConfig) (*sqlstore.Journal, *sqlstore.CachedDeadLetterSummary, error) {
	journal, err := sqlstore.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cacheCfg := repositorycache.DefaultConfig()
	cacheCfg.TTL = summaryCacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheCfg)
	if err != nil {
		_ = journal.Close()
		return nil, nil, fmt.Errorf("cli: dead letter cache: %w", err)
	}
	cached, err := sqlstore.NewCachedDeadLetterSummary(journal.DeadLetters(), cacheService)
	if err != nil {
		_ = journal.Close()
		return nil, nil, err
	}
	return journal, cached, nil
}

// devkitBackend serves in-memory providers seeded from a fixture. All
// mailboxes share one ticket system; fixture messages land in the target
// mailbox, or the first one built when no target is set.
type devkitBackend struct {
	fixture   devkit.Fixture
	target    string
	ticketing *devkit.FakeTicketing

	mu        sync.Mutex
	seeded    bool
	mailboxes map[string]*devkit.FakeMailbox
}

func newDevkitBackend(fixture devkit.Fixture, target string) *devkitBackend {
	ticketing := devkit.NewFakeTicketing()
	fixture.Seed(ticketing, nil, "")
	return &devkitBackend{
		fixture:   fixture,
		target:    target,
		ticketing: ticketing,
		mailboxes: map[string]*devkit.FakeMailbox{},
	}
}

func (b *devkitBackend) Factory(_ context.Context, cfg core.MailboxConfig) (mailflow.Providers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mailbox, ok := b.mailboxes[cfg.Name]
	if !ok {
		mailbox = devkit.NewFakeMailbox(cfg.Address)
		b.mailboxes[cfg.Name] = mailbox
	}
	if !b.seeded && (b.target == "" || b.target == cfg.Name) {
		b.fixture.Seed(nil, mailbox, cfg.Folders.Incoming)
		b.seeded = true
	}
	return mailflow.Providers{Mailbox: mailbox, Ticketing: b.ticketing}, nil
}

func loadFixture(path string) (devkit.Fixture, error) {
	if path == "" {
		return devkit.Fixture{}, nil
	}
	return devkit.LoadFixture(path)
}

func newProviderRegistry(backend *devkitBackend) (*mailflow.ProviderRegistry, error) {
	registry := mailflow.NewProviderRegistry()
	if err := registry.Register("devkit", backend.Factory); err != nil {
		return nil, err
	}
	return registry, nil
}

type memoryDeadLetters struct {
	mu      sync.Mutex
	entries []core.DeadLetter
}

func (m *memoryDeadLetters) RecordDeadLetter(_ context.Context, entry core.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryDeadLetters) Entries() []core.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.DeadLetter(nil), m.entries...)
}

type recorderChain []core.DeadLetterRecorder

func (c recorderChain) RecordDeadLetter(ctx context.Context, entry core.DeadLetter) error {
	var firstErr error
	for _, recorder := range c {
		if recorder == nil {
			continue
		}
		if err := recorder.RecordDeadLetter(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
