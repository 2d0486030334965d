package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
service_name: helpdesk
mailboxes:
  - address: support@example.com
    processing:
      check_delay: 45s
    queue:
      max_workers: 3
      retry:
        max_retries: 4
        retry_delay: 2m
        escalate: true
    defaults:
      ticket:
        account: Example Corp
        due_date_offset: 48h
  - name: billing
    address: billing@example.com
    processing:
      enabled: false
      unread_only: false
      check_delay: 10
dead_letters:
  enabled: true
  driver: sqlite3
  dsn: file:dead.db
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig_FileAndRuntimeLayers(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := LoadConfig(context.Background(), path, Config{Metrics: MetricsConfig{Address: ":9100"}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "helpdesk" {
		t.Fatalf("expected service name from file, got %q", cfg.ServiceName)
	}
	if cfg.Metrics.Address != ":9100" {
		t.Fatalf("expected runtime metrics address, got %q", cfg.Metrics.Address)
	}
	if len(cfg.Mailboxes) != 2 {
		t.Fatalf("expected 2 mailboxes, got %d", len(cfg.Mailboxes))
	}

	support := cfg.Mailboxes[0]
	if support.Name != "support@example.com" {
		t.Fatalf("expected name to default to address, got %q", support.Name)
	}
	if !support.Processing.Enabled || !support.Processing.UnreadOnly {
		t.Fatalf("expected processing flags to default to true, got %+v", support.Processing)
	}
	if support.Processing.CheckDelay != 45*time.Second {
		t.Fatalf("expected check delay 45s, got %s", support.Processing.CheckDelay)
	}
	if support.Queue.Retry != (RetryPolicy{MaxRetries: 4, RetryDelay: 2 * time.Minute, Escalate: true}) {
		t.Fatalf("unexpected retry policy: %+v", support.Queue.Retry)
	}
	if support.Queue.AttachmentRetry.MaxRetries != DefaultAttachmentRetries || support.Queue.AttachmentRetry.RetryDelay != DefaultAttachmentDelay {
		t.Fatalf("unexpected attachment retry policy: %+v", support.Queue.AttachmentRetry)
	}
	if support.Folders.Incoming != "Inbox" || support.Folders.Processed != "Processed" {
		t.Fatalf("expected default folders, got %+v", support.Folders)
	}
	if support.Defaults.Ticket.Account != "Example Corp" || support.Defaults.Ticket.DueDateOffset != 48*time.Hour {
		t.Fatalf("unexpected ticket defaults: %+v", support.Defaults.Ticket)
	}
	if support.SchedulerConfig().MaxWorkers != 3 {
		t.Fatalf("expected scheduler max workers 3")
	}

	billing := cfg.Mailboxes[1]
	if billing.Processing.Enabled || billing.Processing.UnreadOnly {
		t.Fatalf("expected explicit false flags to survive, got %+v", billing.Processing)
	}
	if billing.Processing.CheckDelay != 10*time.Second {
		t.Fatalf("expected integer check delay in seconds, got %s", billing.Processing.CheckDelay)
	}
	if !cfg.DeadLetters.Enabled || cfg.DeadLetters.Driver != "sqlite3" {
		t.Fatalf("unexpected dead letter config: %+v", cfg.DeadLetters)
	}
}

func TestLoadConfig_WithoutFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), "", Config{})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "mailflow" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if len(cfg.Mailboxes) != 0 {
		t.Fatalf("expected no mailboxes, got %d", len(cfg.Mailboxes))
	}
}

func TestFileConfigLoader_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "mailboxes:\n  - address: a@example.com\n    processing:\n      check_delay: soon\n")
	_, err := FileConfigLoader{Path: path}.LoadRaw(context.Background())
	if err == nil || !strings.Contains(err.Error(), "check_delay") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestCfgxConfigProvider_ValidatesMailboxes(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"mailboxes": []any{
			map[string]any{"address": "not-an-address"},
		},
	}})
	if _, err := provider.Load(context.Background(), DefaultConfig()); err == nil {
		t.Fatalf("expected invalid address to fail validation")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]Config{
		"missing service name": {},
		"missing address": {
			ServiceName: "mailflow",
			Mailboxes:   []MailboxConfig{{Name: "x"}},
		},
		"duplicate names": {
			ServiceName: "mailflow",
			Mailboxes: []MailboxConfig{
				{Address: "a@example.com", Name: "Support"},
				{Address: "b@example.com", Name: "support"},
			},
		},
		"bad driver": {
			ServiceName: "mailflow",
			DeadLetters: DeadLetterConfig{Enabled: true, Driver: "mysql", DSN: "x"},
		},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}
}
