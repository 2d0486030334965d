package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-mailflow/core"
	sqlstore "github.com/goliatone/go-mailflow/store/sql"
)

const fixtureYAML = `
accounts:
  - id: "0"
    name: Default
  - id: "42"
    name: Acme
    domains: [acme.test]
contacts:
  - id: c1
    account_id: "42"
    email: ana@acme.test
messages:
  - id: m1
    from: ana@acme.test
    subject: Printer on fire
    attachments:
      - name: notes.txt
        content_type: text/plain
        content: smoke
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func expectOutput(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, line := range want {
		if !strings.Contains(out, line) {
			t.Fatalf("expected %q in output:\n%s", line, out)
		}
	}
}

func execute(ctx context.Context, args ...string) (string, error) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestConfigValidate_ReportsMailboxes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mailflow.yaml", `
service_name: helpdesk
mailboxes:
  - address: support@example.com
    processing:
      check_delay: 10s
  - name: billing
    address: billing@example.com
    processing:
      enabled: false
`)

	out, err := execute(context.Background(), "config", "validate", "--config", path)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "config ok | service=helpdesk mailboxes=2 enabled=1 dead_letters=false\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestConfigValidate_RejectsInvalidAddress(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mailflow.yaml", `
mailboxes:
  - address: support
`)

	_, err := execute(context.Background(), "config", "validate", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "address") {
		t.Fatalf("expected error mentioning %q, got %v", "address", err)
	}
}

func TestSimulate_RunsFixtureToTicket(t *testing.T) {
	dir := t.TempDir()
	fixture := writeFile(t, dir, "fixture.yaml", fixtureYAML)

	out, err := execute(context.Background(), "simulate", "--fixture", fixture, "--timeout", "5s")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	expectOutput(t, out,
		"mailbox support | listed=1 started=1 skipped=0 failed=0",
		"tickets=1 ",
		"attachments=1 ",
		"dead_letters=0",
	)
}

func TestSimulate_RequiresFixture(t *testing.T) {
	if _, err := execute(context.Background(), "simulate"); err == nil {
		t.Fatalf("expected missing fixture error")
	}
}

func TestRun_StopsWhenContextEnds(t *testing.T) {
	dir := t.TempDir()
	fixture := writeFile(t, dir, "fixture.yaml", fixtureYAML)
	config := writeFile(t, dir, "mailflow.yaml", `
mailboxes:
  - name: support
    address: support@example.com
    processing:
      check_delay: 50ms
`)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	spool := filepath.Join(dir, "dead-letters.jsonl")

	_, err := execute(ctx, "run", "--config", config, "--fixture", fixture, "--trace-jobs", "--dead-letter-spool", spool)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(spool); err != nil {
		t.Fatalf("expected dead letter spool to be created: %v", err)
	}
}

func TestRun_RejectsUnknownProvider(t *testing.T) {
	_, err := execute(context.Background(), "run", "--provider", "graph")
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("expected error mentioning %q, got %v", "unknown provider", err)
	}
}

func TestRun_RequiresEnabledMailbox(t *testing.T) {
	_, err := execute(context.Background(), "run")
	if err == nil || !strings.Contains(err.Error(), "no enabled mailboxes") {
		t.Fatalf("expected error mentioning %q, got %v", "no enabled mailboxes", err)
	}
}

func TestDeadLetters_ListSummaryAndPrune(t *testing.T) {
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "journal.db") + "?_foreign_keys=on"
	config := writeFile(t, dir, "mailflow.yaml", "dead_letters:\n  enabled: true\n  driver: sqlite3\n  dsn: \""+dsn+"\"\n")

	ctx := context.Background()
	journal, err := sqlstore.Open(ctx, core.DeadLetterConfig{Driver: "sqlite3", DSN: dsn})
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	now := time.Now().UTC()
	if err := journal.DeadLetters().RecordDeadLetter(ctx, core.DeadLetter{
		JobID:      "job-1",
		Stage:      "CreateTicket",
		Mailbox:    "support",
		Reason:     core.DropReasonExhausted,
		Attempts:   5,
		MaxRetries: 5,
		Error:      "timeout",
		Escalated:  true,
		OccurredAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("record dead letter: %v", err)
	}
	if err := journal.DeadLetters().RecordDeadLetter(ctx, core.DeadLetter{
		JobID:      "job-2",
		Stage:      "CreateAttachment",
		Mailbox:    "support",
		Reason:     core.DropReasonFatal,
		Attempts:   1,
		MaxRetries: 3,
		OccurredAt: now.Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("record dead letter: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("close journal: %v", err)
	}

	out, err := execute(ctx, "deadletters", "list", "--config", config, "--reason", "exhausted")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	expectOutput(t, out, "job-1", "page 1, 1 of 1")
	if strings.Contains(out, "job-2") {
		t.Fatalf("expected reason filter to hide job-2:\n%s", out)
	}

	out, err = execute(ctx, "dlq", "summary", "--config", config)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first, _, _ := strings.Cut(out, "\n"); first != "all mailboxes | total=2 escalated=1" {
		t.Fatalf("unexpected summary header %q", first)
	}

	out, err = execute(ctx, "deadletters", "prune", "--config", config, "--older-than", "24h")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "Pruned 1 dead letters.\n" {
		t.Fatalf("unexpected output %q", out)
	}

	out, err = execute(ctx, "deadletters", "list", "--config", config)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	expectOutput(t, out, "job-1")
	if strings.Contains(out, "job-2") {
		t.Fatalf("expected job-2 to be pruned:\n%s", out)
	}
}

func TestDeadLettersPrune_RejectsNonPositiveWindow(t *testing.T) {
	if _, err := execute(context.Background(), "deadletters", "prune", "--older-than", "0s"); err == nil {
		t.Fatalf("expected non-positive window error")
	}
}
