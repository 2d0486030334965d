package workflow_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/providers/devkit"
	"github.com/goliatone/go-mailflow/workflow"
)

type harness struct {
	scheduler *core.Scheduler
	ticketing *devkit.FakeTicketing
	mailbox   *devkit.FakeMailbox
	sink      *devkit.RecordingEscalationSink
	flow      *workflow.Flow
	processed *workflow.Folder
}

type deadLetterRecorder struct {
	mu      sync.Mutex
	entries []core.DeadLetter
}

func (r *deadLetterRecorder) RecordDeadLetter(_ context.Context, entry core.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *deadLetterRecorder) Entries() []core.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.DeadLetter(nil), r.entries...)
}

var fixedNow = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	sink := devkit.NewRecordingEscalationSink()
	scheduler, err := core.NewScheduler(context.Background(), core.SchedulerConfig{
		Name:             "support@example.com",
		MaxWorkers:       2,
		EscalationSource: "test-source",
	},
		core.WithLogger(glog.Nop()),
		core.WithEscalationSink(sink),
		core.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(scheduler.Stop)

	mailbox := devkit.NewFakeMailbox("support@example.com")
	processed, err := mailbox.ResolveFolder(context.Background(), "Processed")
	if err != nil {
		t.Fatalf("resolve processed folder: %v", err)
	}

	cfg := core.DefaultMailboxConfig()
	cfg.Name = "support@example.com"
	cfg.Defaults.Ticket.Status = "New"
	cfg.Defaults.Note.Type = "Email"

	ticketing := devkit.NewFakeTicketing()
	flow, err := workflow.NewFlow(scheduler, ticketing, mailbox, workflow.FlowConfigFrom(cfg, processed),
		workflow.WithLogger(glog.Nop()),
		workflow.WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}

	return &harness{
		scheduler: scheduler,
		ticketing: ticketing,
		mailbox:   mailbox,
		sink:      sink,
		flow:      flow,
		processed: processed,
	}
}

func (h *harness) start(t *testing.T, msg workflow.Message, attachments ...workflow.Attachment) string {
	t.Helper()
	delivered := h.mailbox.Deliver("Inbox", msg, attachments...)
	id, err := h.flow.Start(context.Background(), delivered)
	if err != nil {
		t.Fatalf("start flow: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.scheduler.Wait(ctx); err != nil {
		t.Fatalf("wait for scheduler: %v", err)
	}
	return id
}

func expectCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected calls\n got: %v\nwant: %v", got, want)
	}
}

func TestFlow_NewTicketForKnownContact(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddAccount(workflow.Account{ID: "42", Name: "Acme"})
	h.ticketing.AddContact(workflow.Contact{ID: "c1", AccountID: "42", Email: "ana@acme.test"})

	id := h.start(t, workflow.Message{
		ID:      "provider-1",
		Subject: "Printer on fire",
		Body:    "please help",
		Sender:  workflow.Address{Email: "ana@acme.test"},
	},
		workflow.Attachment{Name: "log.txt", ContentType: "text/plain", Content: []byte("smoke")},
		workflow.Attachment{Name: "setup.exe", ContentType: "application/octet-stream", Content: []byte("MZ")},
	)

	if id != workflow.MessageID("provider-1") {
		t.Fatalf("unexpected workflow id %q", id)
	}
	expectCalls(t, h.ticketing.Calls(),
		"FindContactByEmail",
		"FindAccountByID",
		"CreateTicket",
		"CreateAttachment",
	)

	tickets := h.ticketing.CreatedTickets()
	if len(tickets) != 1 {
		t.Fatalf("expected one ticket, got %d", len(tickets))
	}
	ticket := tickets[0]
	if ticket.Account.ID != "42" || ticket.Contact == nil || ticket.Contact.ID != "c1" {
		t.Fatalf("unexpected ticket owner %+v", ticket)
	}
	if ticket.Title != "Printer on fire" || ticket.Status != "New" {
		t.Fatalf("unexpected ticket fields %+v", ticket)
	}
	if !ticket.DueDate.Equal(fixedNow.Add(72 * time.Hour)) {
		t.Fatalf("unexpected due date %s", ticket.DueDate)
	}

	attachments := h.ticketing.CreatedAttachments()
	if len(attachments) != 1 {
		t.Fatalf("expected executable to be filtered, got %d attachments", len(attachments))
	}
	if attachments[0].Attachment.Name != "log.txt" || attachments[0].Ticket == nil || attachments[0].Note != nil {
		t.Fatalf("unexpected attachment %+v", attachments[0])
	}
	if attachments[0].Publish != "All Autotask Users" {
		t.Fatalf("unexpected publish %q", attachments[0].Publish)
	}

	stored, ok := h.mailbox.Message("provider-1")
	if !ok {
		t.Fatalf("expected stored message")
	}
	if stored.ParentFolderID != h.processed.ID || !stored.IsRead {
		t.Fatalf("expected message read in processed folder, got %+v", stored)
	}
	if alerts := h.sink.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
	if h.scheduler.HasJobWithID(id) {
		t.Fatalf("expected workflow to be finished")
	}
}

func TestFlow_ReplyToExistingTicketAddsInternalNote(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddTicket(workflow.Ticket{ID: "7", Number: "T20261001.0007"})
	h.ticketing.AddResource(workflow.Resource{ID: "r1", Email: "tech@example.com"})

	h.start(t, workflow.Message{
		ID:      "provider-2",
		Subject: "[Internal] RE: T20261001.0007 disk full",
		Body:    "swapped the drive",
		Sender:  workflow.Address{Email: "tech@example.com"},
	}, workflow.Attachment{Name: "photo.txt", ContentType: "text/plain", Content: []byte("x")})

	expectCalls(t, h.ticketing.Calls(),
		"FindTicketByNumber",
		"FindResourceByEmail",
		"CreateTicketNote",
		"CreateAttachment",
	)

	notes := h.ticketing.CreatedNotes()
	if len(notes) != 1 {
		t.Fatalf("expected one note, got %d", len(notes))
	}
	note := notes[0]
	if note.Title != "RE:   disk full" || note.Publish != "Internal Project Team" || note.Type != "Email" {
		t.Fatalf("unexpected note %+v", note)
	}
	if note.Resource == nil || note.Resource.ID != "r1" {
		t.Fatalf("expected note resource r1, got %+v", note.Resource)
	}

	attachments := h.ticketing.CreatedAttachments()
	if len(attachments) != 1 {
		t.Fatalf("expected one attachment, got %d", len(attachments))
	}
	if attachments[0].Note == nil || attachments[0].Publish != "Internal Users Only" {
		t.Fatalf("unexpected note attachment %+v", attachments[0])
	}
	if tickets := h.ticketing.CreatedTickets(); len(tickets) != 0 {
		t.Fatalf("expected no new ticket, got %d", len(tickets))
	}
}

func TestFlow_UnknownTicketNumberFallsBackToNewTicket(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddAccount(workflow.Account{ID: "9", Name: "Contoso"}, "contoso.test")

	h.start(t, workflow.Message{
		ID:      "provider-3",
		Subject: "RE: T20200101.0001 still broken",
		Sender:  workflow.Address{Email: "bob@contoso.test"},
	})

	expectCalls(t, h.ticketing.Calls(),
		"FindTicketByNumber",
		"FindContactByEmail",
		"FindAccountByDomain",
		"CreateTicket",
	)
	tickets := h.ticketing.CreatedTickets()
	if len(tickets) != 1 || tickets[0].Account.ID != "9" || tickets[0].Contact != nil {
		t.Fatalf("expected domain matched ticket, got %+v", tickets)
	}
}

func TestFlow_ContactWithoutAccountUsesDefaultAccount(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddAccount(workflow.Account{ID: "0", Name: "Owner"})
	h.ticketing.AddContact(workflow.Contact{ID: "c2", AccountID: "404", Email: "eve@nowhere.test"})

	h.start(t, workflow.Message{
		ID:      "provider-4",
		Subject: "hello",
		Sender:  workflow.Address{Email: "eve@nowhere.test"},
	})

	expectCalls(t, h.ticketing.Calls(),
		"FindContactByEmail",
		"FindAccountByID",
		"FindAccountByDomain",
		"FindAccountByName",
		"CreateTicket",
	)
	tickets := h.ticketing.CreatedTickets()
	if len(tickets) != 1 || tickets[0].Account.ID != "0" || tickets[0].Contact != nil {
		t.Fatalf("expected default account ticket, got %+v", tickets)
	}
}

func TestFlow_MissingDefaultAccountIsFatalAndEscalated(t *testing.T) {
	h := newHarness(t)

	id := h.start(t, workflow.Message{
		ID:      "provider-5",
		Subject: "hello",
		Sender:  workflow.Address{Email: "eve@nowhere.test"},
	})

	if got := h.ticketing.CallCount("FindAccountByName"); got != 1 {
		t.Fatalf("expected fatal lookup to run once, got %d", got)
	}
	if tickets := h.ticketing.CreatedTickets(); len(tickets) != 0 {
		t.Fatalf("expected no ticket, got %d", len(tickets))
	}
	alerts := h.sink.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Alias != id || alerts[0].Source != "test-source" {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}

	stored, _ := h.mailbox.Message("provider-5")
	if stored.IsRead {
		t.Fatalf("expected message to stay unread")
	}
	if got := len(h.mailbox.Messages("Inbox")); got != 1 {
		t.Fatalf("expected message to stay in inbox, got %d", got)
	}
}

func TestFlow_TransientFailureIsRetriedWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddAccount(workflow.Account{ID: "0", Name: "Owner"})
	h.ticketing.FailNext("CreateTicket", errors.New("503"), 2)

	h.start(t, workflow.Message{
		ID:      "provider-6",
		Subject: "hello",
		Sender:  workflow.Address{Email: "x@unknown.test"},
	})

	if got := h.ticketing.CallCount("CreateTicket"); got != 3 {
		t.Fatalf("expected three CreateTicket calls, got %d", got)
	}
	if got := len(h.ticketing.CreatedTickets()); got != 1 {
		t.Fatalf("expected a single ticket, got %d", got)
	}
	if got := h.ticketing.CallCount("FindContactByEmail"); got != 1 {
		t.Fatalf("expected earlier stages not to rerun, got %d", got)
	}
	if alerts := h.sink.Alerts(); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}

func TestFlow_ExhaustedCreateTicketRaisesOneAlert(t *testing.T) {
	h := newHarness(t)
	h.ticketing.AddAccount(workflow.Account{ID: "0", Name: "Owner"})
	h.ticketing.FailNext("CreateTicket", errors.New("503"), 10)

	id := h.start(t, workflow.Message{
		ID:      "provider-7",
		Subject: "hello",
		Sender:  workflow.Address{Email: "x@unknown.test"},
	})

	if got := h.ticketing.CallCount("CreateTicket"); got != core.DefaultMaxRetries {
		t.Fatalf("expected %d CreateTicket calls, got %d", core.DefaultMaxRetries, got)
	}
	alerts := h.sink.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	if alerts[0].Alias != id || !strings.Contains(alerts[0].Message, "CreateTicket") {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}
}

func TestFlow_StartRequiresProviderID(t *testing.T) {
	h := newHarness(t)
	_, err := h.flow.Start(context.Background(), workflow.Message{Subject: "no id"})
	if err == nil {
		t.Fatalf("expected missing id error")
	}
	if got := core.TextCode(err); got != core.ErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", got)
	}
}

func TestNewFlow_RequiresCollaborators(t *testing.T) {
	h := newHarness(t)
	if _, err := workflow.NewFlow(nil, h.ticketing, h.mailbox, workflow.FlowConfig{ProcessedFolder: h.processed}); err == nil {
		t.Fatalf("expected missing scheduler error")
	}
	if _, err := workflow.NewFlow(h.scheduler, h.ticketing, h.mailbox, workflow.FlowConfig{}); err == nil {
		t.Fatalf("expected missing processed folder error")
	}
}

func TestFlow_PolicyFor(t *testing.T) {
	h := newHarness(t)

	create := h.flow.PolicyFor(workflow.StepCreateTicket)
	if create.MaxRetries != 5 || create.RetryDelay != time.Minute || !create.Escalate {
		t.Fatalf("unexpected CreateTicket policy %+v", create)
	}
	if lookup := h.flow.PolicyFor(workflow.StepFindContactByEmail); lookup.Escalate {
		t.Fatalf("expected lookups not to escalate")
	}
	attachment := h.flow.PolicyFor(workflow.StepCreateAttachment)
	if attachment.MaxRetries != 3 || attachment.RetryDelay != 5*time.Minute || attachment.Escalate {
		t.Fatalf("unexpected CreateAttachment policy %+v", attachment)
	}
}

func TestFlow_ExecuteLeavesInputEnvelopeUntouched(t *testing.T) {
	h := newHarness(t)
	env := workflow.NewEnvelope("id-1", "support@example.com", &workflow.Message{
		ID:     "m",
		Sender: workflow.Address{Email: "nobody@example.com"},
	}, false)

	transitions, err := h.flow.Execute(context.Background(), workflow.StepFindContactByEmail, env)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(transitions) != 1 || transitions[0].Step != workflow.StepFindAccountByDomain {
		t.Fatalf("unexpected transitions %+v", transitions)
	}
	if got := transitions[0].Envelope.Keys(); !reflect.DeepEqual(got, []string{"contact", "message"}) {
		t.Fatalf("unexpected next keys %v", got)
	}

	contact, set := transitions[0].Envelope.Contact.Get()
	if !set || contact != nil {
		t.Fatalf("expected empty contact slot to be set, got %v %t", contact, set)
	}
	if got := env.Keys(); !reflect.DeepEqual(got, []string{"message"}) {
		t.Fatalf("expected input envelope untouched, got %v", got)
	}
}

func TestFlow_ExecutePanicsOnMissingSlot(t *testing.T) {
	h := newHarness(t)
	env := workflow.NewEnvelope("id-1", "support@example.com", &workflow.Message{ID: "m"}, false)

	want := workflow.MissingArgumentError{Step: workflow.StepCreateTicket, Key: "account"}
	defer func() {
		if got := recover(); got != want {
			t.Fatalf("expected panic %v, got %v", want, got)
		}
	}()
	_, _ = h.flow.Execute(context.Background(), workflow.StepCreateTicket, env)
}

func TestFlow_MissingSlotInsideSchedulerIsProgrammingFault(t *testing.T) {
	h := newHarness(t)
	recorder := &deadLetterRecorder{}
	scheduler, err := core.NewScheduler(context.Background(), core.SchedulerConfig{Name: "x"},
		core.WithLogger(glog.Nop()),
		core.WithDeadLetterRecorder(recorder),
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(scheduler.Stop)

	flow, err := workflow.NewFlow(scheduler, h.ticketing, h.mailbox, workflow.FlowConfig{ProcessedFolder: h.processed})
	if err != nil {
		t.Fatalf("new flow: %v", err)
	}
	env := workflow.NewEnvelope("id-2", "x", &workflow.Message{ID: "m"}, false)
	job, err := core.NewJob("id-2", workflow.StepMoveMessageToFolder.String(), env, func(ctx context.Context, env *workflow.Envelope) error {
		_, err := flow.Execute(ctx, workflow.StepMoveMessageToFolder, env)
		return err
	}, core.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := scheduler.Enqueue(job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := scheduler.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	entries := recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(entries))
	}
	if entries[0].Reason != core.DropReasonProgramming || entries[0].Attempts != 1 {
		t.Fatalf("unexpected dead letter %+v", entries[0])
	}
}
