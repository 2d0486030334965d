package devkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-mailflow/workflow"
)

// failureScript queues errors per method name. Each call consumes one.
type failureScript struct {
	queued map[string][]error
}

func (s *failureScript) push(method string, err error, times int) {
	if s.queued == nil {
		s.queued = map[string][]error{}
	}
	if times <= 0 {
		times = 1
	}
	for range times {
		s.queued[method] = append(s.queued[method], err)
	}
}

func (s *failureScript) pop(method string) error {
	queue := s.queued[method]
	if len(queue) == 0 {
		return nil
	}
	s.queued[method] = queue[1:]
	return queue[0]
}

// FakeTicketing is an in-memory ticket system with scripted failures.
type FakeTicketing struct {
	mu        sync.Mutex
	tickets   map[string]workflow.Ticket
	contacts  map[string]workflow.Contact
	resources map[string]workflow.Resource
	accounts  map[string]workflow.Account
	domains   map[string]string
	failures  failureScript
	calls     []string
	seq       int

	createdTickets     []workflow.TicketRequest
	createdNotes       []workflow.NoteRequest
	createdAttachments []workflow.AttachmentRequest
}

func NewFakeTicketing() *FakeTicketing {
	return &FakeTicketing{
		tickets:   map[string]workflow.Ticket{},
		contacts:  map[string]workflow.Contact{},
		resources: map[string]workflow.Resource{},
		accounts:  map[string]workflow.Account{},
		domains:   map[string]string{},
	}
}

func (f *FakeTicketing) AddTicket(ticket workflow.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[ticket.Number] = ticket
}

func (f *FakeTicketing) AddContact(contact workflow.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts[normalizeEmail(contact.Email)] = contact
}

func (f *FakeTicketing) AddResource(resource workflow.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[normalizeEmail(resource.Email)] = resource
}

// AddAccount registers account and the mail domains that resolve to it.
func (f *FakeTicketing) AddAccount(account workflow.Account, domains ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.ID] = account
	for _, domain := range domains {
		f.domains[strings.ToLower(strings.TrimSpace(domain))] = account.ID
	}
}

// FailNext makes the next times calls of method return err.
func (f *FakeTicketing) FailNext(method string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures.push(method, err, times)
}

func (f *FakeTicketing) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeTicketing) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call == method {
			count++
		}
	}
	return count
}

func (f *FakeTicketing) CreatedTickets() []workflow.TicketRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.TicketRequest(nil), f.createdTickets...)
}

func (f *FakeTicketing) CreatedNotes() []workflow.NoteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.NoteRequest(nil), f.createdNotes...)
}

func (f *FakeTicketing) CreatedAttachments() []workflow.AttachmentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]workflow.AttachmentRequest(nil), f.createdAttachments...)
}

// enter records the call and returns any scripted failure. Callers hold mu.
func (f *FakeTicketing) enter(method string) error {
	f.calls = append(f.calls, method)
	return f.failures.pop(method)
}

func (f *FakeTicketing) FindTicketByNumber(_ context.Context, number string) (*workflow.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindTicketByNumber"); err != nil {
		return nil, err
	}
	ticket, ok := f.tickets[number]
	if !ok {
		return nil, nil
	}
	return &ticket, nil
}

func (f *FakeTicketing) FindResourceByEmail(_ context.Context, email string) (*workflow.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindResourceByEmail"); err != nil {
		return nil, err
	}
	resource, ok := f.resources[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return &resource, nil
}

func (f *FakeTicketing) FindContactByEmail(_ context.Context, email string) (*workflow.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindContactByEmail"); err != nil {
		return nil, err
	}
	contact, ok := f.contacts[normalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return &contact, nil
}

func (f *FakeTicketing) FindAccountByID(_ context.Context, id string) (*workflow.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindAccountByID"); err != nil {
		return nil, err
	}
	return f.accountLocked(id), nil
}

func (f *FakeTicketing) FindAccountByDomain(_ context.Context, domain string) (*workflow.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindAccountByDomain"); err != nil {
		return nil, err
	}
	id, ok := f.domains[strings.ToLower(strings.TrimSpace(domain))]
	if !ok {
		return nil, nil
	}
	return f.accountLocked(id), nil
}

// FindAccountByName matches the account name case-insensitively, falling
// back to the account id.
func (f *FakeTicketing) FindAccountByName(_ context.Context, name string) (*workflow.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("FindAccountByName"); err != nil {
		return nil, err
	}
	for _, account := range f.accounts {
		if strings.EqualFold(account.Name, name) {
			out := account
			return &out, nil
		}
	}
	return f.accountLocked(name), nil
}

func (f *FakeTicketing) CreateTicket(_ context.Context, req workflow.TicketRequest) (*workflow.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTicket"); err != nil {
		return nil, err
	}
	f.seq++
	ticket := workflow.Ticket{
		ID:     strconv.Itoa(f.seq),
		Number: fmt.Sprintf("T%s.%04d", req.DueDate.Format("20060102"), f.seq),
		Title:  req.Title,
	}
	f.tickets[ticket.Number] = ticket
	f.createdTickets = append(f.createdTickets, req)
	return &ticket, nil
}

func (f *FakeTicketing) CreateTicketNote(_ context.Context, req workflow.NoteRequest) (*workflow.TicketNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTicketNote"); err != nil {
		return nil, err
	}
	f.seq++
	note := workflow.TicketNote{ID: strconv.Itoa(f.seq)}
	if req.Ticket != nil {
		note.TicketID = req.Ticket.ID
	}
	f.createdNotes = append(f.createdNotes, req)
	return &note, nil
}

func (f *FakeTicketing) CreateAttachment(_ context.Context, req workflow.AttachmentRequest) (*workflow.AttachmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateAttachment"); err != nil {
		return nil, err
	}
	f.seq++
	record := workflow.AttachmentRecord{ID: strconv.Itoa(f.seq), Name: req.Attachment.Name}
	switch {
	case req.Note != nil:
		record.ParentID = req.Note.ID
	case req.Ticket != nil:
		record.ParentID = req.Ticket.ID
	}
	f.createdAttachments = append(f.createdAttachments, req)
	return &record, nil
}

func (f *FakeTicketing) accountLocked(id string) *workflow.Account {
	account, ok := f.accounts[id]
	if !ok {
		return nil
	}
	return &account
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ workflow.Ticketing = (*FakeTicketing)(nil)
