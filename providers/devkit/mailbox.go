package devkit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-mailflow/workflow"
)

// FakeMailbox is an in-memory mail store. Folders are created on first
// resolve and messages keep their id when moved.
type FakeMailbox struct {
	mu          sync.Mutex
	address     string
	folders     map[string]workflow.Folder
	messages    map[string]workflow.Message
	attachments map[string][]workflow.Attachment
	failures    failureScript
	calls       []string
	seq         int
	now         func() time.Time
}

func NewFakeMailbox(address string) *FakeMailbox {
	return &FakeMailbox{
		address:     strings.TrimSpace(address),
		folders:     map[string]workflow.Folder{},
		messages:    map[string]workflow.Message{},
		attachments: map[string][]workflow.Attachment{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *FakeMailbox) Address() string {
	return m.address
}

// Deliver places msg in folder, assigning an id and receive time when
// missing.
func (m *FakeMailbox) Deliver(folder string, msg workflow.Message, attachments ...workflow.Attachment) workflow.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.folderLocked(folder)
	if strings.TrimSpace(msg.ID) == "" {
		m.seq++
		msg.ID = "msg-" + strconv.Itoa(m.seq)
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = m.now()
	}
	msg.ParentFolderID = target.ID
	m.messages[msg.ID] = msg
	if len(attachments) > 0 {
		m.attachments[msg.ID] = append([]workflow.Attachment(nil), attachments...)
	}
	return msg
}

func (m *FakeMailbox) FailNext(method string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures.push(method, err, times)
}

func (m *FakeMailbox) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Messages returns the messages currently in folder, oldest first.
func (m *FakeMailbox) Messages(folder string) []workflow.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.folders[strings.ToLower(strings.TrimSpace(folder))]
	if !ok {
		return nil
	}
	return m.listLocked(target.ID, false)
}

func (m *FakeMailbox) Message(id string) (workflow.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok
}

func (m *FakeMailbox) ResolveFolder(_ context.Context, name string) (*workflow.Folder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ResolveFolder"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("devkit: folder name is required")
	}
	folder := m.folderLocked(name)
	return &folder, nil
}

func (m *FakeMailbox) ListMessages(_ context.Context, folder *workflow.Folder, unreadOnly bool) ([]workflow.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListMessages"); err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, fmt.Errorf("devkit: folder is required")
	}
	return m.listLocked(folder.ID, unreadOnly), nil
}

func (m *FakeMailbox) MoveMessage(_ context.Context, msg *workflow.Message, destination *workflow.Folder) (*workflow.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MoveMessage"); err != nil {
		return nil, err
	}
	if msg == nil || destination == nil {
		return nil, fmt.Errorf("devkit: message and destination are required")
	}
	stored, ok := m.messages[msg.ID]
	if !ok {
		return nil, nil
	}
	stored.ParentFolderID = destination.ID
	m.messages[stored.ID] = stored
	return &stored, nil
}

func (m *FakeMailbox) MarkRead(_ context.Context, msg *workflow.Message, read bool) (*workflow.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkRead"); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("devkit: message is required")
	}
	stored, ok := m.messages[msg.ID]
	if !ok {
		return nil, nil
	}
	stored.IsRead = read
	m.messages[stored.ID] = stored
	return &stored, nil
}

func (m *FakeMailbox) ListAttachments(_ context.Context, msg *workflow.Message) ([]workflow.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListAttachments"); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("devkit: message is required")
	}
	return append([]workflow.Attachment(nil), m.attachments[msg.ID]...), nil
}

func (m *FakeMailbox) enter(method string) error {
	m.calls = append(m.calls, method)
	return m.failures.pop(method)
}

func (m *FakeMailbox) folderLocked(name string) workflow.Folder {
	key := strings.ToLower(strings.TrimSpace(name))
	if folder, ok := m.folders[key]; ok {
		return folder
	}
	m.seq++
	folder := workflow.Folder{ID: "folder-" + strconv.Itoa(m.seq), Name: strings.TrimSpace(name)}
	m.folders[key] = folder
	return folder
}

func (m *FakeMailbox) listLocked(folderID string, unreadOnly bool) []workflow.Message {
	out := []workflow.Message{}
	for _, msg := range m.messages {
		if msg.ParentFolderID != folderID {
			continue
		}
		if unreadOnly && msg.IsRead {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

var _ workflow.Mailbox = (*FakeMailbox)(nil)
