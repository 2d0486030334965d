package devkit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-mailflow/workflow"
)

// Fixture seeds a fake ticket system and mailbox from YAML.
type Fixture struct {
	Accounts  []FixtureAccount  `yaml:"accounts"`
	Contacts  []FixtureContact  `yaml:"contacts"`
	Resources []FixtureResource `yaml:"resources"`
	Tickets   []FixtureTicket   `yaml:"tickets"`
	Messages  []FixtureMessage  `yaml:"messages"`
}

type FixtureAccount struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Domains []string `yaml:"domains"`
}

type FixtureContact struct {
	ID        string `yaml:"id"`
	AccountID string `yaml:"account_id"`
	Email     string `yaml:"email"`
}

type FixtureResource struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
}

type FixtureTicket struct {
	ID     string `yaml:"id"`
	Number string `yaml:"number"`
	Title  string `yaml:"title"`
}

type FixtureMessage struct {
	ID          string              `yaml:"id"`
	Folder      string              `yaml:"folder"`
	From        string              `yaml:"from"`
	Subject     string              `yaml:"subject"`
	Body        string              `yaml:"body"`
	Read        bool                `yaml:"read"`
	Attachments []FixtureAttachment `yaml:"attachments"`
}

type FixtureAttachment struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	Content     string `yaml:"content"`
}

func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("devkit: read fixture %s: %w", path, err)
	}
	return ParseFixture(data)
}

func ParseFixture(data []byte) (Fixture, error) {
	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return Fixture{}, fmt.Errorf("devkit: parse fixture: %w", err)
	}
	return fixture, nil
}

// Seed loads the fixture into ticketing and mailbox. Messages without a
// folder land in incoming.
func (f Fixture) Seed(ticketing *FakeTicketing, mailbox *FakeMailbox, incoming string) {
	if ticketing != nil {
		for _, account := range f.Accounts {
			ticketing.AddAccount(workflow.Account{ID: account.ID, Name: account.Name}, account.Domains...)
		}
		for _, contact := range f.Contacts {
			ticketing.AddContact(workflow.Contact{ID: contact.ID, AccountID: contact.AccountID, Email: contact.Email})
		}
		for _, resource := range f.Resources {
			ticketing.AddResource(workflow.Resource{ID: resource.ID, Email: resource.Email})
		}
		for _, ticket := range f.Tickets {
			ticketing.AddTicket(workflow.Ticket{ID: ticket.ID, Number: ticket.Number, Title: ticket.Title})
		}
	}
	if mailbox == nil {
		return
	}
	for _, msg := range f.Messages {
		folder := strings.TrimSpace(msg.Folder)
		if folder == "" {
			folder = incoming
		}
		attachments := make([]workflow.Attachment, 0, len(msg.Attachments))
		for idx, item := range msg.Attachments {
			attachments = append(attachments, workflow.Attachment{
				ID:          fmt.Sprintf("%s-att-%d", msg.ID, idx+1),
				Name:        item.Name,
				ContentType: item.ContentType,
				Content:     []byte(item.Content),
			})
		}
		mailbox.Deliver(folder, workflow.Message{
			ID:      msg.ID,
			Subject: msg.Subject,
			Body:    msg.Body,
			Sender:  workflow.Address{Email: msg.From},
			IsRead:  msg.Read,
		}, attachments...)
	}
}
