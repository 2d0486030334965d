package workflow

import "time"

type Address struct {
	Name  string
	Email string
}

type Message struct {
	ID             string
	ParentFolderID string
	Subject        string
	Body           string
	Sender         Address
	IsRead         bool
	ReceivedAt     time.Time
}

type Folder struct {
	ID   string
	Name string
}

type Ticket struct {
	ID     string
	Number string
	Title  string
}

type TicketNote struct {
	ID       string
	TicketID string
}

type Contact struct {
	ID        string
	AccountID string
	Email     string
}

type Account struct {
	ID   string
	Name string
}

type Resource struct {
	ID    string
	Email string
}

type Attachment struct {
	ID          string
	Name        string
	ContentType string
	Content     []byte
}

type AttachmentRecord struct {
	ID       string
	ParentID string
	Name     string
}

type TicketRequest struct {
	Account     *Account
	Contact     *Contact
	Title       string
	Description string
	DueDate     time.Time
	Status      string
	Priority    string
	Queue       string
	Source      string
	WorkType    string
}

type NoteRequest struct {
	Ticket      *Ticket
	Resource    *Resource
	Title       string
	Description string
	Type        string
	Publish     string
}

// AttachmentRequest targets a ticket note when Note is set and the ticket
// otherwise.
type AttachmentRequest struct {
	Ticket     *Ticket
	Note       *TicketNote
	Resource   *Resource
	Attachment Attachment
	Publish    string
}
