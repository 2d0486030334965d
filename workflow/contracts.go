package workflow

import "context"

// Ticketing is the remote ticket system. Lookups return (nil, nil) when the
// record does not exist; an error always means the call itself failed.
type Ticketing interface {
	FindTicketByNumber(ctx context.Context, number string) (*Ticket, error)
	FindResourceByEmail(ctx context.Context, email string) (*Resource, error)
	FindContactByEmail(ctx context.Context, email string) (*Contact, error)
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	FindAccountByDomain(ctx context.Context, domain string) (*Account, error)
	FindAccountByName(ctx context.Context, name string) (*Account, error)
	CreateTicket(ctx context.Context, req TicketRequest) (*Ticket, error)
	CreateTicketNote(ctx context.Context, req NoteRequest) (*TicketNote, error)
	CreateAttachment(ctx context.Context, req AttachmentRequest) (*AttachmentRecord, error)
}

// Mailbox is the remote mail store for one configured address.
type Mailbox interface {
	ResolveFolder(ctx context.Context, name string) (*Folder, error)
	ListMessages(ctx context.Context, folder *Folder, unreadOnly bool) ([]Message, error)
	MoveMessage(ctx context.Context, msg *Message, destination *Folder) (*Message, error)
	MarkRead(ctx context.Context, msg *Message, read bool) (*Message, error)
	ListAttachments(ctx context.Context, msg *Message) ([]Attachment, error)
}

// AttachmentFilter decides whether an attachment is uploaded and may rewrite
// it first. Returning keep=false skips the attachment.
type AttachmentFilter interface {
	Prepare(ctx context.Context, attachment Attachment) (out Attachment, keep bool, err error)
}

type AttachmentFilterFunc func(ctx context.Context, attachment Attachment) (Attachment, bool, error)

func (f AttachmentFilterFunc) Prepare(ctx context.Context, attachment Attachment) (Attachment, bool, error) {
	return f(ctx, attachment)
}
