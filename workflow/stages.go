package workflow

import (
	"context"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-mailflow/core"
)

func recoverable(step Step, err error) error {
	return core.RecoverableStageError(step.String(), err)
}

func emptyResult(step Step, what string) error {
	return recoverable(step, goerrors.New("remote returned no "+what, goerrors.CategoryExternal))
}

func (f *Flow) findTicketByNumber(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindTicketByNumber
	msg := requireValue(step, "message", env.Message)

	if number := ExtractTicketNumber(msg.Subject); number != "" {
		ticket, err := f.ticketing.FindTicketByNumber(ctx, number)
		if err != nil {
			return nil, recoverable(step, err)
		}
		if ticket != nil {
			f.trace(step, env, "ticket matched", "ticket_number", ticket.Number)
			next := env.Clone()
			next.Ticket.Set(ticket)
			return Next(StepFindResourceByEmail, next), nil
		}
		f.trace(step, env, "ticket number not found", "ticket_number", number)
	}
	return Next(StepFindContactByEmail, env.Clone()), nil
}

func (f *Flow) findResourceByEmail(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindResourceByEmail
	msg := requireValue(step, "message", env.Message)
	requireValue(step, "ticket", env.Ticket)

	resource, err := f.ticketing.FindResourceByEmail(ctx, msg.Sender.Email)
	if err != nil {
		return nil, recoverable(step, err)
	}
	next := env.Clone()
	next.Resource.Set(resource)
	return Next(StepCreateTicketNote, next), nil
}

func (f *Flow) createTicketNote(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepCreateTicketNote
	msg := requireValue(step, "message", env.Message)
	ticket := requireValue(step, "ticket", env.Ticket)
	resource := require(step, "resource", env.Resource)

	defaults := f.config.Defaults.Note
	publish := defaults.Publish
	if env.Internal {
		publish = defaults.InternalPublish
	}
	note, err := f.ticketing.CreateTicketNote(ctx, NoteRequest{
		Ticket:      ticket,
		Resource:    resource,
		Title:       NoteTitle(msg.Subject, ticket.Number),
		Description: msg.Body,
		Type:        defaults.Type,
		Publish:     publish,
	})
	if err != nil {
		return nil, recoverable(step, err)
	}
	if note == nil {
		return nil, emptyResult(step, "ticket note")
	}
	f.trace(step, env, "ticket note created", "ticket_number", ticket.Number, "note_id", note.ID)

	next := env.Clone()
	next.TicketNote.Set(note)
	next.Destination.Set(f.config.ProcessedFolder)
	return Next(StepMoveMessageToFolder, next), nil
}

func (f *Flow) findContactByEmail(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindContactByEmail
	msg := requireValue(step, "message", env.Message)

	contact, err := f.ticketing.FindContactByEmail(ctx, msg.Sender.Email)
	if err != nil {
		return nil, recoverable(step, err)
	}
	next := env.Clone()
	next.Contact.Set(contact)
	if contact == nil {
		f.trace(step, env, "no contact for sender", "sender", msg.Sender.Email)
		return Next(StepFindAccountByDomain, next), nil
	}
	return Next(StepFindAccountByID, next), nil
}

func (f *Flow) findAccountByID(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindAccountByID
	contact := requireValue(step, "contact", env.Contact)

	var account *Account
	if contact.AccountID != "" {
		found, err := f.ticketing.FindAccountByID(ctx, contact.AccountID)
		if err != nil {
			return nil, recoverable(step, err)
		}
		account = found
	}
	next := env.Clone()
	if account == nil {
		// a contact without a resolvable account cannot own the ticket
		next.Contact.Set(nil)
		return Next(StepFindAccountByDomain, next), nil
	}
	next.Account.Set(account)
	return Next(StepCreateTicket, next), nil
}

func (f *Flow) findAccountByDomain(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindAccountByDomain
	msg := requireValue(step, "message", env.Message)

	var account *Account
	if domain := SenderDomain(msg.Sender.Email); domain != "" {
		found, err := f.ticketing.FindAccountByDomain(ctx, domain)
		if err != nil {
			return nil, recoverable(step, err)
		}
		account = found
	}
	next := env.Clone()
	if account == nil {
		return Next(StepFindAccountByName, next), nil
	}
	next.Account.Set(account)
	return Next(StepCreateTicket, next), nil
}

func (f *Flow) findAccountByName(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepFindAccountByName
	name := f.config.Defaults.Ticket.Account

	account, err := f.ticketing.FindAccountByName(ctx, name)
	if err != nil {
		return nil, recoverable(step, err)
	}
	if account == nil {
		return nil, core.FatalStageError(step.String(), "default account "+name+" does not exist")
	}
	next := env.Clone()
	next.Account.Set(account)
	return Next(StepCreateTicket, next), nil
}

func (f *Flow) createTicket(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepCreateTicket
	msg := requireValue(step, "message", env.Message)
	account := requireValue(step, "account", env.Account)
	contact := require(step, "contact", env.Contact)

	defaults := f.config.Defaults.Ticket
	ticket, err := f.ticketing.CreateTicket(ctx, TicketRequest{
		Account:     account,
		Contact:     contact,
		Title:       msg.Subject,
		Description: msg.Body,
		DueDate:     f.now().Add(defaults.DueDateOffset),
		Status:      defaults.Status,
		Priority:    defaults.Priority,
		Queue:       defaults.Queue,
		Source:      defaults.Source,
		WorkType:    defaults.WorkType,
	})
	if err != nil {
		return nil, recoverable(step, err)
	}
	if ticket == nil || ticket.Number == "" {
		return nil, emptyResult(step, "ticket number")
	}
	f.trace(step, env, "ticket created", "ticket_number", ticket.Number, "account", account.ID)

	next := env.Clone()
	next.Ticket.Set(ticket)
	next.Destination.Set(f.config.ProcessedFolder)
	return Next(StepMoveMessageToFolder, next), nil
}

func (f *Flow) moveMessageToFolder(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepMoveMessageToFolder
	msg := requireValue(step, "message", env.Message)
	destination := requireValue(step, "folderDestination", env.Destination)

	moved, err := f.mailbox.MoveMessage(ctx, msg, destination)
	if err != nil {
		return nil, recoverable(step, err)
	}
	if moved == nil {
		return nil, emptyResult(step, "moved message")
	}
	next := env.Clone()
	next.Message.Set(moved)
	next.Destination.Clear()
	next.MarkRead.Set(true)
	return Next(StepMarkMessageAs, next), nil
}

func (f *Flow) markMessageAs(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepMarkMessageAs
	msg := requireValue(step, "message", env.Message)
	read := require(step, "isread", env.MarkRead)

	marked, err := f.mailbox.MarkRead(ctx, msg, read)
	if err != nil {
		return nil, recoverable(step, err)
	}
	next := env.Clone()
	if marked != nil {
		next.Message.Set(marked)
	}
	next.MarkRead.Clear()
	return Next(StepGetMessageAttachments, next), nil
}

func (f *Flow) getMessageAttachments(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepGetMessageAttachments
	msg := requireValue(step, "message", env.Message)

	attachments, err := f.mailbox.ListAttachments(ctx, msg)
	if err != nil {
		return nil, recoverable(step, err)
	}
	transitions := make([]Transition, 0, len(attachments))
	for _, attachment := range attachments {
		prepared, keep, err := f.filter.Prepare(ctx, attachment)
		if err != nil {
			f.logger.Warn("attachment skipped",
				"job_id", env.ID,
				"attachment", attachment.Name,
				"error", err,
			)
			continue
		}
		if !keep {
			f.trace(step, env, "attachment filtered", "attachment", attachment.Name)
			continue
		}
		next := env.Clone()
		item := prepared
		next.Attachment.Set(&item)
		transitions = append(transitions, Transition{Step: StepCreateAttachment, Envelope: next})
	}
	return transitions, nil
}

func (f *Flow) createAttachment(ctx context.Context, env *Envelope) ([]Transition, error) {
	const step = StepCreateAttachment
	attachment := requireValue(step, "attachment", env.Attachment)
	resource, _ := env.Resource.Get()

	req := AttachmentRequest{
		Resource:   resource,
		Attachment: *attachment,
		Publish:    f.config.Defaults.Attachment.Publish,
	}
	if env.Internal {
		req.Publish = f.config.Defaults.Attachment.InternalPublish
	}
	if note, ok := env.TicketNote.Get(); ok && note != nil {
		req.Note = note
		req.Ticket, _ = env.Ticket.Get()
	} else {
		req.Ticket = requireValue(step, "ticket", env.Ticket)
	}

	record, err := f.ticketing.CreateAttachment(ctx, req)
	if err != nil {
		return nil, recoverable(step, err)
	}
	if record == nil {
		return nil, emptyResult(step, "attachment")
	}
	f.trace(step, env, "attachment uploaded", "attachment", attachment.Name, "record_id", record.ID)
	return nil, nil
}
