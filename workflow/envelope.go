package workflow

import (
	"fmt"
	"sort"
)

// Slot holds one optional envelope value. A slot can be set to a nil value,
// which is distinct from never having been set.
type Slot[T any] struct {
	value T
	set   bool
}

func (s *Slot[T]) Set(value T) {
	s.value = value
	s.set = true
}

func (s *Slot[T]) Clear() {
	var zero T
	s.value = zero
	s.set = false
}

func (s Slot[T]) Get() (T, bool) {
	return s.value, s.set
}

func (s Slot[T]) IsSet() bool {
	return s.set
}

// MissingArgumentError is raised (as a panic) when a stage reads a slot that
// no earlier stage produced. The scheduler recovers it as a programming fault.
type MissingArgumentError struct {
	Step Step
	Key  string
}

func (e MissingArgumentError) Error() string {
	return fmt.Sprintf("workflow: %s requires %q but it was never set", e.Step, e.Key)
}

// Envelope carries the values accumulated by one workflow instance. Stages
// never mutate the envelope they receive; they clone it for each successor.
type Envelope struct {
	ID       string
	Mailbox  string
	Internal bool

	Message     Slot[*Message]
	Ticket      Slot[*Ticket]
	TicketNote  Slot[*TicketNote]
	Contact     Slot[*Contact]
	Account     Slot[*Account]
	Resource    Slot[*Resource]
	Destination Slot[*Folder]
	MarkRead    Slot[bool]
	Attachment  Slot[*Attachment]
}

func NewEnvelope(id string, mailbox string, msg *Message, internal bool) *Envelope {
	env := &Envelope{ID: id, Mailbox: mailbox, Internal: internal}
	env.Message.Set(msg)
	return env
}

func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return &Envelope{}
	}
	out := *e
	return &out
}

// Keys lists the slots that have been set, sorted.
func (e *Envelope) Keys() []string {
	if e == nil {
		return nil
	}
	keys := []string{}
	add := func(name string, set bool) {
		if set {
			keys = append(keys, name)
		}
	}
	add("message", e.Message.IsSet())
	add("ticket", e.Ticket.IsSet())
	add("ticketnote", e.TicketNote.IsSet())
	add("contact", e.Contact.IsSet())
	add("account", e.Account.IsSet())
	add("resource", e.Resource.IsSet())
	add("folderDestination", e.Destination.IsSet())
	add("isread", e.MarkRead.IsSet())
	add("attachment", e.Attachment.IsSet())
	sort.Strings(keys)
	return keys
}

func require[T any](step Step, key string, slot Slot[T]) T {
	value, ok := slot.Get()
	if !ok {
		panic(MissingArgumentError{Step: step, Key: key})
	}
	return value
}

// requireValue is require plus a non-nil check for pointer slots.
func requireValue[T any](step Step, key string, slot Slot[*T]) *T {
	value := require(step, key, slot)
	if value == nil {
		panic(MissingArgumentError{Step: step, Key: key})
	}
	return value
}
