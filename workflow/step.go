package workflow

import "fmt"

// Step names one stage of the mail-to-ticket workflow.
type Step int

const (
	StepFindTicketByNumber Step = iota + 1
	StepFindResourceByEmail
	StepCreateTicketNote
	StepFindContactByEmail
	StepFindAccountByID
	StepFindAccountByDomain
	StepFindAccountByName
	StepCreateTicket
	StepMoveMessageToFolder
	StepMarkMessageAs
	StepGetMessageAttachments
	StepCreateAttachment
)

var stepNames = map[Step]string{
	StepFindTicketByNumber:    "FindTicketByNumber",
	StepFindResourceByEmail:   "FindResourceByEmail",
	StepCreateTicketNote:      "CreateTicketNote",
	StepFindContactByEmail:    "FindContactByEmail",
	StepFindAccountByID:       "FindAccountByID",
	StepFindAccountByDomain:   "FindAccountByDomain",
	StepFindAccountByName:     "FindAccountByName",
	StepCreateTicket:          "CreateTicket",
	StepMoveMessageToFolder:   "MoveMessageToFolder",
	StepMarkMessageAs:         "MarkMessageAs",
	StepGetMessageAttachments: "GetMessageAttachments",
	StepCreateAttachment:      "CreateAttachment",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

func (s Step) Valid() bool {
	_, ok := stepNames[s]
	return ok
}

// Escalates reports whether exhausting this stage should page someone.
func (s Step) Escalates() bool {
	switch s {
	case StepCreateTicket, StepCreateTicketNote, StepFindAccountByName:
		return true
	default:
		return false
	}
}

// Transition names the next stage together with the payload it receives.
type Transition struct {
	Step     Step
	Envelope *Envelope
}

func Next(step Step, envelope *Envelope) []Transition {
	return []Transition{{Step: step, Envelope: envelope}}
}
