package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"regexp"
	"strings"
)

const internalTag = "internal"

var (
	ticketNumberPattern = regexp.MustCompile(`T[0-9]{8}\.[0-9]{4}`)
	subjectTagPattern   = regexp.MustCompile(`\[[a-zA-Z]*\]`)
)

// MessageID derives the workflow instance id from the provider message id.
// The same message always maps to the same instance.
func MessageID(providerID string) string {
	sum := sha256.Sum256([]byte(providerID))
	return hex.EncodeToString(sum[:])
}

// ExtractTicketNumber returns the first ticket number (T20240101.0001 style)
// found in subject, or "".
func ExtractTicketNumber(subject string) string {
	return ticketNumberPattern.FindString(subject)
}

// ExtractSubjectTag returns the first bracketed tag in subject without its
// brackets.
func ExtractSubjectTag(subject string) (tag string, raw string) {
	raw = subjectTagPattern.FindString(subject)
	if raw == "" {
		return "", ""
	}
	return raw[1 : len(raw)-1], raw
}

// ClassifySubject strips an [internal] tag from subject and reports whether
// it was present. Other tags are left alone.
func ClassifySubject(subject string) (string, bool) {
	tag, raw := ExtractSubjectTag(subject)
	if raw == "" || !strings.EqualFold(tag, internalTag) {
		return subject, false
	}
	return strings.TrimSpace(strings.Replace(subject, raw, "", 1)), true
}

// NoteTitle removes the ticket number from a reply subject.
func NoteTitle(subject string, number string) string {
	if number == "" {
		return strings.TrimSpace(subject)
	}
	return strings.TrimSpace(strings.ReplaceAll(subject, number, " "))
}

func ValidAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Address, address)
}

// SenderDomain returns the lowercased domain of address, or "" when the
// address does not parse.
func SenderDomain(address string) string {
	parsed, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return ""
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at < 0 || at == len(parsed.Address)-1 {
		return ""
	}
	return strings.ToLower(parsed.Address[at+1:])
}
