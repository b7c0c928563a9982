package gmail

import (
	"strings"

	"github.com/teemow/mailbridge/internal/apperror"
)

// Limits and placeholders applied to every message returned to clients.
const (
	// MaxHeaderLength is the maximum length, in characters, of a sender or subject.
	MaxHeaderLength = 100

	// DefaultBodyLimit is the maximum length, in characters, of a detail body.
	DefaultBodyLimit = 500

	// DefaultLatestCount is the number of messages returned by ListLatest
	// when the caller does not ask for a specific count.
	DefaultLatestCount = 3

	// MaxLatestCount caps the number of messages fetched per listing, since
	// each listed message costs one extra API call.
	MaxLatestCount = 5

	DefaultSubject = "No Subject"
	DefaultSender  = "Unknown"
)

// EmailSummary is one entry of the latest-messages listing.
type EmailSummary struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
}

// EmailDetail is the readable view of a single message.
type EmailDetail struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// OutgoingMessage is a plain-text message to send from the user's mailbox.
// Subject and body may be empty.
type OutgoingMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate checks that the message has a recipient and that header fields
// do not contain line breaks.
func (m *OutgoingMessage) Validate() error {
	switch {
	case strings.TrimSpace(m.To) == "":
		return apperror.New(apperror.InvalidArgument, "to is required")
	case strings.ContainsAny(m.To, "\r\n"), strings.ContainsAny(m.Subject, "\r\n"):
		return apperror.New(apperror.InvalidArgument, "to and subject must be single-line")
	}
	return nil
}

// SendRequest is the body of a send call. Keys that are absent or null
// decode to nil, which is distinct from an empty value.
type SendRequest struct {
	To      *string `json:"to"`
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// Message checks that every key is present and returns the message to send.
func (r *SendRequest) Message() (*OutgoingMessage, error) {
	switch {
	case r.To == nil:
		return nil, apperror.New(apperror.InvalidArgument, "to is required")
	case r.Subject == nil:
		return nil, apperror.New(apperror.InvalidArgument, "subject is required")
	case r.Body == nil:
		return nil, apperror.New(apperror.InvalidArgument, "body is required")
	}

	msg := &OutgoingMessage{To: *r.To, Subject: *r.Subject, Body: *r.Body}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
