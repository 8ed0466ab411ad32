// Package mail delivers transactional email: the activation link sent after
// registration.
//
// SENDERS:
//
//	SMTPSender  → real delivery over SMTP (STARTTLS when offered)
//	LogSender   → writes the message to the log; for development
//	RetrySender → wraps another Sender and retries transient failures
//
// Only RetrySender knows about retries. The inner senders make exactly one
// attempt and report what went wrong.
package mail

import (
	"context"
	"fmt"
	"strings"
)

// Message is one plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ActivationMessage builds the mail sent after registration. link is the
// absolute activation URL.
func ActivationMessage(to, firstName, link string) Message {
	greeting := "Hello"
	if name := strings.TrimSpace(firstName); name != "" {
		greeting = "Hello, " + name
	}
	return Message{
		To:      to,
		Subject: "Activate your account",
		Body: fmt.Sprintf("%s!\n\nPlease follow the link below to activate your account:\n\n%s\n\n"+
			"The link is valid for 3 days. If you did not register, ignore this email.\n", greeting, link),
	}
}
