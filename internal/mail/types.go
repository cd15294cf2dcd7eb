package mail

import (
	"context"
	"errors"
	"time"
)

var ErrNoRecipients = errors.New("mail: message has no recipients")

// Message is one outgoing email.
type Message struct {
	To       []string
	Subject  string
	BodyHTML string // used when non-empty
	BodyText string // plain-text body (report email)

	// Attachments are file paths attached as application octets.
	Attachments []string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config configures the SMTP sender.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	FromAddress string
	FromName    string

	// Retry policy for transient SMTP failures.
	RetryMax      int           // additional attempts after the first
	RetryBase     time.Duration // initial backoff
	RetryMaxDelay time.Duration // backoff cap

	InsecureSkipVerify bool
}
