// Package mail delivers the transactional messages the auth flows send:
// signup confirmation links, login codes and password reset links.
//
// Every Sender reports transport failures as errors. Callers decide what a
// failed send means for the flow.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// ErrInvalidMessage is returned for a message without a recipient, subject or body.
var ErrInvalidMessage = errors.New("mail: invalid message")

// Message is a plain-text mail.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// Kind tags the message for outbox consumers and logs.
	Kind string `json:"kind,omitempty"`
}

const (
	KindConfirmation = "confirmation"
	KindLoginCode    = "login_code"
	KindReset        = "password_reset"
)

// Sender delivers a message or returns an error.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Validate checks that msg is deliverable.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Subject) == "" || m.Body == "" {
		return ErrInvalidMessage
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	return nil
}

// LogSender writes messages to the logger instead of delivering them. The
// body is logged at debug level only, since it carries live credentials.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "mail dispatched",
		slog.String("driver", "log"),
		slog.String("kind", msg.Kind),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	s.logger.DebugContext(ctx, "mail body", slog.String("to", msg.To), slog.String("body", msg.Body))
	return nil
}

// Composer renders the auth flow messages.
type Composer struct {
	// BaseURL prefixes the confirmation and reset links.
	BaseURL string
	AppName string
}

func (c Composer) appName() string {
	if c.AppName == "" {
		return "Directory"
	}
	return c.AppName
}

func (c Composer) link(path, token string) string {
	return strings.TrimRight(c.BaseURL, "/") + path + token
}

// Confirmation carries the signup confirmation link.
func (c Composer) Confirmation(to, name, token string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "Confirm your %s account by opening the link below:\n\n", c.appName())
	fmt.Fprintf(&b, "%s\n\n", c.link("/confirm/", token))
	fmt.Fprintf(&b, "The link expires in %s. If you did not sign up, ignore this message.\n", humanize(ttl))
	return Message{
		To:      to,
		Subject: c.appName() + ": confirm your account",
		Body:    b.String(),
		Kind:    KindConfirmation,
	}
}

// LoginCode carries the one-time login code.
func (c Composer) LoginCode(to, code string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your %s login code is %s\n\n", c.appName(), code)
	fmt.Fprintf(&b, "It expires in %s. Never share this code.\n", humanize(ttl))
	return Message{
		To:      to,
		Subject: c.appName() + ": your login code",
		Body:    b.String(),
		Kind:    KindLoginCode,
	}
}

// Reset carries the password reset link.
func (c Composer) Reset(to, token string, ttl time.Duration) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "A password reset was requested for your %s account.\n\n", c.appName())
	fmt.Fprintf(&b, "%s\n\n", c.link("/password/reset/", token))
	fmt.Fprintf(&b, "The link expires in %s. If you did not request it, ignore this message.\n", humanize(ttl))
	return Message{
		To:      to,
		Subject: c.appName() + ": reset your password",
		Body:    b.String(),
		Kind:    KindReset,
	}
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
