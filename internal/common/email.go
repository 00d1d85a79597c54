package common

import "github.com/rs/zerolog"

// EmailSender sends transactional mail (quote confirmations, password
// resets). Implementations must be safe for concurrent use.
type EmailSender interface {
	Send(to, subject, html string) error
}

// Email is one captured message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// InMemoryEmail collects messages instead of sending them. Tests
// assert against Outbox.
type InMemoryEmail struct {
	Outbox []Email
}

func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// NopEmailSender discards everything. Used when no mail transport is
// configured.
type NopEmailSender struct{}

func (NopEmailSender) Send(string, string, string) error { return nil }

// LogEmailSender writes each message to the application log instead of
// a mail transport. It backs deployments where EMAIL_FROM is set but no
// SMTP relay exists yet, so password resets and quote confirmations are
// visible to operators rather than silently dropped.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s LogEmailSender) Send(to, subject, html string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(html)).
		Msg("email_logged_not_sent")
	return nil
}
