package mailer

import (
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/aularis/lms-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers email messages.
type Mailer interface {
	Send(msg Message) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTP builds a mailer from SMTP configuration.
func NewSMTP(cfg config.SMTPConfig) *SMTPMailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.SkipTLSVerify {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &SMTPMailer{
		dialer: dialer,
		from:   cfg.From,
	}
}

// Send dials the relay and delivers a single message.
func (m *SMTPMailer) Send(msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("send mail: empty recipient")
	}

	mail := gomail.NewMessage()
	mail.SetHeader("From", m.from)
	mail.SetHeader("To", msg.To)
	mail.SetHeader("Subject", msg.Subject)
	if msg.Text != "" {
		mail.SetBody("text/plain", msg.Text)
	}
	if msg.HTML != "" {
		if msg.Text != "" {
			mail.AddAlternative("text/html", msg.HTML)
		} else {
			mail.SetBody("text/html", msg.HTML)
		}
	}

	if err := m.dialer.DialAndSend(mail); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}
