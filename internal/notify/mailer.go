// Package notify sends the tender digest email over SMTP.
package notify

import (
	"context"
	"fmt"
	"log"

	mail "github.com/wneessen/go-mail"

	"github.com/div360/tender-scraper/internal/domain"
)

const digestSubject = "Tender List"

// Config holds the SMTP connection and addressing parameters.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Mailer renders run reports into HTML digests and delivers them.
// A digest is sent for every run, including runs with zero new
// tenders.
type Mailer struct {
	client *mail.Client
	config Config
}

// NewMailer builds the SMTP client. STARTTLS is used when the server
// offers it, plain auth with the configured credentials.
func NewMailer(config Config) (*Mailer, error) {
	client, err := mail.NewClient(config.Server,
		mail.WithPort(config.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(config.Username),
		mail.WithPassword(config.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &Mailer{client: client, config: config}, nil
}

// SendReport renders the digest and delivers it to the configured
// recipient.
func (m *Mailer) SendReport(ctx context.Context, report domain.RunReport) error {
	body, err := RenderDigest(report)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.config.From); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.config.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	msg.Subject(digestSubject)
	msg.SetBodyString(mail.TypeTextHTML, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}
	log.Printf("notify: digest sent to %s (%d new tenders)", m.config.To, report.TotalNew())
	return nil
}
