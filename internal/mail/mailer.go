package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
)

// Mailer builds mails from rendered Messages and hands them to a Transport.
type Mailer struct {
	From      string
	Transport Transport
}

// NewMailer creates a Mailer sending as from.
func NewMailer(from string, t Transport) *Mailer {
	return &Mailer{From: from, Transport: t}
}

// Send delivers msg to a single recipient. Delivery is abandoned when ctx
// is done.
func (m *Mailer) Send(ctx context.Context, to string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = m.From
	e.To = []string{to}
	e.Subject = msg.Subject
	e.Text = []byte(msg.Body)
	e.Headers.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.Must(uuid.NewV7()), senderDomain(m.From)))
	e.Headers.Set("Auto-Submitted", "auto-generated")

	if err := m.Transport.Send(ctx, e); err != nil {
		return err
	}
	return nil
}

// senderDomain extracts the domain of an address like "Name <a@b.c>".
func senderDomain(from string) string {
	from = strings.TrimSuffix(strings.TrimSpace(from), ">")
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}
