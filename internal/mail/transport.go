package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"sync"
	"time"

	"github.com/jordan-wright/email"
)

// DefaultSMTPTimeout bounds one SMTP session when SMTPConfig.Timeout is zero.
const DefaultSMTPTimeout = 30 * time.Second

// Transport delivers a fully built mail. Implementations return once ctx
// is done at the latest.
type Transport interface {
	Send(ctx context.Context, mail *email.Email) error
}

// SMTPConfig holds the outbound SMTP server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport sends via an SMTP relay. It upgrades with STARTTLS when the
// relay offers it and uses PLAIN auth when a username is set.
type SMTPTransport struct {
	host    string
	addr    string
	auth    smtp.Auth
	timeout time.Duration
}

// NewSMTPTransport creates an SMTPTransport. An empty username disables auth,
// which matches a local relay on localhost:25.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	return &SMTPTransport{
		host:    cfg.Host,
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:    auth,
		timeout: timeout,
	}
}

// Send implements Transport. The whole session, dial included, ends at the
// transport timeout or when ctx is done, whichever comes first.
func (t *SMTPTransport) Send(ctx context.Context, mail *email.Email) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.send(ctx, mail); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("smtp %s: %w", t.addr, err)
	}
	return nil
}

func (t *SMTPTransport) send(ctx context.Context, mail *email.Email) error {
	from, err := netmail.ParseAddress(mail.From)
	if err != nil {
		return fmt.Errorf("sender: %w", err)
	}
	raw, err := mail.Bytes()
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}
	// Closing the connection unblocks any pending read or write.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return err
		}
	}
	if t.auth != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(t.auth); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(from.Address); err != nil {
		return err
	}
	for _, to := range mail.To {
		rcpt, err := netmail.ParseAddress(to)
		if err != nil {
			return fmt.Errorf("recipient: %w", err)
		}
		if err := c.Rcpt(rcpt.Address); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// MockTransport records mails instead of sending them.
//
// Thread-safety: safe for concurrent use via internal mutex.
type MockTransport struct {
	mu    sync.Mutex
	mails []*email.Email
	err   error
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// FailWith makes subsequent sends fail with err. Pass nil to recover.
func (t *MockTransport) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Send implements Transport.
func (t *MockTransport) Send(ctx context.Context, mail *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.mails = append(t.mails, mail)
	return nil
}

// SentMails returns a copy of all recorded mails in send order.
func (t *MockTransport) SentMails() []*email.Email {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*email.Email, len(t.mails))
	copy(out, t.mails)
	return out
}

// LastSentMail returns the most recent mail, or nil.
func (t *MockTransport) LastSentMail() *email.Email {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.mails) == 0 {
		return nil
	}
	return t.mails[len(t.mails)-1]
}
