package mail

import (
	"context"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay is a minimal SMTP server. A silent relay accepts connections and
// never answers.
type relay struct {
	ln     net.Listener
	silent bool

	mu    sync.Mutex
	rcpts []string
	data  []string
}

func startRelay(t *testing.T, silent bool) *relay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	r := &relay{ln: ln, silent: silent}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serve(conn)
		}
	}()
	return r
}

func (r *relay) config(timeout time.Duration) SMTPConfig {
	addr := r.ln.Addr().(*net.TCPAddr)
	return SMTPConfig{Host: "127.0.0.1", Port: addr.Port, Timeout: timeout}
}

func (r *relay) serve(conn net.Conn) {
	defer conn.Close()
	if r.silent {
		_, _ = io.Copy(io.Discard, conn)
		return
	}

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP test")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 localhost")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			r.mu.Lock()
			r.rcpts = append(r.rcpts, line[len("RCPT TO:"):])
			r.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			r.mu.Lock()
			r.data = append(r.data, string(body))
			r.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("500 unknown command")
		}
	}
}

func (r *relay) received() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.rcpts...), append([]string(nil), r.data...)
}

func TestSMTPTransport_Delivers(t *testing.T) {
	r := startRelay(t, false)
	m := NewMailer("Node Monitor <monitor@example.net>", NewSMTPTransport(r.config(5*time.Second)))

	err := m.Send(context.Background(), "a@example.com", Message{Subject: "Hi", Body: "text\n"})
	require.NoError(t, err)

	rcpts, data := r.received()
	assert.Equal(t, []string{"<a@example.com>"}, rcpts)
	require.Len(t, data, 1)
	assert.Contains(t, data[0], "Subject: Hi")
	assert.Contains(t, data[0], "Auto-Submitted: auto-generated")
}

func TestSMTPTransport_SilentRelayTimesOut(t *testing.T) {
	r := startRelay(t, true)
	tr := NewSMTPTransport(r.config(200 * time.Millisecond))

	e := email.NewEmail()
	e.From = "monitor@example.net"
	e.To = []string{"a@example.com"}
	e.Subject = "Hi"

	start := time.Now()
	err := tr.Send(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPTransport_ContextDeadline(t *testing.T) {
	r := startRelay(t, true)
	tr := NewSMTPTransport(r.config(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewMailer("monitor@example.net", tr).Send(ctx, "a@example.com", Message{Subject: "Hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPTransport_RefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tr := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	err = NewMailer("monitor@example.net", tr).Send(context.Background(), "a@example.com", Message{Subject: "Hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp 127.0.0.1:"+strconv.Itoa(port))
}

func TestNewSMTPTransport_DefaultTimeout(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "localhost", Port: 25})
	assert.Equal(t, DefaultSMTPTimeout, tr.timeout)
	assert.Nil(t, tr.auth)
	assert.Equal(t, "localhost:25", tr.addr)
}
