package mail

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is a rendered mail, ready to be handed to a Sender.
type Message struct {
	Subject string
	Body    string
}

// String renders the message the way templates are written.
func (m Message) String() string {
	return "Subject: " + m.Subject + "\n\n" + m.Body
}

// Templates renders the embedded mail templates by name.
//
// Thread-safety: safe for concurrent use after ParseTemplates returns.
type Templates struct {
	t *template.Template
}

// ParseTemplates parses the embedded templates.
func ParseTemplates() (*Templates, error) {
	t, err := template.New("mail").Option("missingkey=error").ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}
	return &Templates{t: t}, nil
}

// Render executes the template name (without extension) and splits the
// result into subject and body.
func (t *Templates) Render(name string, data any) (Message, error) {
	var buf bytes.Buffer
	if err := t.t.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return parseMessage(buf.String())
}

// parseMessage splits "Subject: <s>\n\n<body>".
func parseMessage(s string) (Message, error) {
	header, body, ok := strings.Cut(s, "\n\n")
	if !ok {
		return Message{}, fmt.Errorf("rendered mail has no header separator")
	}
	subject, ok := strings.CutPrefix(header, "Subject: ")
	if !ok || strings.Contains(subject, "\n") {
		return Message{}, fmt.Errorf("rendered mail must start with a single Subject line")
	}
	return Message{Subject: strings.TrimSpace(subject), Body: body}, nil
}
