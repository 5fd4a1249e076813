package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/model"
)

// Template names rendered by the Emitter.
const (
	TemplateConfirmAction = "confirm_action"
	TemplateNotify        = "notify"
)

// ConfirmationData is the template data for a confirmation mail.
type ConfirmationData struct {
	Instance  string
	Kind      string
	Email     string
	NodeID    string
	ActionURL string
	ListURL   string
}

// TransitionData is the template data for a status change mail.
type TransitionData struct {
	Instance       string
	Email          string
	NodeID         string
	NodeName       string
	From           model.Status
	To             model.Status
	ListURL        string
	UnsubscribeURL string
}

// Emitter renders and sends the two kinds of mail the system produces:
// action confirmations carrying a signed token, and status notifications.
type Emitter struct {
	signer   *action.Signer
	renderer Renderer
	sender   Sender
	root     *url.URL
	instance string
}

// NewEmitter creates an Emitter. root is the public base URL links are built on.
func NewEmitter(signer *action.Signer, renderer Renderer, sender Sender, root *url.URL, instance string) *Emitter {
	return &Emitter{
		signer:   signer,
		renderer: renderer,
		sender:   sender,
		root:     root,
		instance: instance,
	}
}

// ActionURL returns the link that runs the given token.
func (e *Emitter) ActionURL(token string) string {
	u := e.root.JoinPath("run_action")
	u.RawQuery = url.Values{"signed_action": {token}}.Encode()
	return u.String()
}

// ListURL returns the link to the monitor list of email.
func (e *Emitter) ListURL(email string) string {
	u := e.root.JoinPath("list")
	u.RawQuery = url.Values{"email": {email}}.Encode()
	return u.String()
}

// SendConfirmation signs a and mails the confirmation link to the address
// the action is for. The token is only ever sent to that address.
//
// A mail failure is returned as *SendError to the requester.
func (e *Emitter) SendConfirmation(ctx context.Context, a action.Action) error {
	token, err := e.signer.SignToken(a)
	if err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}

	msg, err := e.renderer.Render(TemplateConfirmAction, ConfirmationData{
		Instance:  e.instance,
		Kind:      string(a.Kind()),
		Email:     a.Address(),
		NodeID:    action.NodeOf(a),
		ActionURL: e.ActionURL(token),
		ListURL:   e.ListURL(a.Address()),
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", TemplateConfirmAction, err)
	}

	if err := e.sender.Send(ctx, a.Address(), msg); err != nil {
		return &SendError{To: a.Address(), Err: err}
	}
	return nil
}

// SendTransition mails a status change notification. The mail carries a
// signed one-click unsubscribe link for the monitor.
func (e *Emitter) SendTransition(ctx context.Context, t Transition) error {
	unsubscribe, err := e.signer.SignToken(action.Unsubscribe{Email: t.Monitor.Email, NodeID: t.Monitor.NodeID})
	if err != nil {
		return fmt.Errorf("send transition: %w", err)
	}

	name := displayName(t.Node.Name)
	if name == "" {
		name = t.Monitor.NodeID
	}
	msg, err := e.renderer.Render(TemplateNotify, TransitionData{
		Instance:       e.instance,
		Email:          t.Monitor.Email,
		NodeID:         t.Monitor.NodeID,
		NodeName:       name,
		From:           t.From,
		To:             t.To,
		ListURL:        e.ListURL(t.Monitor.Email),
		UnsubscribeURL: e.ActionURL(unsubscribe),
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", TemplateNotify, err)
	}

	if err := e.sender.Send(ctx, t.Monitor.Email, msg); err != nil {
		return &SendError{To: t.Monitor.Email, Err: err}
	}
	return nil
}

// displayName makes a node hostname safe for a mail subject line: control
// characters become spaces and runs of spaces collapse.
func displayName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}
