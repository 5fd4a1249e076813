package action

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind names an action variant. It is the "kind" key of the canonical encoding.
type Kind string

const (
	KindSubscribe    Kind = "subscribe"
	KindUnsubscribe  Kind = "unsubscribe"
	KindConfirmEmail Kind = "confirm_email"
)

// Kinds lists every variant in declaration order.
var Kinds = []Kind{KindSubscribe, KindUnsubscribe, KindConfirmEmail}

// ParseKind maps a form value to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action kind %q", s)
}

// Action is a sealed sum type of subscription mutations.
// Only Subscribe, Unsubscribe and ConfirmEmail implement it.
//
// Every variant carries the email address it acts for. That address is the
// only authority: whoever holds a valid token for it may run the action.
type Action interface {
	Kind() Kind
	// Address returns the email address the action is authorized for.
	Address() string
	// fields returns the variant's payload keys, without "kind".
	fields() map[string]string
}

// Subscribe asks to start monitoring NodeID for Email.
type Subscribe struct {
	Email  string `json:"email"`
	NodeID string `json:"node_id"`
}

func (Subscribe) Kind() Kind { return KindSubscribe }
func (a Subscribe) Address() string { return a.Email }
func (a Subscribe) fields() map[string]string {
	return map[string]string{"email": a.Email, "node_id": a.NodeID}
}

// Unsubscribe asks to stop monitoring NodeID for Email.
type Unsubscribe struct {
	Email  string `json:"email"`
	NodeID string `json:"node_id"`
}

func (Unsubscribe) Kind() Kind { return KindUnsubscribe }
func (a Unsubscribe) Address() string { return a.Email }
func (a Unsubscribe) fields() map[string]string {
	return map[string]string{"email": a.Email, "node_id": a.NodeID}
}

// ConfirmEmail acknowledges that the holder controls Email.
type ConfirmEmail struct {
	Email string `json:"email"`
}

func (ConfirmEmail) Kind() Kind { return KindConfirmEmail }
func (a ConfirmEmail) Address() string { return a.Email }
func (a ConfirmEmail) fields() map[string]string {
	return map[string]string{"email": a.Email}
}

// NodeOf returns the node an action refers to, or "" for ConfirmEmail.
func NodeOf(a Action) string {
	switch v := a.(type) {
	case Subscribe:
		return v.NodeID
	case Unsubscribe:
		return v.NodeID
	default:
		return ""
	}
}

// Normalize trims surrounding whitespace and applies Unicode NFC so that
// visually identical form input produces identical actions.
func Normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// New builds a validated action from untrusted form values.
// Inputs are normalized first; nodeID is ignored for KindConfirmEmail.
func New(kind Kind, email, nodeID string) (Action, error) {
	email = Normalize(email)
	nodeID = Normalize(nodeID)

	var a Action
	switch kind {
	case KindSubscribe:
		a = Subscribe{Email: email, NodeID: nodeID}
	case KindUnsubscribe:
		a = Unsubscribe{Email: email, NodeID: nodeID}
	case KindConfirmEmail:
		a = ConfirmEmail{Email: email}
	default:
		return nil, fmt.Errorf("unknown action kind %q", kind)
	}

	if err := Validate(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks that every required field is present and well formed.
func Validate(a Action) error {
	if a == nil {
		return fmt.Errorf("action is nil")
	}
	if err := validateEmail(a.Address()); err != nil {
		return err
	}
	switch a.(type) {
	case Subscribe, Unsubscribe:
		if err := validateNodeID(NodeOf(a)); err != nil {
			return err
		}
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email: required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("email: %q is not a plain address", email)
	}
	return nil
}

func validateNodeID(id string) error {
	if id == "" {
		return fmt.Errorf("node_id: required")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("node_id: %q contains whitespace", id)
	}
	return nil
}
