package testutil

import (
	"context"
	"sync"

	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/model"
)

// StaticSource is a monitor.Source returning a settable snapshot.
type StaticSource struct {
	mu   sync.Mutex
	snap model.Snapshot
	err  error
}

// NewStaticSource creates a source returning a snapshot of nodes.
func NewStaticSource(nodes ...model.Node) *StaticSource {
	return &StaticSource{snap: model.NewSnapshot(nodes...)}
}

// Set replaces the snapshot.
func (s *StaticSource) Set(nodes ...model.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = model.NewSnapshot(nodes...)
}

// FailWith makes Snapshot return err (nil to recover).
func (s *StaticSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Snapshot returns the current snapshot.
func (s *StaticSource) Snapshot(ctx context.Context) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return model.Snapshot{}, s.err
	}
	return s.snap, nil
}

// SentMessage is one message accepted by an Outbox.
type SentMessage struct {
	To  string
	Msg mail.Message
}

// Outbox is a monitor.Sender that records messages instead of sending them.
type Outbox struct {
	mu   sync.Mutex
	sent []SentMessage
	err  error
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// FailWith makes Send return err (nil to recover).
func (o *Outbox) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Send records msg unless a failure is configured.
func (o *Outbox) Send(ctx context.Context, to string, msg mail.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, SentMessage{To: to, Msg: msg})
	return nil
}

// Sent returns a copy of all recorded messages.
func (o *Outbox) Sent() []SentMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SentMessage(nil), o.sent...)
}

// Last returns the most recent message.
func (o *Outbox) Last() (SentMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return SentMessage{}, false
	}
	return o.sent[len(o.sent)-1], true
}
