package model

import "time"

// Monitor is a subscription binding an email address to a node.
// Unique on (Email, NodeID).
type Monitor struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	NodeID       string `json:"node_id"`
	LastNotified Status `json:"last_notified_status"`
}

// Node is the cached copy of one node from the last snapshot.
type Node struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// ConfirmedEmail records that the holder of an address followed a
// confirmation link.
type ConfirmedEmail struct {
	Email       string    `json:"email"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Snapshot is the externally observed state of all known nodes.
type Snapshot struct {
	Nodes map[string]Node
}

// NewSnapshot indexes nodes by ID. Later entries win on duplicate IDs.
func NewSnapshot(nodes ...Node) Snapshot {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return Snapshot{Nodes: m}
}

// Lookup returns the observed node with the given ID.
func (s Snapshot) Lookup(id string) (Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}
