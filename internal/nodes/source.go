// Package nodes fetches the observed node snapshot from a meshviewer
// endpoint.
//
// Two document layouts are understood:
//
//	nodes.json (v2):      {"version": 2, "nodes": [{"nodeinfo": {"node_id", "hostname"}, "flags": {"online"}}]}
//	meshviewer.json:      {"nodes": [{"node_id", "hostname", "is_online"}]}
//
// The layout is detected per entry, so mixed documents decode too. Entries
// without a node ID are skipped.
package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/nodemon/internal/model"
)

// DefaultTimeout bounds one snapshot fetch.
const DefaultTimeout = 30 * time.Second

// maxDocumentSize caps the body read from the endpoint.
const maxDocumentSize = 64 << 20

// HTTPSource fetches a node snapshot over HTTP.
type HTTPSource struct {
	url    string
	client *http.Client
}

// Option configures an HTTPSource.
type Option func(*HTTPSource)

// WithClient replaces the HTTP client (for testing or custom transports).
func WithClient(c *http.Client) Option {
	return func(s *HTTPSource) {
		s.client = c
	}
}

// NewHTTPSource creates a source reading url.
func NewHTTPSource(url string, opts ...Option) *HTTPSource {
	s := &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot fetches and decodes the node document.
func (s *HTTPSource) Snapshot(ctx context.Context) (model.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Snapshot{}, fmt.Errorf("fetch %s: request timed out", s.url)
		}
		return model.Snapshot{}, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return model.Snapshot{}, fmt.Errorf("fetch %s: http %d", s.url, resp.StatusCode)
	}

	return Decode(io.LimitReader(resp.Body, maxDocumentSize))
}

type document struct {
	Version int     `json:"version"`
	Nodes   []entry `json:"nodes"`
}

type entry struct {
	// nodes.json v2
	NodeInfo *struct {
		NodeID   string `json:"node_id"`
		Hostname string `json:"hostname"`
	} `json:"nodeinfo"`
	Flags *struct {
		Online bool `json:"online"`
	} `json:"flags"`

	// meshviewer.json
	NodeID   string `json:"node_id"`
	Hostname string `json:"hostname"`
	IsOnline *bool  `json:"is_online"`
}

func (e entry) node() (model.Node, bool) {
	var n model.Node
	switch {
	case e.NodeInfo != nil:
		n.ID = e.NodeInfo.NodeID
		n.Name = e.NodeInfo.Hostname
		n.Status = model.StatusFromOnline(e.Flags != nil && e.Flags.Online)
	case e.NodeID != "":
		n.ID = e.NodeID
		n.Name = e.Hostname
		n.Status = model.StatusFromOnline(e.IsOnline != nil && *e.IsOnline)
	default:
		return model.Node{}, false
	}
	if n.ID == "" {
		return model.Node{}, false
	}
	if n.Name == "" {
		n.Name = n.ID
	}
	return n, true
}

// Decode parses a node document from r.
func Decode(r io.Reader) (model.Snapshot, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode nodes: %w", err)
	}
	if doc.Version != 0 && doc.Version != 2 {
		return model.Snapshot{}, fmt.Errorf("decode nodes: unsupported version %d", doc.Version)
	}

	nodes := make([]model.Node, 0, len(doc.Nodes))
	for _, e := range doc.Nodes {
		if n, ok := e.node(); ok {
			nodes = append(nodes, n)
		}
	}
	return model.NewSnapshot(nodes...), nil
}
