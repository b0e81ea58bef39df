// Package rafttransport implements the JSON-over-HTTP Raft transport:
// one endpoint per RPC kind (/raft-vote, /raft-append, /raft-snapshot),
// translated from original_source/src/cluster/network.rs's reqwest-based
// per-RPC routing.
package rafttransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"
)

// NetworkError wraps a transport-level failure the caller should treat as
// retriable (peer down, timeout, non-2xx response).
type NetworkError struct {
	Addr string
	Err  error
}

func (e *NetworkError) Error() string { return "rafttransport: " + e.Addr + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Peer is an HTTP client for one remote node, implementing
// membership.Sender.
type Peer struct {
	Addr   string
	client *http.Client
}

// NewPeer returns a Peer dialing addr with the given per-request timeout.
func NewPeer(addr string, timeout time.Duration) *Peer {
	return &Peer{
		Addr:   addr,
		client: &http.Client{Timeout: timeout},
	}
}

// Send classifies msg by its etcd/raft message type and POSTs it as JSON
// to the matching endpoint.
func (p *Peer) Send(msg etcdraftpb.Message) error {
	path := routeFor(msg.Type)

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "rafttransport: marshal message")
	}

	url := "http://" + p.Addr + path
	resp, err := p.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return &NetworkError{Addr: p.Addr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &NetworkError{Addr: p.Addr, Err: errors.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// routeFor maps a message type to the single HTTP path it travels over,
// matching spec.md §4.7's three-endpoint transport.
func routeFor(t etcdraftpb.MessageType) string {
	switch t {
	case etcdraftpb.MsgVote, etcdraftpb.MsgVoteResp, etcdraftpb.MsgPreVote, etcdraftpb.MsgPreVoteResp:
		return "/raft-vote"
	case etcdraftpb.MsgSnap:
		return "/raft-snapshot"
	default:
		return "/raft-append"
	}
}
