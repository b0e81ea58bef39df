// Package membership tracks the set of known Raft peers and how to reach
// them. Adapted from github.com/shaj13/raft's Member/Pool interfaces
// down to what this module's HTTP transport actually needs: an address
// book keyed by node id, each entry able to send one etcd/raft message
// at a time.
package membership

import (
	"sync"
	"time"

	etcdraftpb "go.etcd.io/raft/v3/raftpb"
)

// Member is one known peer: an address and a way to push a raft message
// to it.
type Member struct {
	ID      uint64
	Address string

	mu          sync.RWMutex
	activeSince time.Time
	active      bool

	sender Sender
}

// Sender delivers one etcd/raft message to a peer. Implemented by
// internal/rafttransport.Peer.
type Sender interface {
	Send(m etcdraftpb.Message) error
}

// NewMember constructs a pool entry for id/address using sender to
// deliver messages.
func NewMember(id uint64, address string, sender Sender) *Member {
	return &Member{ID: id, Address: address, sender: sender}
}

// Send delivers m, tracking reachability for Pool.Reachable.
func (m *Member) Send(msg etcdraftpb.Message) error {
	err := m.sender.Send(msg)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.active = true
		m.activeSince = time.Now()
	} else {
		m.active = false
	}
	return err
}

// IsActive reports whether the last send to this member succeeded.
func (m *Member) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Pool is a concurrency-safe registry of cluster members.
type Pool struct {
	mu      sync.RWMutex
	members map[uint64]*Member
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{members: make(map[uint64]*Member)}
}

// Add registers or replaces the member for id.
func (p *Pool) Add(m *Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[m.ID] = m
}

// Remove drops id from the pool.
func (p *Pool) Remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, id)
}

// Get returns the member for id, if known.
func (p *Pool) Get(id uint64) (*Member, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.members[id]
	return m, ok
}

// Members returns a snapshot of all known members.
func (p *Pool) Members() []*Member {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, m)
	}
	return out
}

// Reachable counts members whose last send succeeded.
func (p *Pool) Reachable() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, m := range p.members {
		if m.IsActive() {
			n++
		}
	}
	return n
}
