package raftengine

import "sync/atomic"

// idGenerator hands out monotonically increasing change ids used to
// correlate a proposed entry with the broadcast that wakes its waiter.
// github.com/shaj13/raft's engine.go uses go.etcd.io/etcd/pkg/v3/idutil.
// Generator for this (embedding the node id in the high bits so ids are
// unique cluster-wide); that package is not carried into this module
// (see DESIGN.md's dropped-dependency notes) since pulling the
// whole etcd/pkg module tree for one counter is not proportionate. A plain
// per-node atomic counter seeded with the node id is used instead. Every
// node broadcasts each applied entry's id to its own wait-table, so the
// node-id seed is what keeps one node's ids from waking another node's
// waiters.
type idGenerator struct {
	n uint64
}

func newIDGenerator(nodeID uint64) *idGenerator {
	// seed high bits with the node id so ids from different nodes do not
	// collide (and stay distinguishable in logs).
	return &idGenerator{n: nodeID << 48}
}

func (g *idGenerator) next() uint64 {
	return atomic.AddUint64(&g.n, 1)
}
