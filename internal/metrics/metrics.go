// Package metrics exposes the node's Prometheus gauges, using
// github.com/shaj13/raft's direct dependency on
// github.com/prometheus/client_golang for process introspection. Only
// two gauges are wired: the Raft applied log index
// and the last snapshot index, which internal/admin's /build-snapshot
// handler refreshes on each tick of its poll loop.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the node's two gauges.
type Registry struct {
	AppliedIndex prometheus.Gauge
	SnapshotIndex prometheus.Gauge
}

// EngineIndexes is the subset of raftengine.Engine the registry polls.
// Declared locally so this package doesn't import raftengine (which
// would otherwise create an import cycle once raftengine's own tests
// want to exercise metrics).
type EngineIndexes interface {
	AppliedIndex() uint64
	SnapshotIndex() uint64
}

// New registers the node's gauges against reg (pass
// prometheus.NewRegistry() in production, or a throwaway registry in
// tests).
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		AppliedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chronosdb_raft_applied_index",
			Help: "Highest Raft log index applied to the state machine.",
		}),
		SnapshotIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chronosdb_raft_snapshot_index",
			Help: "Raft log index covered by the most recent snapshot.",
		}),
	}
	reg.MustRegister(m.AppliedIndex, m.SnapshotIndex)
	return m
}

// Sample reads eng's current indexes into the gauges. Called on every
// /build-snapshot poll tick rather than via a background ticker, so the
// gauges are only as fresh as the last admin request needed them to be.
func (m *Registry) Sample(eng EngineIndexes) {
	m.AppliedIndex.Set(float64(eng.AppliedIndex()))
	m.SnapshotIndex.Set(float64(eng.SnapshotIndex()))
}
