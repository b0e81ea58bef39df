// Package admin implements the cluster's operator-facing HTTP endpoints:
// bootstrap, membership changes, and manual snapshot/purge — translated
// from original_source/src/cluster/api.rs's warp route table onto
// gorilla/mux.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.etcd.io/raft/v3"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"

	"github.com/chronos-db/chronosdb/internal/chronoslog"
	"github.com/chronos-db/chronosdb/internal/metrics"
)

// Engine is the subset of raftengine.Engine the admin handlers call.
type Engine interface {
	Start(ctx context.Context, bootstrap bool, peers []raft.Peer) error
	ProposeConfChange(ctx context.Context, cc etcdraftpb.ConfChange) error
	Status() (raft.Status, error)
	CreateSnapshot() (etcdraftpb.Snapshot, error)
	AppliedIndex() uint64
	SnapshotIndex() uint64
}

// Storage is the subset of raftstorage.Storage the /build-snapshot
// handler purges against.
type Storage interface {
	PurgeLogsUpto(compactIndex uint64) error
}

const (
	snapshotPollInterval = 100 * time.Millisecond
	snapshotPollAttempts = 300 // 30s total, matching api.rs's build_snapshot
)

// Handler serves the admin routes.
type Handler struct {
	eng     Engine
	storage Storage
	metrics *metrics.Registry
	log     chronoslog.Logger
}

// NewHandler builds the admin mux, registering /init, /add-learner,
// /change-membership, and /build-snapshot.
func NewHandler(eng Engine, storage Storage, m *metrics.Registry, log chronoslog.Logger) http.Handler {
	h := &Handler{eng: eng, storage: storage, metrics: m, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/init", h.handleInit).Methods(http.MethodPost)
	r.HandleFunc("/add-learner", h.handleAddLearner).Methods(http.MethodPost)
	r.HandleFunc("/change-membership", h.handleChangeMembership).Methods(http.MethodPost)
	r.HandleFunc("/build-snapshot", h.handleBuildSnapshot).Methods(http.MethodPost)
	return r
}

// addLearnerRequest mirrors api.rs's add_learner body shape: (id, addr).
type addLearnerRequest struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// changeMembershipRequest mirrors api.rs's change_membership body: a set
// of voter ids.
type changeMembershipRequest struct {
	Voters []uint64 `json:"voters"`
}

func writeJSON(w http.ResponseWriter, v bool) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleInit bootstraps a single-node cluster, matching api.rs's /init
// (which seeds a one-member BTreeMap and calls raft.initialize).
//
// Engine.Start runs the Ready()/Advance() reactor loop and only returns
// on Shutdown or a fatal error, so it is launched in its own goroutine
// here rather than awaited — the request itself just reports that the
// node was told to bootstrap, matching api.rs returning immediately
// after calling raft.initialize without awaiting cluster convergence.
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- h.eng.Start(ctx, true, []raft.Peer{{ID: 1}}) }()

	select {
	case err := <-errCh:
		h.log.Warningf("admin: init: engine exited immediately: %v", err)
		writeJSON(w, false)
	case <-time.After(50 * time.Millisecond):
		writeJSON(w, true)
	}
}

// handleAddLearner proposes a non-voting conf change adding id as a
// learner, matching api.rs's /add-learner. The address in the request
// body is decoded but not used: it is neither put in the conf change nor
// registered anywhere.
func (h *Handler) handleAddLearner(w http.ResponseWriter, r *http.Request) {
	var req addLearnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cc := etcdraftpb.ConfChange{
		Type:   etcdraftpb.ConfChangeAddLearnerNode,
		NodeID: req.ID,
	}
	err := h.eng.ProposeConfChange(r.Context(), cc)
	if err != nil {
		h.log.Warningf("admin: add-learner %d: %v", req.ID, err)
	}
	writeJSON(w, err == nil)
}

// handleChangeMembership proposes conf changes promoting the given ids
// to voters, matching api.rs's /change-membership.
func (h *Handler) handleChangeMembership(w http.ResponseWriter, r *http.Request) {
	var req changeMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, id := range req.Voters {
		cc := etcdraftpb.ConfChange{
			Type:   etcdraftpb.ConfChangeAddNode,
			NodeID: id,
		}
		if err := h.eng.ProposeConfChange(r.Context(), cc); err != nil {
			h.log.Warningf("admin: change-membership add %d: %v", id, err)
			writeJSON(w, false)
			return
		}
	}
	writeJSON(w, true)
}

// handleBuildSnapshot triggers a snapshot, polls until it covers the
// current applied index (max 30s, 100ms ticks), then purges the log up
// to that index — a direct port of api.rs's build_snapshot control
// flow onto this engine's AppliedIndex/SnapshotIndex gauges.
func (h *Handler) handleBuildSnapshot(w http.ResponseWriter, r *http.Request) {
	h.log.Infof("admin: manual snapshot triggered")

	targetIndex := h.eng.AppliedIndex()
	if targetIndex == 0 {
		writeJSON(w, true)
		return
	}

	if _, err := h.eng.CreateSnapshot(); err != nil {
		h.log.Warningf("admin: build-snapshot: trigger failed: %v", err)
		writeJSON(w, false)
		return
	}

	if h.metrics != nil {
		h.metrics.Sample(h.eng)
	}

	purgeReady := false
	for i := 0; i < snapshotPollAttempts; i++ {
		time.Sleep(snapshotPollInterval)
		if h.metrics != nil {
			h.metrics.Sample(h.eng)
		}
		if h.eng.SnapshotIndex() >= targetIndex {
			purgeReady = true
			break
		}
	}

	if !purgeReady {
		h.log.Warningf("admin: build-snapshot: timed out waiting for snapshot to reach index %d", targetIndex)
		writeJSON(w, false)
		return
	}

	if err := h.storage.PurgeLogsUpto(targetIndex); err != nil {
		h.log.Warningf("admin: build-snapshot: purge to %d failed: %v", targetIndex, err)
		writeJSON(w, false)
		return
	}

	h.log.Infof("admin: purged log up to index %d", targetIndex)
	writeJSON(w, true)
}
