package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/raft/v3"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"
	"go.uber.org/zap"

	"github.com/chronos-db/chronosdb/internal/chronoslog"
)

type fakeEngine struct {
	mu          sync.Mutex
	started     bool
	applied     uint64
	snapshot    uint64
	confChanges []etcdraftpb.ConfChange
	proposeErr  error
}

func (f *fakeEngine) Start(ctx context.Context, bootstrap bool, peers []raft.Peer) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakeEngine) ProposeConfChange(ctx context.Context, cc etcdraftpb.ConfChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.proposeErr != nil {
		return f.proposeErr
	}
	f.confChanges = append(f.confChanges, cc)
	return nil
}

func (f *fakeEngine) Status() (raft.Status, error) { return raft.Status{}, nil }
func (f *fakeEngine) AppliedIndex() uint64         { return atomic.LoadUint64(&f.applied) }
func (f *fakeEngine) SnapshotIndex() uint64        { return atomic.LoadUint64(&f.snapshot) }

func (f *fakeEngine) CreateSnapshot() (etcdraftpb.Snapshot, error) {
	return etcdraftpb.Snapshot{}, nil
}

type fakeStorage struct {
	purgedTo uint64
	err      error
}

func (f *fakeStorage) PurgeLogsUpto(i uint64) error {
	f.purgedTo = i
	return f.err
}

func newTestHandler(eng *fakeEngine, st *fakeStorage) *Handler {
	return &Handler{eng: eng, storage: st, log: chronoslog.New(zap.NewNop())}
}

func TestHandleInitReportsSuccess(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(eng, &fakeStorage{})

	req := httptest.NewRequest("POST", "/init", nil)
	w := httptest.NewRecorder()
	h.handleInit(w, req)

	var ok bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	require.True(t, ok)
}

func TestHandleAddLearnerProposesConfChange(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(eng, &fakeStorage{})

	body, _ := json.Marshal(addLearnerRequest{ID: 2, Address: "127.0.0.1:20002"})
	req := httptest.NewRequest("POST", "/add-learner", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.handleAddLearner(w, req)

	var ok bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	require.True(t, ok)
	require.Len(t, eng.confChanges, 1)
	require.Equal(t, uint64(2), eng.confChanges[0].NodeID)
	require.Equal(t, etcdraftpb.ConfChangeAddLearnerNode, eng.confChanges[0].Type)
}

func TestHandleChangeMembershipAddsEachVoter(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(eng, &fakeStorage{})

	body, _ := json.Marshal(changeMembershipRequest{Voters: []uint64{1, 2, 3}})
	req := httptest.NewRequest("POST", "/change-membership", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.handleChangeMembership(w, req)

	var ok bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	require.True(t, ok)
	require.Len(t, eng.confChanges, 3)
}

func TestHandleBuildSnapshotNoOpWhenNothingApplied(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestHandler(eng, &fakeStorage{})

	req := httptest.NewRequest("POST", "/build-snapshot", nil)
	w := httptest.NewRecorder()
	h.handleBuildSnapshot(w, req)

	var ok bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	require.True(t, ok)
}

func TestHandleBuildSnapshotPurgesOnceSnapshotCatchesUp(t *testing.T) {
	eng := &fakeEngine{applied: 50}
	st := &fakeStorage{}
	h := newTestHandler(eng, st)

	go func() {
		time.Sleep(150 * time.Millisecond)
		atomic.StoreUint64(&eng.snapshot, 50)
	}()

	req := httptest.NewRequest("POST", "/build-snapshot", nil)
	w := httptest.NewRecorder()
	h.handleBuildSnapshot(w, req)

	var ok bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	require.True(t, ok)
	require.Equal(t, uint64(50), st.purgedTo)
}
