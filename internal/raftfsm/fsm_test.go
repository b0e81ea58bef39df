package raftfsm

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chronos-db/chronosdb/internal/chronosdb"
	"github.com/chronos-db/chronosdb/internal/raftpb"
)

func newTestFSM(t *testing.T) *FSM {
	t.Helper()
	db, err := chronosdb.Open(t.TempDir(), "node_1_wal.dat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestApplyInsertThenSnapshotRestore(t *testing.T) {
	f := newTestFSM(t)
	id := uuid.New()

	req := raftpb.ChronosRequest{
		Kind:    raftpb.KindInsert,
		ID:      id,
		Vector:  make([]float32, chronosdb.VectorDim),
		Payload: []byte("payload"),
		Ts:      1,
	}
	data, err := req.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.Apply(data))

	rec, err := f.db.GetLatest(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), rec.Payload)

	snap, err := f.Snapshot()
	require.NoError(t, err)
	snapData, err := io.ReadAll(snap)
	require.NoError(t, err)

	f2 := newTestFSM(t)
	require.NoError(t, f2.Restore(io.NopCloser(bytes.NewReader(snapData))))

	rec2, err := f2.db.GetLatest(id)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), rec2.Payload)
}

func TestApplyUnknownKindErrors(t *testing.T) {
	f := newTestFSM(t)
	req := raftpb.ChronosRequest{Kind: 0, ID: uuid.New()}
	data, err := req.Marshal()
	require.NoError(t, err)
	require.Error(t, f.Apply(data))
}
