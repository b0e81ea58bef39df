package chronosdb

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *ChronosDb {
	t.Helper()
	db, err := Open(t.TempDir(), "node_1_wal.dat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertGetLatest(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	require.NoError(t, db.Insert(id, make([]float32, VectorDim), []byte("v1"), 100))

	rec, err := db.GetLatest(id)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), rec.Payload)
}

func TestGetLatestMissingKey(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetLatest(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMultipleVersionsGetAsOf(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	vec := make([]float32, VectorDim)
	require.NoError(t, db.Insert(id, vec, []byte("at-100"), 100))
	require.NoError(t, db.Insert(id, vec, []byte("at-200"), 200))
	require.NoError(t, db.Insert(id, vec, []byte("at-300"), 300))

	rec, err := db.GetAsOf(id, 250)
	require.NoError(t, err)
	require.Equal(t, []byte("at-200"), rec.Payload)

	rec, err = db.GetAsOf(id, 50)
	require.ErrorIs(t, err, ErrNotFound)
	_ = rec
}

func TestUpdateKeepsVector(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	vec := []float32{1, 2, 3}
	vec = append(vec, make([]float32, VectorDim-3)...)
	require.NoError(t, db.Insert(id, vec, []byte("orig"), 10))
	require.NoError(t, db.Update(id, []byte("updated"), 20))

	rec, err := db.GetLatest(id)
	require.NoError(t, err)
	require.Equal(t, []byte("updated"), rec.Payload)
	require.Equal(t, vec, rec.Vector)
}

func TestDeleteRemovesLatest(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	require.NoError(t, db.Insert(id, make([]float32, VectorDim), []byte("v1"), 1))
	require.NoError(t, db.Delete(id))

	_, err := db.GetLatest(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryReturnsAllVersions(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	vec := make([]float32, VectorDim)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Insert(id, vec, []byte{byte(i)}, uint64(i)))
	}

	hist, err := db.GetHistory(id)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	for i, rec := range hist {
		require.Equal(t, []byte{byte(i)}, rec.Payload)
	}
}

func TestCompactKeepsOnlyRecentVersions(t *testing.T) {
	db := newTestDB(t)
	id := uuid.New()
	vec := make([]float32, VectorDim)
	for i := 0; i < 10; i++ {
		require.NoError(t, db.Insert(id, vec, []byte{byte(i)}, uint64(i)))
	}

	require.NoError(t, db.Compact(3))

	hist, err := db.GetHistory(id)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, []byte{7}, hist[0].Payload)
	require.Equal(t, []byte{9}, hist[2].Payload)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	id1, id2 := uuid.New(), uuid.New()
	vec := make([]float32, VectorDim)
	require.NoError(t, db.Insert(id1, vec, []byte("a"), 1))
	require.NoError(t, db.Insert(id2, vec, []byte("b"), 2))

	data, err := db.Snapshot()
	require.NoError(t, err)

	restored := newTestDB(t)
	require.NoError(t, restored.Restore(data))

	rec1, err := restored.GetLatest(id1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), rec1.Payload)

	rec2, err := restored.GetLatest(id2)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), rec2.Payload)
}

func TestSearchFindsNearestVector(t *testing.T) {
	db := newTestDB(t)
	target := uuid.New()
	tv := make([]float32, VectorDim)
	tv[0] = 1
	require.NoError(t, db.Insert(target, tv, []byte("target"), 1))

	for i := 0; i < 10; i++ {
		v := make([]float32, VectorDim)
		v[1] = 1
		v[2] = float32(i)
		require.NoError(t, db.Insert(uuid.New(), v, []byte("other"), uint64(i)))
	}

	results := db.Search(tv, 1)
	require.Len(t, results, 1)
	require.Equal(t, target, results[0].ID)
}
