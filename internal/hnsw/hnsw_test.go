package hnsw

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	idx := New(16, 50, Cosine)

	target := uuid.New()
	idx.Insert(target, []float32{1, 0, 0, 0})
	for i := 0; i < 20; i++ {
		idx.Insert(uuid.New(), []float32{0, 1, float32(i) * 0.01, 0})
	}

	results := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.Len(t, results, 1)
	require.Equal(t, target, results[0].ID)
	require.InDelta(t, 0.0, float64(results[0].Distance), 1e-4)
}

func TestSearchReturnsAtMostK(t *testing.T) {
	idx := New(16, 50, Cosine)
	for i := 0; i < 30; i++ {
		idx.Insert(uuid.New(), []float32{float32(i), 1, 1})
	}
	results := idx.Search([]float32{0, 1, 1}, 5)
	require.LessOrEqual(t, len(results), 5)
}

func TestRemoveDropsNode(t *testing.T) {
	idx := New(16, 50, Cosine)
	victim := uuid.New()
	idx.Insert(victim, []float32{5, 5, 5})
	for i := 0; i < 10; i++ {
		idx.Insert(uuid.New(), []float32{float32(i), 0, 0})
	}

	idx.Remove(victim)

	_, present := idx.nodes[victim]
	require.False(t, present)
}

func TestEmptyIndexSearchReturnsNil(t *testing.T) {
	idx := New(16, 50, Cosine)
	require.Nil(t, idx.Search([]float32{1, 2, 3}, 5))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(16, 50, Cosine)
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = uuid.New()
		idx.Insert(ids[i], []float32{float32(i), float32(i), float32(i)})
	}

	saved := idx.Save()

	idx2 := New(16, 50, Cosine)
	idx2.Load(saved, idx.entryPoint, idx.hasEntry, idx.maxLayer)

	require.Len(t, idx2.nodes, 5)
	for _, id := range ids {
		_, ok := idx2.nodes[id]
		require.True(t, ok)
	}
}
