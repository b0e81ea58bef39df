package distance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func vec(n int, fill func(i int) float32) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = fill(i)
	}
	return v
}

func TestSquaredEuclideanIdentical(t *testing.T) {
	a := vec(130, func(i int) float32 { return float32(i) })
	require.Equal(t, float32(0), SquaredEuclidean(a, a))
}

func TestSquaredEuclideanKnown(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 2}
	require.Equal(t, float32(9), SquaredEuclidean(a, b))
}

func TestSquaredEuclideanOddLength(t *testing.T) {
	// length not a multiple of 16, exercises the scalar remainder loop
	a := vec(17, func(i int) float32 { return float32(i) })
	b := vec(17, func(i int) float32 { return 0 })
	var want float32
	for _, v := range a {
		want += v * v
	}
	require.InDelta(t, want, SquaredEuclidean(a, b), 1e-3)
}

func TestCosineIdentical(t *testing.T) {
	a := vec(128, func(i int) float32 { return float32(i%7 + 1) })
	require.InDelta(t, 0.0, Cosine(a, a), 1e-4)
}

func TestCosineOrthogonal(t *testing.T) {
	a := []float32{1, 0, 0, 0, 0, 0, 0, 0, 0}
	b := []float32{0, 1, 0, 0, 0, 0, 0, 0, 0}
	require.InDelta(t, 1.0, Cosine(a, b), 1e-6)
}

func TestCosineZeroVector(t *testing.T) {
	a := make([]float32, 9)
	b := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.Equal(t, float32(1.0), Cosine(a, b))
}
