package raftengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDGeneratorMonotonic(t *testing.T) {
	g := newIDGenerator(1)
	a := g.next()
	b := g.next()
	require.Less(t, a, b)
}

func TestIDGeneratorDistinctNodesDontCollideSoon(t *testing.T) {
	g1 := newIDGenerator(1)
	g2 := newIDGenerator(2)
	require.NotEqual(t, g1.next(), g2.next())
}
