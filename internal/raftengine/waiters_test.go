package raftengine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronos-db/chronosdb/internal/chronoslog"
	"github.com/chronos-db/chronosdb/internal/membership"
	"go.uber.org/zap"
)

func newTestEngine() *engine {
	e := New(Config{NodeID: 1}, nil, nil, membership.NewPool(), chronoslog.New(zap.NewNop())).(*engine)
	return e
}

func TestBroadcastWakesRegisteredWaiter(t *testing.T) {
	e := newTestEngine()
	ch := e.registerWaiter(42)
	e.broadcast(42, nil)
	select {
	case err := <-ch:
		require.NoError(t, err)
	default:
		t.Fatal("expected broadcast to deliver to waiter channel")
	}
}

func TestBroadcastCarriesError(t *testing.T) {
	e := newTestEngine()
	ch := e.registerWaiter(7)
	wantErr := errors.New("boom")
	e.broadcast(7, wantErr)
	require.Equal(t, wantErr, <-ch)
}

func TestBroadcastUnknownIDIsNoop(t *testing.T) {
	e := newTestEngine()
	e.broadcast(999, nil) // must not panic
}

func TestUnregisterWaiterRemovesEntry(t *testing.T) {
	e := newTestEngine()
	e.registerWaiter(1)
	e.unregisterWaiter(1)
	_, ok := e.waiters[1]
	require.False(t, ok)
}
