// Package raftfsm adapts ChronosDb to the three-method StateMachine shape
// the raft engine consumes (Apply/Snapshot/Restore, per
// github.com/shaj13/raft's example_test.go), dispatching decoded
// ChronosRequest commands onto the database instead of opaque bytes.
package raftfsm

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/chronos-db/chronosdb/internal/chronosdb"
	"github.com/chronos-db/chronosdb/internal/raftpb"
)

// StateMachine is the interface internal/raftengine drives Ready/Advance
// output into.
type StateMachine interface {
	Apply(data []byte) error
	Snapshot() (io.ReadCloser, error)
	Restore(io.ReadCloser) error
}

// FSM applies committed ChronosRequests to a ChronosDb.
type FSM struct {
	db *chronosdb.ChronosDb
}

// New wraps db as a StateMachine.
func New(db *chronosdb.ChronosDb) *FSM {
	return &FSM{db: db}
}

var _ StateMachine = (*FSM)(nil)

// Apply decodes data as a ChronosRequest and dispatches it onto the
// database. Unlike the reference implementation's
// apply_to_state_machine, which always reports success regardless of the
// underlying call's outcome, this returns the real error from the db
// call — see DESIGN.md open question 2. The engine propagates this error
// to the client goroutine blocked in ProposeReplicate.
func (f *FSM) Apply(data []byte) error {
	req, err := raftpb.Unmarshal(data)
	if err != nil {
		return errors.Wrap(err, "raftfsm: decode request")
	}

	switch req.Kind {
	case raftpb.KindInsert:
		return f.db.Insert(req.ID, req.Vector, req.Payload, req.Ts)
	case raftpb.KindUpdate:
		return f.db.Update(req.ID, req.Payload, req.Ts)
	case raftpb.KindDelete:
		return f.db.Delete(req.ID)
	default:
		return errors.Errorf("raftfsm: unknown request kind %d", req.Kind)
	}
}

// Snapshot serializes the full database for transfer to a lagging peer.
func (f *FSM) Snapshot() (io.ReadCloser, error) {
	data, err := f.db.Snapshot()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Restore replaces the database's contents from a peer's snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "raftfsm: read snapshot")
	}
	return f.db.Restore(data)
}
