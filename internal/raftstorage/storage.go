// Package raftstorage implements an in-memory go.etcd.io/raft/v3 Storage,
// with wrapper methods named after the openraft trait methods the
// original Rust implementation's RaftLogStorage used
// (original_source/src/cluster/store.rs), so this module's vocabulary
// matches spec.md's Raft section even though the underlying engine is
// etcd/raft rather than openraft.
//
// The log and snapshot are held purely in memory: a restarted node loses
// both its log entries and its last snapshot. This is the documented baseline
// tradeoff from spec.md (see DESIGN.md open question 4), not an
// oversight.
package raftstorage

import (
	"sync"

	"github.com/pkg/errors"
	"go.etcd.io/raft/v3"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"
)

// ErrCompacted is returned when a requested entry has already been
// purged by PurgeLogsUpto.
var ErrCompacted = errors.New("raftstorage: requested entry has been compacted")

// Storage is an in-memory implementation of raft.Storage plus the
// spec-named wrapper operations used by internal/raftengine.
type Storage struct {
	mu sync.RWMutex

	hardState etcdraftpb.HardState
	confState etcdraftpb.ConfState

	// ents[i] corresponds to raft index i+ents[0].Index, i.e.
	// ents[0] is a dummy entry holding (Term, Index) of the last
	// purged or snapshot-installed entry.
	ents []etcdraftpb.Entry

	snapshot etcdraftpb.Snapshot
}

// New returns an empty storage with a zero dummy entry at index 0.
func New() *Storage {
	return &Storage{
		ents: make([]etcdraftpb.Entry, 1),
	}
}

var _ raft.Storage = (*Storage)(nil)

// InitialState implements raft.Storage.
func (s *Storage) InitialState() (etcdraftpb.HardState, etcdraftpb.ConfState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardState, s.confState, nil
}

// Entries implements raft.Storage.
func (s *Storage) Entries(lo, hi, maxSize uint64) ([]etcdraftpb.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset := s.ents[0].Index
	if lo <= offset {
		return nil, raft.ErrCompacted
	}
	if hi > s.lastIndexLocked()+1 {
		return nil, raft.ErrUnavailable
	}
	if len(s.ents) == 1 {
		return nil, raft.ErrUnavailable
	}

	ents := s.ents[lo-offset : hi-offset]
	return limitSize(ents, maxSize), nil
}

// Term implements raft.Storage.
func (s *Storage) Term(i uint64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset := s.ents[0].Index
	if i < offset {
		return 0, raft.ErrCompacted
	}
	if int(i-offset) >= len(s.ents) {
		return 0, raft.ErrUnavailable
	}
	return s.ents[i-offset].Term, nil
}

// LastIndex implements raft.Storage.
func (s *Storage) LastIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndexLocked(), nil
}

func (s *Storage) lastIndexLocked() uint64 {
	return s.ents[0].Index + uint64(len(s.ents)) - 1
}

// FirstIndex implements raft.Storage.
func (s *Storage) FirstIndex() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ents[0].Index + 1, nil
}

// Snapshot implements raft.Storage.
func (s *Storage) Snapshot() (etcdraftpb.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, nil
}

// SaveVote persists the current term/vote (spec vocabulary: ReadVote's
// write-side counterpart, named after the original's save_vote).
func (s *Storage) SaveVote(hs etcdraftpb.HardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardState = hs
}

// ReadVote returns the last-saved term/vote.
func (s *Storage) ReadVote() etcdraftpb.HardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardState
}

// AppendToLog appends entries to the in-memory log, matching the
// original's append_to_log.
func (s *Storage) AppendToLog(entries []etcdraftpb.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := s.ents[0].Index + 1
	last := entries[0].Index + uint64(len(entries)) - 1
	if last < first {
		return nil
	}
	if first > entries[0].Index {
		entries = entries[first-entries[0].Index:]
	}

	offset := entries[0].Index - s.ents[0].Index
	switch {
	case uint64(len(s.ents)) > offset:
		s.ents = append([]etcdraftpb.Entry{}, s.ents[:offset]...)
		s.ents = append(s.ents, entries...)
	case uint64(len(s.ents)) == offset:
		s.ents = append(s.ents, entries...)
	default:
		return errors.Errorf("raftstorage: missing log entry [last: %d, append at: %d]",
			s.lastIndexLocked(), entries[0].Index)
	}
	return nil
}

// DeleteConflictLogsSince truncates any entries at or after index,
// matching the original's delete_conflict_logs_since — used when a
// follower's log diverges from the new leader's.
func (s *Storage) DeleteConflictLogsSince(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.ents[0].Index
	if index <= offset {
		return nil
	}
	if int(index-offset) >= len(s.ents) {
		return nil
	}
	s.ents = s.ents[:index-offset]
	return nil
}

// PurgeLogsUpto discards entries up to and including compactIndex,
// matching the original's purge_logs_upto / Compact.
func (s *Storage) PurgeLogsUpto(compactIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.ents[0].Index
	if compactIndex <= offset {
		return ErrCompacted
	}
	if compactIndex > s.lastIndexLocked() {
		return errors.Errorf("raftstorage: compact index %d out of bound lastindex %d",
			compactIndex, s.lastIndexLocked())
	}

	i := compactIndex - offset
	ents := make([]etcdraftpb.Entry, 1, 1+uint64(len(s.ents))-i)
	ents[0].Index = s.ents[i].Index
	ents[0].Term = s.ents[i].Term
	ents = append(ents, s.ents[i+1:]...)
	s.ents = ents
	return nil
}

// LogState summarizes the log's bounds, matching the original's
// get_log_state / last_log_id (open question 7: this is the local log's
// highest index, not a separately tracked applied watermark).
type LogState struct {
	FirstIndex uint64
	LastIndex  uint64
	LastTerm   uint64
}

// GetLogState reports the current log bounds.
func (s *Storage) GetLogState() LogState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.ents[len(s.ents)-1]
	return LogState{
		FirstIndex: s.ents[0].Index + 1,
		LastIndex:  last.Index,
		LastTerm:   last.Term,
	}
}

// TryGetLogEntries returns entries in [lo, hi) if they're all still
// present, matching the original's try_get_log_entries (which returns
// None rather than an error when entries have been compacted away).
func (s *Storage) TryGetLogEntries(lo, hi uint64) ([]etcdraftpb.Entry, bool) {
	ents, err := s.Entries(lo, hi, ^uint64(0))
	if err != nil {
		return nil, false
	}
	return ents, true
}

// ApplySnapshot installs a snapshot received over the wire, discarding
// any conflicting in-memory log.
func (s *Storage) ApplySnapshot(snap etcdraftpb.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msIndex := s.snapshot.Metadata.Index
	snapIndex := snap.Metadata.Index
	if msIndex >= snapIndex {
		return raft.ErrSnapOutOfDate
	}

	s.snapshot = snap
	s.ents = []etcdraftpb.Entry{{Term: snap.Metadata.Term, Index: snap.Metadata.Index}}
	s.confState = snap.Metadata.ConfState
	return nil
}

// CreateSnapshot builds a new snapshot at index i with the given opaque
// state-machine data, matching the original's build_snapshot.
func (s *Storage) CreateSnapshot(i uint64, cs *etcdraftpb.ConfState, data []byte) (etcdraftpb.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i <= s.snapshot.Metadata.Index {
		return etcdraftpb.Snapshot{}, raft.ErrSnapOutOfDate
	}

	offset := s.ents[0].Index
	if i > s.lastIndexLocked() {
		return etcdraftpb.Snapshot{}, errors.Errorf("raftstorage: snapshot index %d is out of bound lastindex %d", i, s.lastIndexLocked())
	}

	s.snapshot.Metadata.Index = i
	s.snapshot.Metadata.Term = s.ents[i-offset].Term
	if cs != nil {
		s.snapshot.Metadata.ConfState = *cs
	}
	s.snapshot.Data = data
	return s.snapshot, nil
}

func limitSize(ents []etcdraftpb.Entry, maxSize uint64) []etcdraftpb.Entry {
	if len(ents) == 0 {
		return ents
	}
	size := ents[0].Size()
	var limit int
	for limit = 1; limit < len(ents); limit++ {
		size += ents[limit].Size()
		if uint64(size) > maxSize {
			break
		}
	}
	return ents[:limit]
}
