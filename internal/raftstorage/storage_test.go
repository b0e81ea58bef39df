package raftstorage

import (
	"testing"

	"github.com/stretchr/testify/require"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"
)

func TestAppendThenEntries(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendToLog([]etcdraftpb.Entry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 2},
	}))

	ents, err := s.Entries(1, 4, ^uint64(0))
	require.NoError(t, err)
	require.Len(t, ents, 3)

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)
}

func TestDeleteConflictLogsSince(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendToLog([]etcdraftpb.Entry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 1},
	}))

	require.NoError(t, s.DeleteConflictLogsSince(2))

	last, err := s.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), last)
}

func TestPurgeLogsUpto(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendToLog([]etcdraftpb.Entry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 1},
		{Index: 3, Term: 1},
	}))

	require.NoError(t, s.PurgeLogsUpto(2))

	_, err := s.Term(1)
	require.Error(t, err)

	term, err := s.Term(2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), term)
}

func TestSaveReadVote(t *testing.T) {
	s := New()
	s.SaveVote(etcdraftpb.HardState{Term: 5, Vote: 3, Commit: 1})
	hs := s.ReadVote()
	require.Equal(t, uint64(5), hs.Term)
	require.Equal(t, uint64(3), hs.Vote)
}

func TestGetLogState(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendToLog([]etcdraftpb.Entry{
		{Index: 1, Term: 1},
		{Index: 2, Term: 2},
	}))
	ls := s.GetLogState()
	require.Equal(t, uint64(2), ls.LastIndex)
	require.Equal(t, uint64(2), ls.LastTerm)
}

func TestTryGetLogEntriesMissingReturnsFalse(t *testing.T) {
	s := New()
	require.NoError(t, s.AppendToLog([]etcdraftpb.Entry{{Index: 1, Term: 1}}))
	require.NoError(t, s.PurgeLogsUpto(1))

	_, ok := s.TryGetLogEntries(1, 2)
	require.False(t, ok)
}
