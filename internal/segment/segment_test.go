package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chronos-db/chronosdb/internal/record"
)

func TestAppendThenRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "wal.dat"))
	require.NoError(t, err)
	defer s.Close()

	rec := record.New(uuid.New(), []float32{1, 2, 3, 4}, []byte("hello"), record.TimeStamp{Start: 100})

	off, err := s.Append(rec)
	require.NoError(t, err)

	got, err := s.Read(off)
	require.NoError(t, err)
	require.Equal(t, rec.Key, got.Key)
	require.Equal(t, rec.Vector, got.Vector)
	require.Equal(t, rec.Payload, got.Payload)
	require.Equal(t, rec.Valid, got.Valid)
	require.Equal(t, rec.TxTime, got.TxTime)
}

func TestMultipleRecordsDistinctOffsets(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "wal.dat"))
	require.NoError(t, err)
	defer s.Close()

	var offs []uint64
	var recs []record.Record
	for i := 0; i < 10; i++ {
		r := record.New(uuid.New(), []float32{float32(i)}, []byte{byte(i)}, record.TimeStamp{Start: uint64(i)})
		off, err := s.Append(r)
		require.NoError(t, err)
		offs = append(offs, off)
		recs = append(recs, r)
	}

	for i, off := range offs {
		got, err := s.Read(off)
		require.NoError(t, err)
		require.Equal(t, recs[i].Key, got.Key)
		require.Equal(t, recs[i].Payload, got.Payload)
	}
}

func TestReadDetectsChecksumCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.dat")
	s, err := Open(path)
	require.NoError(t, err)

	rec := record.New(uuid.New(), []float32{1, 2}, []byte("x"), record.TimeStamp{Start: 1})
	off, err := s.Append(rec)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	corruptByteInFile(t, path, int64(off)+4)

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Read(off)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func corruptByteInFile(t *testing.T, path string, at int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	b := make([]byte, 1)
	_, err = f.ReadAt(b, at)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, at)
	require.NoError(t, err)
}
