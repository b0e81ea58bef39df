// Package segment implements the append-only record log ChronosDB stores
// its bitemporal versions in. Each record is written once and never
// mutated in place; compaction rewrites into a fresh segment file.
package segment

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/chronos-db/chronosdb/internal/record"
)

// ErrChecksumMismatch is returned by Read when the stored checksum does
// not match the decoded frame contents.
var ErrChecksumMismatch = errors.New("segment: checksum mismatch")

// ErrCorruptFrame is returned when a frame is shorter than the smallest
// possible encoded record.
var ErrCorruptFrame = errors.New("segment: corrupt frame")

// Store is a single append-only segment file. Writers must serialize
// calls to Append (the caller, typically chronosdb.ChronosDb, holds a
// single-writer mutex); Read is safe to call concurrently with Append and
// with other Reads, since it opens its own read-only file handle.
type Store struct {
	path string

	mu   sync.Mutex // guards writer + offset
	w    *os.File
	size int64

	reader *os.File // dedicated read-only handle, mirrors the Rust try_clone pattern

	cache *ristretto.Cache // optional decode cache keyed by offset
}

// Open creates or opens the segment file at path for append, and a
// second read-only handle for Read.
func Open(path string) (*Store, error) {
	w, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "segment: open %q for write", path)
	}

	info, err := w.Stat()
	if err != nil {
		w.Close()
		return nil, errors.Wrap(err, "segment: stat")
	}

	r, err := os.Open(path)
	if err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "segment: open %q for read", path)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MiB of decoded records
		BufferItems: 64,
	})
	if err != nil {
		w.Close()
		r.Close()
		return nil, errors.Wrap(err, "segment: new cache")
	}

	return &Store{
		path:   path,
		w:      w,
		size:   info.Size(),
		reader: r,
		cache:  cache,
	}, nil
}

// Path returns the file path this store is backed by.
func (s *Store) Path() string { return s.path }

// Append encodes rec and writes it to the end of the segment, returning
// the byte offset the frame starts at (the offset callers must keep in
// their index to Read it back later).
func (s *Store) Append(rec record.Record) (uint64, error) {
	frame := encode(rec)

	s.mu.Lock()
	defer s.mu.Unlock()

	off := uint64(s.size)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))

	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return 0, errors.Wrap(err, "segment: write length prefix")
	}
	if _, err := s.w.Write(frame); err != nil {
		return 0, errors.Wrap(err, "segment: write frame")
	}

	s.size += int64(len(lenBuf)) + int64(len(frame))
	return off, nil
}

// Read decodes the record whose frame starts at off.
func (s *Store) Read(off uint64) (record.Record, error) {
	if v, ok := s.cache.Get(off); ok {
		return v.(record.Record), nil
	}

	var lenBuf [4]byte
	if _, err := s.reader.ReadAt(lenBuf[:], int64(off)); err != nil {
		return record.Record{}, errors.Wrap(err, "segment: read length prefix")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])

	frame := make([]byte, n)
	if _, err := s.reader.ReadAt(frame, int64(off)+4); err != nil {
		return record.Record{}, errors.Wrap(err, "segment: read frame")
	}

	rec, err := decode(frame)
	if err != nil {
		return record.Record{}, err
	}

	s.cache.Set(off, rec, int64(n))
	return rec, nil
}

// Size returns the current logical size of the segment in bytes.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Sync flushes the writer's buffered data to stable storage.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Sync()
}

// Close releases both file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	werr := s.w.Close()
	rerr := s.reader.Close()
	s.cache.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// encode serializes a record into:
//
//	[16B key][4B vecLen][vecLen*4B floats LE][4B payloadLen][payload]
//	[8B validStart][8B validEnd][8B txTime][8B xxh3 checksum of the above]
func encode(rec record.Record) []byte {
	vecBytes := len(rec.Vector) * 4
	body := 16 + 4 + vecBytes + 4 + len(rec.Payload) + 8 + 8 + 8
	buf := make([]byte, body+8)

	off := 0
	copy(buf[off:off+16], rec.Key[:])
	off += 16

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.Vector)))
	off += 4
	for _, f := range rec.Vector {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(rec.Payload)))
	off += 4
	copy(buf[off:off+len(rec.Payload)], rec.Payload)
	off += len(rec.Payload)

	binary.LittleEndian.PutUint64(buf[off:], rec.Valid.Start)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], rec.Valid.End)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], rec.TxTime)
	off += 8

	checksum := xxh3.Hash(buf[:off])
	binary.LittleEndian.PutUint64(buf[off:], checksum)

	return buf
}

func decode(frame []byte) (record.Record, error) {
	if len(frame) < 16+4+4+8+8+8+8 {
		return record.Record{}, ErrCorruptFrame
	}

	checksumOff := len(frame) - 8
	want := binary.LittleEndian.Uint64(frame[checksumOff:])
	got := xxh3.Hash(frame[:checksumOff])
	if want != got {
		return record.Record{}, ErrChecksumMismatch
	}

	var rec record.Record
	off := 0
	copy(rec.Key[:], frame[off:off+16])
	off += 16

	vecLen := int(binary.LittleEndian.Uint32(frame[off:]))
	off += 4
	rec.Vector = make([]float32, vecLen)
	for i := 0; i < vecLen; i++ {
		rec.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(frame[off:]))
		off += 4
	}

	payloadLen := int(binary.LittleEndian.Uint32(frame[off:]))
	off += 4
	rec.Payload = make([]byte, payloadLen)
	copy(rec.Payload, frame[off:off+payloadLen])
	off += payloadLen

	rec.Valid.Start = binary.LittleEndian.Uint64(frame[off:])
	off += 8
	rec.Valid.End = binary.LittleEndian.Uint64(frame[off:])
	off += 8
	rec.TxTime = binary.LittleEndian.Uint64(frame[off:])

	return rec, nil
}

var _ io.Closer = (*Store)(nil)

// EncodeForSnapshot exposes the segment frame codec so a standalone
// snapshot (no backing file) can reuse exactly the on-disk record format.
func EncodeForSnapshot(rec record.Record) []byte { return encode(rec) }

// DecodeForSnapshot is the read-side counterpart of EncodeForSnapshot.
func DecodeForSnapshot(frame []byte) (record.Record, error) { return decode(frame) }
