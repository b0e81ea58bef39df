// Package chronosdb implements ChronosDB's primary storage engine: the
// segment log, the per-key version index, the presence bloom filter, and
// the HNSW vector index, wired together behind the bitemporal read/write
// API the Raft state machine and the client server call into.
package chronosdb

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chronos-db/chronosdb/internal/bloom"
	"github.com/chronos-db/chronosdb/internal/hnsw"
	"github.com/chronos-db/chronosdb/internal/record"
	"github.com/chronos-db/chronosdb/internal/segment"
)

// VectorDim re-exports the process-wide embedding dimensionality.
const VectorDim = record.VectorDim

// ErrNotFound is returned when a key has no current version.
var ErrNotFound = errors.New("chronosdb: record not found")

// ChronosDb owns one node's durable record log plus its in-memory
// indexes. Writers are serialized through writeMu; the HNSW index and
// bloom filter guard themselves internally.
type ChronosDb struct {
	path string
	log  *zap.Logger

	writeMu sync.Mutex // single-writer gate: append + index + hnsw update as one step

	idxMu sync.RWMutex
	index map[uuid.UUID][]uint64 // offsets, oldest first

	seg    *segment.Store
	bloom  *bloom.Filter
	vector *hnsw.Index
}

// Open creates or opens a ChronosDb rooted at dir, using walFile as the
// segment file name (matching spec.md's node_<id>_wal.dat convention).
// The index, bloom filter and HNSW graph start empty; records already in
// an existing segment file are not scanned back into them.
func Open(dir, walFile string, log *zap.Logger) (*ChronosDb, error) {
	if log == nil {
		log = zap.NewNop()
	}
	path := filepath.Join(dir, walFile)

	seg, err := segment.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "chronosdb: open segment")
	}

	db := &ChronosDb{
		path:   path,
		log:    log,
		index:  make(map[uuid.UUID][]uint64),
		seg:    seg,
		bloom:  bloom.New(1_000_000, 0.01),
		vector: hnsw.New(16, 100, hnsw.Cosine),
	}

	return db, nil
}

// Insert appends a new version of id. Order is fixed: segment append,
// bloom insert, index append, HNSW insert — never reordered, matching the
// reference implementation's write path.
func (db *ChronosDb) Insert(id uuid.UUID, vector []float32, payload []byte, ts uint64) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	rec := record.New(id, vector, payload, record.TimeStamp{Start: ts})

	off, err := db.seg.Append(rec)
	if err != nil {
		return errors.Wrap(err, "chronosdb: append")
	}

	db.bloom.Insert(id[:])

	db.idxMu.Lock()
	db.index[id] = append(db.index[id], off)
	db.idxMu.Unlock()

	db.vector.Insert(id, vector)
	return nil
}

// Update writes a new version of id carrying a new payload but the same
// vector as its current latest version. It is a no-op error if id has no
// current version.
func (db *ChronosDb) Update(id uuid.UUID, payload []byte, ts uint64) error {
	latest, err := db.GetLatest(id)
	if err != nil {
		return err
	}
	return db.Insert(id, latest.Vector, payload, ts)
}

// Delete removes id's index entry and HNSW node. The segment frames
// themselves are left in place — delete destroys reachability, not
// history; Compact is what reclaims the bytes. This matches the
// reference implementation's delete() and is a documented design choice,
// not an oversight.
func (db *ChronosDb) Delete(id uuid.UUID) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	db.idxMu.Lock()
	_, ok := db.index[id]
	delete(db.index, id)
	db.idxMu.Unlock()

	if !ok {
		return ErrNotFound
	}

	db.vector.Remove(id)
	return nil
}

// GetLatest returns the newest version of id.
func (db *ChronosDb) GetLatest(id uuid.UUID) (record.Record, error) {
	if !db.bloom.Contains(id[:]) {
		return record.Record{}, ErrNotFound
	}

	db.idxMu.RLock()
	offs := db.index[id]
	db.idxMu.RUnlock()

	if len(offs) == 0 {
		return record.Record{}, ErrNotFound
	}

	return db.seg.Read(offs[len(offs)-1])
}

// GetAsOf returns the version of id that was current at time t.
//
// valid_time.End is never rewritten when a later version is inserted
// (kept as documented current behavior, not silently fixed — see
// DESIGN.md open question 1), so this scans newest-first and returns the
// first version whose Start <= t, rather than using End as an upper
// bound.
func (db *ChronosDb) GetAsOf(id uuid.UUID, t uint64) (record.Record, error) {
	if !db.bloom.Contains(id[:]) {
		return record.Record{}, ErrNotFound
	}

	db.idxMu.RLock()
	offs := append([]uint64(nil), db.index[id]...)
	db.idxMu.RUnlock()

	for i := len(offs) - 1; i >= 0; i-- {
		rec, err := db.seg.Read(offs[i])
		if err != nil {
			return record.Record{}, err
		}
		if rec.Valid.Start <= t {
			return rec, nil
		}
	}
	return record.Record{}, ErrNotFound
}

// GetHistory returns every stored version of id, oldest first.
func (db *ChronosDb) GetHistory(id uuid.UUID) ([]record.Record, error) {
	if !db.bloom.Contains(id[:]) {
		return nil, ErrNotFound
	}

	db.idxMu.RLock()
	offs := append([]uint64(nil), db.index[id]...)
	db.idxMu.RUnlock()

	out := make([]record.Record, 0, len(offs))
	for _, off := range offs {
		rec, err := db.seg.Read(off)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Search returns up to k approximate nearest neighbors of query.
func (db *ChronosDb) Search(query []float32, k int) []hnsw.Result {
	return db.vector.Search(query, k)
}

// Snapshot serializes the latest version of every key using the segment
// frame codec, suitable for Raft snapshot transfer and Restore.
func (db *ChronosDb) Snapshot() ([]byte, error) {
	db.idxMu.RLock()
	keys := make([]uuid.UUID, 0, len(db.index))
	for k := range db.index {
		keys = append(keys, k)
	}
	db.idxMu.RUnlock()

	w := newSnapshotWriter()
	for _, id := range keys {
		rec, err := db.GetLatest(id)
		if err != nil {
			continue
		}
		if err := w.writeRecord(rec); err != nil {
			return nil, err
		}
	}
	return w.bytes(), nil
}

// Restore replaces this db's contents with a previously Snapshotted
// record set. The index, bloom filter, and HNSW graph are cleared first
// so keys absent from the snapshot don't survive from prior state, then
// each record is inserted through the normal write path so the three
// structures are rebuilt consistently.
func (db *ChronosDb) Restore(data []byte) error {
	recs, err := readSnapshot(data)
	if err != nil {
		return err
	}

	db.idxMu.Lock()
	db.index = make(map[uuid.UUID][]uint64)
	db.idxMu.Unlock()
	db.bloom.Reset()
	db.vector.Clear()

	for _, rec := range recs {
		if err := db.Insert(rec.Key, rec.Vector, rec.Payload, rec.Valid.Start); err != nil {
			return err
		}
	}
	return nil
}

// Compact rewrites the segment log, keeping at most historyLimit of the
// newest versions per key, and swaps the new file in for the old one.
//
// This stops the world: both the index and the segment writer are held
// for the duration, matching the reference implementation's compact().
func (db *ChronosDb) Compact(historyLimit int) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	db.idxMu.Lock()
	defer db.idxMu.Unlock()

	tmpPath := db.path + ".compacted"
	tmp, err := segment.Open(tmpPath)
	if err != nil {
		return errors.Wrap(err, "chronosdb: open compaction target")
	}

	newIndex := make(map[uuid.UUID][]uint64, len(db.index))
	for id, offs := range db.index {
		if len(offs) > historyLimit {
			offs = offs[len(offs)-historyLimit:]
		}
		newOffs := make([]uint64, 0, len(offs))
		for _, off := range offs {
			rec, err := db.seg.Read(off)
			if err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return errors.Wrap(err, "chronosdb: read during compaction")
			}
			newOff, err := tmp.Append(rec)
			if err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return errors.Wrap(err, "chronosdb: rewrite during compaction")
			}
			newOffs = append(newOffs, newOff)
		}
		newIndex[id] = newOffs
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "chronosdb: sync compacted segment")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "chronosdb: close compacted segment")
	}

	oldSeg := db.seg
	if err := oldSeg.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "chronosdb: close old segment")
	}

	if err := os.Rename(tmpPath, db.path); err != nil {
		// The rename failed: the canonical path still holds the
		// pre-compaction file. Reopen that rather than the (possibly
		// half-written) temp path, so db.seg always points at whatever
		// file db.path currently names — see DESIGN.md open question 5.
		reopened, reopenErr := segment.Open(db.path)
		if reopenErr != nil {
			return errors.Wrap(reopenErr, "chronosdb: reopen after failed rename")
		}
		db.seg = reopened
		return errors.Wrap(err, "chronosdb: rename compacted segment")
	}

	// Rename succeeded: db.path now names the compacted file. Re-open it
	// before publishing db.seg/db.index, so a failure here leaves the
	// previous (already-closed) handle in place rather than a nil store.
	reopened, err := segment.Open(db.path)
	if err != nil {
		return errors.Wrap(err, "chronosdb: reopen compacted segment")
	}

	db.seg = reopened
	db.index = newIndex
	db.log.Info("chronosdb: compaction complete", zap.Int("keys", len(newIndex)))
	return nil
}

// Close releases the underlying segment file.
func (db *ChronosDb) Close() error {
	return db.seg.Close()
}

// StartGCLoop runs Compact(historyLimit) every interval until stop is
// closed, matching the reference implementation's dedicated GC thread.
func (db *ChronosDb) StartGCLoop(stop <-chan struct{}, interval time.Duration, historyLimit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Compact(historyLimit); err != nil {
				db.log.Error("chronosdb: gc compaction failed", zap.Error(err))
			}
		case <-stop:
			return
		}
	}
}
