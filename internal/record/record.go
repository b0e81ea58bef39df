// Package record defines the bitemporal record type shared by the segment
// store, the primary index, and the HNSW graph.
package record

import "github.com/google/uuid"

// VectorDim is the fixed embedding dimensionality for every vector stored
// by a ChronosDB process. The original reference implementation fixes
// this at compile time rather than carrying it per-record; this module
// does the same.
const VectorDim = 128

// EndOfTime is the sentinel ValidTime.End value meaning "still current".
const EndOfTime = ^uint64(0)

// TimeStamp is a half-open bitemporal validity interval.
type TimeStamp struct {
	Start uint64
	End   uint64
}

// Record is one version of a key's value: an embedding, an opaque
// payload, and the bitemporal timestamps under which it was written.
type Record struct {
	Key     uuid.UUID
	Vector  []float32
	Payload []byte
	Valid   TimeStamp
	TxTime  uint64
}

// New builds a record with End defaulted to EndOfTime, matching the
// reference implementation's Record::new.
func New(key uuid.UUID, vector []float32, payload []byte, ts TimeStamp) Record {
	if ts.End == 0 {
		ts.End = EndOfTime
	}
	return Record{
		Key:     key,
		Vector:  vector,
		Payload: payload,
		Valid:   ts,
		TxTime:  ts.Start,
	}
}
