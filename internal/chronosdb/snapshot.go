package chronosdb

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/chronos-db/chronosdb/internal/record"
	"github.com/chronos-db/chronosdb/internal/segment"
)

// snapshotWriter serializes records with the same length-prefixed frame
// codec the segment log uses, so a snapshot is just a standalone segment
// file's worth of bytes with no outer container format.
type snapshotWriter struct {
	buf bytes.Buffer
}

func newSnapshotWriter() *snapshotWriter {
	return &snapshotWriter{}
}

func (w *snapshotWriter) writeRecord(rec record.Record) error {
	frame := segment.EncodeForSnapshot(rec)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.buf.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.buf.Write(frame)
	return err
}

func (w *snapshotWriter) bytes() []byte {
	return w.buf.Bytes()
}

func readSnapshot(data []byte) ([]record.Record, error) {
	r := bytes.NewReader(data)
	var out []record.Record

	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "chronosdb: read snapshot frame length")
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, errors.Wrap(err, "chronosdb: read snapshot frame")
		}
		rec, err := segment.DecodeForSnapshot(frame)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
