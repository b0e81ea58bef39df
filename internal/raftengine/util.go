package raftengine

import (
	"bytes"
	"io"
)

// snapshotReader wraps a raw snapshot byte slice as a ReadCloser for
// StateMachine.Restore.
func snapshotReader(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}

func readAll(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(r)
}
