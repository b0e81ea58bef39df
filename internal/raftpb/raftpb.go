// Package raftpb defines the envelope types carried inside Raft log
// entries: the write commands proposed by the client server, and the
// response the state machine hands back to the waiting proposer.
package raftpb

import (
	"bytes"
	"encoding/gob"

	"github.com/google/uuid"
)

// Kind distinguishes the write operations that flow through Raft.
type Kind uint8

const (
	// KindInsert appends a brand new version of a key.
	KindInsert Kind = iota + 1
	// KindUpdate appends a new version carrying a new payload only.
	KindUpdate
	// KindDelete removes a key's index entry and HNSW node.
	KindDelete
)

// ChronosRequest is the tagged command proposed through Raft, mirroring
// original_source/src/cluster/types.rs's ChronosRequest enum.
type ChronosRequest struct {
	Kind    Kind
	ID      uuid.UUID
	Vector  []float32
	Payload []byte
	Ts      uint64
}

// ChronosResponse is the reply shape for an applied request. No code in
// this module builds one: internal/raftfsm's Apply reports the outcome of
// the db call through its error return instead (see DESIGN.md open
// question 2).
type ChronosResponse struct {
	Success bool
	Message string
}

// Marshal gob-encodes req for storage in an etcd/raft log entry.
func (req ChronosRequest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a ChronosRequest previously produced by Marshal.
func Unmarshal(data []byte) (ChronosRequest, error) {
	var req ChronosRequest
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&req)
	return req, err
}
