// Package clientserver implements ChronosDB's framed binary TCP
// protocol, ported from original_source/src/server.rs's
// handle_client/op-code dispatch loop onto Go's net package: one
// goroutine per connection instead of one tokio task per connection.
package clientserver

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronos-db/chronosdb/internal/chronoslog"
	"github.com/chronos-db/chronosdb/internal/hnsw"
	"github.com/chronos-db/chronosdb/internal/raftpb"
	"github.com/chronos-db/chronosdb/internal/record"
)

// Opcodes, exactly per spec.md §6 / server.rs's OP_* constants.
const (
	OpInsert  byte = 0x01
	OpGet     byte = 0x02
	OpSearch  byte = 0x03
	OpHistory byte = 0x04
	OpDelete  byte = 0x05
	OpUpdate  byte = 0x06
	OpGetAsOf byte = 0x07
	OpCompact byte = 0x08
)

// maxBody caps a request body at 64KiB, matching server.rs's fixed
// 65536-byte buffer (a basic guard against unbounded-length frames).
const maxBody = 65536

// DB is the subset of chronosdb.ChronosDb the server calls directly
// (inserts, updates and deletes go through Engine.ProposeReplicate;
// Compact is called on the local db without going through Raft).
type DB interface {
	GetLatest(id uuid.UUID) (record.Record, error)
	GetAsOf(id uuid.UUID, t uint64) (record.Record, error)
	GetHistory(id uuid.UUID) ([]record.Record, error)
	Search(query []float32, k int) []hnsw.Result
	Compact(historyLimit int) error
}

// Engine is the subset of raftengine.Engine the server proposes writes
// through.
type Engine interface {
	ProposeReplicate(ctx context.Context, req raftpb.ChronosRequest) error
}

// Server accepts connections and dispatches framed requests.
type Server struct {
	db  DB
	eng Engine
	log chronoslog.Logger
	dim int
}

// New builds a Server reading from db and proposing writes through eng.
// dim is the expected vector dimensionality (spec.md's VECTOR_DIM).
func New(db DB, eng Engine, dim int, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{db: db, eng: eng, dim: dim, log: chronoslog.New(log)}
}

// Serve accepts connections on ln until ctx is canceled or Accept fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the read-dispatch-write loop for one connection until
// the peer closes it or sends a malformed frame, matching server.rs's
// handle_client.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	header := make([]byte, 5)
	body := make([]byte, maxBody)

	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		op := header[0]
		length := binary.LittleEndian.Uint32(header[1:5])
		if length > maxBody {
			s.log.Warningf("clientserver: payload too large: %d bytes", length)
			return
		}

		payload := body[:length]
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}

		reply, err := s.dispatch(ctx, op, payload)
		if err != nil {
			s.log.Warningf("clientserver: op 0x%02x: %v", op, err)
			return
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, op byte, data []byte) ([]byte, error) {
	switch op {
	case OpInsert:
		return s.handleInsert(ctx, data), nil
	case OpUpdate:
		return s.handleUpdate(ctx, data), nil
	case OpDelete:
		return s.handleDelete(ctx, data), nil
	case OpGet:
		return s.handleGet(data), nil
	case OpGetAsOf:
		return s.handleGetAsOf(data), nil
	case OpSearch:
		return s.handleSearch(data), nil
	case OpHistory:
		return s.handleHistory(data), nil
	case OpCompact:
		return s.handleCompact(data), nil
	default:
		return nil, errUnknownOpcode(op)
	}
}

type errUnknownOpcode byte

func (e errUnknownOpcode) Error() string {
	return "unknown opcode"
}

var okReply = []byte("OK")
var errReply = []byte("ER")

// handleInsert decodes [16-byte id][dim×4 LE floats][payload], stamps
// the server's own clock as ts (mirroring server.rs's
// SystemTime::now()-at-the-edge behavior), and proposes it through
// Raft.
func (s *Server) handleInsert(ctx context.Context, data []byte) []byte {
	vecSize := s.dim * 4
	if len(data) < 16+vecSize {
		return errReply
	}

	id, _ := uuid.FromBytes(data[:16])
	vector := decodeVector(data[16:16+vecSize], s.dim)
	payload := append([]byte(nil), data[16+vecSize:]...)

	req := raftpb.ChronosRequest{
		Kind:    raftpb.KindInsert,
		ID:      id,
		Vector:  vector,
		Payload: payload,
		Ts:      uint64(time.Now().Unix()),
	}
	if err := s.eng.ProposeReplicate(ctx, req); err != nil {
		return errReply
	}
	return okReply
}

// handleUpdate decodes [16-byte id][payload].
func (s *Server) handleUpdate(ctx context.Context, data []byte) []byte {
	if len(data) < 16 {
		return errReply
	}
	id, _ := uuid.FromBytes(data[:16])
	payload := append([]byte(nil), data[16:]...)

	req := raftpb.ChronosRequest{
		Kind:    raftpb.KindUpdate,
		ID:      id,
		Payload: payload,
		Ts:      uint64(time.Now().Unix()),
	}
	if err := s.eng.ProposeReplicate(ctx, req); err != nil {
		return errReply
	}
	return okReply
}

// handleDelete decodes a bare 16-byte id.
func (s *Server) handleDelete(ctx context.Context, data []byte) []byte {
	if len(data) != 16 {
		return errReply
	}
	id, _ := uuid.FromBytes(data)

	req := raftpb.ChronosRequest{Kind: raftpb.KindDelete, ID: id}
	if err := s.eng.ProposeReplicate(ctx, req); err != nil {
		return errReply
	}
	return okReply
}

// handleGet decodes a bare 16-byte id and replies
// [found u8][len u32 LE][payload] or [0].
func (s *Server) handleGet(data []byte) []byte {
	if len(data) != 16 {
		return []byte{0}
	}
	id, _ := uuid.FromBytes(data)
	rec, err := s.db.GetLatest(id)
	if err != nil {
		return []byte{0}
	}
	return encodeFound(rec.Payload)
}

// handleGetAsOf decodes [16-byte id][8-byte u64 LE timestamp].
func (s *Server) handleGetAsOf(data []byte) []byte {
	if len(data) != 24 {
		return []byte{0}
	}
	id, _ := uuid.FromBytes(data[:16])
	ts := binary.LittleEndian.Uint64(data[16:24])

	rec, err := s.db.GetAsOf(id, ts)
	if err != nil {
		return []byte{0}
	}
	return encodeFound(rec.Payload)
}

func encodeFound(payload []byte) []byte {
	out := make([]byte, 1+4+len(payload))
	out[0] = 1
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// handleSearch decodes [u32 LE k][dim×4 LE floats] and replies
// [count u32 LE] then count×([16-byte id][f32 LE distance]).
func (s *Server) handleSearch(data []byte) []byte {
	if len(data) < 4 {
		return encodeUint32(0)
	}
	k := int(binary.LittleEndian.Uint32(data[:4]))
	vecSize := s.dim * 4
	if len(data) < 4+vecSize {
		return encodeUint32(0)
	}
	query := decodeVector(data[4:4+vecSize], s.dim)

	results := s.db.Search(query, k)

	out := make([]byte, 4+len(results)*20)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(results)))
	off := 4
	for _, r := range results {
		copy(out[off:off+16], r.ID[:])
		binary.LittleEndian.PutUint32(out[off+16:off+20], math.Float32bits(r.Distance))
		off += 20
	}
	return out
}

// handleHistory decodes a bare 16-byte id and replies [count u32 LE]
// then count×([start u64 LE][end u64 LE][len u32 LE][payload]).
func (s *Server) handleHistory(data []byte) []byte {
	if len(data) != 16 {
		return encodeUint32(0)
	}
	id, _ := uuid.FromBytes(data)
	history, err := s.db.GetHistory(id)
	if err != nil {
		return encodeUint32(0)
	}

	size := 4
	for _, rec := range history {
		size += 8 + 8 + 4 + len(rec.Payload)
	}

	out := make([]byte, size)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(history)))
	off := 4
	for _, rec := range history {
		binary.LittleEndian.PutUint64(out[off:off+8], rec.Valid.Start)
		binary.LittleEndian.PutUint64(out[off+8:off+16], rec.Valid.End)
		binary.LittleEndian.PutUint32(out[off+16:off+20], uint32(len(rec.Payload)))
		copy(out[off+20:], rec.Payload)
		off += 20 + len(rec.Payload)
	}
	return out
}

// handleCompact decodes an 8-byte u64 LE history limit.
func (s *Server) handleCompact(data []byte) []byte {
	if len(data) != 8 {
		return errReply
	}
	limit := int(binary.LittleEndian.Uint64(data))
	if err := s.db.Compact(limit); err != nil {
		return errReply
	}
	return okReply
}

func decodeVector(b []byte, dim int) []float32 {
	v := make([]float32, dim)
	for i := 0; i < dim; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return v
}

func encodeUint32(n uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, n)
	return out
}
