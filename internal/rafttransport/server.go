package rafttransport

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	etcdraftpb "go.etcd.io/raft/v3/raftpb"
)

// Pusher is the engine method the server hands decoded messages to.
type Pusher interface {
	Push(m etcdraftpb.Message) error
}

// NewServer builds the three-route Raft RPC mux, matching
// original_source/src/cluster/api.rs's route table for /raft-vote,
// /raft-append, and /raft-snapshot.
func NewServer(eng Pusher) http.Handler {
	r := mux.NewRouter()
	h := func(w http.ResponseWriter, r *http.Request) {
		var msg etcdraftpb.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := eng.Push(msg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}

	r.HandleFunc("/raft-vote", h).Methods(http.MethodPost)
	r.HandleFunc("/raft-append", h).Methods(http.MethodPost)
	r.HandleFunc("/raft-snapshot", h).Methods(http.MethodPost)
	return r
}
