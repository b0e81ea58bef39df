// Package config assembles chronosd's runtime configuration from CLI
// flags, in the style of github.com/spf13/pflag usage seen in
// calvinalkan-agent-task/internal/cli, and on original_source/src/
// main.rs's Args struct, expanded with the operator flags a runnable
// daemon needs beyond the three named there.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Config holds every flag chronosd's main needs to wire up a node.
type Config struct {
	NodeID   uint64
	Addr     string
	RaftPort uint16

	SnapshotInterval uint64
	GCInterval       time.Duration
	GCRetention      int
	StateDir         string

	LogLevel zapcore.Level
}

// Parse builds a Config from args (pass os.Args[1:] in main), matching
// main.rs's Args::parse() defaults where spec.md names them and
// extending with the operator flags main.rs hardcodes inline (snapshot
// policy, GC thread interval/retention, state directory).
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("chronosd", flag.ContinueOnError)

	nodeID := fs.Uint64("node-id", 1, "this node's raft id")
	addr := fs.String("addr", "127.0.0.1:9000", "client server listen address")
	raftPort := fs.Uint16("raft-port", 20001, "raft HTTP transport + admin port")
	snapInterval := fs.Uint64("snapshot-interval", 20, "applied entries since last snapshot before an automatic snapshot")
	gcInterval := fs.Duration("gc-interval", 10*time.Minute, "interval between GC compaction passes")
	gcRetention := fs.Int("gc-retention", 10, "number of versions per key retained by GC compaction")
	stateDir := fs.String("state-dir", ".", "directory for the node's segment file")
	logLevel := fs.String("log-level", envLogLevel(), "zap level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return Config{}, fmt.Errorf("config: invalid log-level %q: %w", *logLevel, err)
	}

	return Config{
		NodeID:           *nodeID,
		Addr:             *addr,
		RaftPort:         *raftPort,
		SnapshotInterval: *snapInterval,
		GCInterval:       *gcInterval,
		GCRetention:      *gcRetention,
		StateDir:         *stateDir,
		LogLevel:         level,
	}, nil
}

// envLogLevel reads RUST_LOG-style environment configuration (matching
// main.rs's `RUST_LOG=info,chronos=info,openraft=info` default) and
// maps it onto a zap level name. Only the first comma-separated
// directive's level is honored; this module has one logger, not
// per-target filtering.
func envLogLevel() string {
	v, ok := os.LookupEnv("RUST_LOG")
	if !ok || v == "" {
		return "info"
	}
	directive, _, _ := strings.Cut(v, ",")
	_, level, found := strings.Cut(directive, "=")
	if !found {
		level = directive
	}
	switch level {
	case "trace", "debug":
		return "debug"
	case "warn":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}

// WalFile returns this node's segment file name, matching main.rs's
// `node_<id>_wal.dat` convention.
func (c Config) WalFile() string {
	return fmt.Sprintf("node_%d_wal.dat", c.NodeID)
}
