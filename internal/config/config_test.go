package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("RUST_LOG", "")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cfg.NodeID)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, uint16(20001), cfg.RaftPort)
	require.Equal(t, uint64(20), cfg.SnapshotInterval)
	require.Equal(t, 10*time.Minute, cfg.GCInterval)
	require.Equal(t, 10, cfg.GCRetention)
	require.Equal(t, zapcore.InfoLevel, cfg.LogLevel)
}

func TestParseOverridesFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"--node-id=2", "--addr=0.0.0.0:9100", "--raft-port=20002",
		"--gc-retention=5", "--state-dir=/var/lib/chronosdb",
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), cfg.NodeID)
	require.Equal(t, "0.0.0.0:9100", cfg.Addr)
	require.Equal(t, uint16(20002), cfg.RaftPort)
	require.Equal(t, 5, cfg.GCRetention)
	require.Equal(t, "/var/lib/chronosdb", cfg.StateDir)
	require.Equal(t, "node_2_wal.dat", cfg.WalFile())
}

func TestEnvLogLevelMapsRustLogDirective(t *testing.T) {
	t.Setenv("RUST_LOG", "debug,chronos=debug")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestParseRejectsInvalidLogLevel(t *testing.T) {
	_, err := Parse([]string{"--log-level=not-a-level"})
	require.Error(t, err)
}
