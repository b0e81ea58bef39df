// Command chronosd runs one ChronosDB cluster node: the bitemporal
// vector store, its Raft consensus loop, the Raft HTTP transport and
// admin endpoints, the binary client server, and the background GC
// driver — wired together the way original_source/src/main.rs wires
// its async tasks, using golang.org/x/sync/errgroup (grounded on the
// pack's own errgroup usage) in place of main.rs's tokio::spawn calls.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.etcd.io/raft/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/chronos-db/chronosdb/internal/admin"
	"github.com/chronos-db/chronosdb/internal/chronoslog"
	"github.com/chronos-db/chronosdb/internal/chronosdb"
	"github.com/chronos-db/chronosdb/internal/clientserver"
	"github.com/chronos-db/chronosdb/internal/config"
	"github.com/chronos-db/chronosdb/internal/membership"
	"github.com/chronos-db/chronosdb/internal/metrics"
	"github.com/chronos-db/chronosdb/internal/raftengine"
	"github.com/chronos-db/chronosdb/internal/raftfsm"
	"github.com/chronos-db/chronosdb/internal/raftstorage"
	"github.com/chronos-db/chronosdb/internal/rafttransport"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("chronosd: exiting", zap.Error(err))
	}
}

func newLogger(level zapcore.Level) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("chronosd: starting node",
		zap.Uint64("node_id", cfg.NodeID),
		zap.String("addr", cfg.Addr),
		zap.Uint16("raft_port", cfg.RaftPort))

	db, err := chronosdb.Open(cfg.StateDir, cfg.WalFile(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	pool := membership.NewPool()
	storage := raftstorage.New()
	fsm := raftfsm.New(db)
	eng := raftengine.New(raftengine.Config{
		NodeID:       cfg.NodeID,
		TickInterval: 100 * time.Millisecond,
		SnapInterval: cfg.SnapshotInterval,
	}, fsm, storage, pool, chronoslog.New(logger))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Start(gctx, true, []raft.Peer{{ID: cfg.NodeID}})
	})

	raftMux := http.NewServeMux()
	raftMux.Handle("/", rafttransport.NewServer(eng))
	raftMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	adminHandler := admin.NewHandler(eng, storage, m, chronoslog.New(logger))
	raftHTTP := &http.Server{Handler: mergeHandlers(raftMux, adminHandler)}

	raftLn, err := net.Listen("tcp", raftListenAddr(cfg.RaftPort))
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		return raftHTTP.Close()
	})
	g.Go(func() error {
		if err := raftHTTP.Serve(raftLn); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	clientLn, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := clientserver.New(db, eng, chronosdb.VectorDim, logger)
	g.Go(func() error {
		return srv.Serve(gctx, clientLn)
	})

	gcStop := make(chan struct{})
	g.Go(func() error {
		db.StartGCLoop(gcStop, cfg.GCInterval, cfg.GCRetention)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		close(gcStop)
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case <-sigCh:
			logger.Info("chronosd: shutdown signal received")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	logger.Info("chronosd: node ready",
		zap.String("client_addr", cfg.Addr),
		zap.String("raft_addr", raftListenAddr(cfg.RaftPort)))

	return g.Wait()
}

func raftListenAddr(port uint16) string {
	return ":" + strconv.Itoa(int(port))
}

// mergeHandlers serves raft first, falling back to admin — the two
// route sets (/raft-vote|/raft-append|/raft-snapshot|/metrics vs
// /init|/add-learner|/change-membership|/build-snapshot) never overlap.
func mergeHandlers(raft http.Handler, adm http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/raft-vote", "/raft-append", "/raft-snapshot", "/metrics":
			raft.ServeHTTP(w, r)
		default:
			adm.ServeHTTP(w, r)
		}
	})
}
