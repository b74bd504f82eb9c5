// Package main is the entry point for the chaindb server application.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/config"
	"github.com/ASHISH26940/chaindb/internal/deferred"
	"github.com/ASHISH26940/chaindb/internal/persistence"
	chainraft "github.com/ASHISH26940/chaindb/internal/raft"
	"github.com/ASHISH26940/chaindb/internal/server"
	"github.com/ASHISH26940/chaindb/internal/store"
	"github.com/ASHISH26940/chaindb/internal/store/boltstore"
	"github.com/ASHISH26940/chaindb/internal/store/cachestore"
	"github.com/ASHISH26940/chaindb/internal/store/pgstore"
	"github.com/ASHISH26940/chaindb/internal/telemetry"
)

func main() {
	// --- Configuration and Flags ---
	configFile := flag.String("config", "", "Path to a TOML config file")
	envFile := flag.String("env", "", "Path to a .env file with CHAINDB_* overrides")
	bootstrap := flag.Bool("bootstrap", false, "Bootstrap the raft cluster (run on the first node only)")
	flag.Parse()

	cfg := config.New()
	if *configFile != "" {
		if err := cfg.Load(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	if err := cfg.LoadEnv(envFiles...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(cfg.LogLevel, os.Stderr)
	if err := run(cfg, *bootstrap, logger); err != nil {
		logger.Error("chaindb stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, bootstrap bool, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	sink, err := telemetry.NewMetrics("chaindb")
	if err != nil {
		return err
	}

	// --- Record Store ---
	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if cfg.CacheSize > 0 {
		cached, err := cachestore.New(st, cfg.CacheSize)
		if err != nil {
			return err
		}
		st = cached
	}
	engine := chain.New(st, logger)

	// --- Executor ---
	var (
		exec    deferred.Executor
		cluster server.Cluster
		journal deferred.Journal
	)
	switch cfg.Executor {
	case "queue":
		if cfg.Backend == "memory" {
			wal, err := replayJournal(ctx, filepath.Join(cfg.DataDir, "app.wal"), engine, logger)
			if err != nil {
				return err
			}
			defer func() {
				logger.Info("closing journal", "written", wal.Entries())
				wal.Close()
			}()
			journal = wal
		}
		queue := deferred.NewQueue(deferred.NewApplier(engine, journal, logger), deferred.QueueOptions{
			Workers: cfg.Workers,
			Delay:   cfg.WorkerDelay.Duration,
			Logger:  logger,
		})
		defer queue.Close()
		exec = queue

	case "raft":
		// Raft replays its snapshot and log on start, so the record store is rebuilt from them.
		if err := engine.WipeAll(ctx); err != nil {
			return err
		}
		fsm := chainraft.NewFSM(engine, st, deferred.NewApplier(engine, nil, logger), logger)
		node, err := chainraft.NewNode(chainraft.NodeConfig{
			NodeID:    cfg.NodeID,
			BindAddr:  fmt.Sprintf("%s:%d", cfg.Host, cfg.RaftPort),
			DataDir:   cfg.DataDir,
			Bootstrap: bootstrap,
			Peers:     cfg.Peers,
		}, fsm, logger)
		if err != nil {
			return err
		}
		defer node.Shutdown()
		exec = chainraft.NewExecutor(node, cfg.WaitTimeout.Duration, logger)
		cluster = node
	}

	coord := deferred.NewCoordinator(exec, logger)
	svc := deferred.NewService(engine, coord, deferred.WaitOptions{
		Timeout:      cfg.WaitTimeout.Duration,
		PollInterval: cfg.PollInterval.Duration,
	})

	// --- Start the HTTP Server ---
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: server.New(svc, cluster, sink, logger),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr, "backend", cfg.Backend, "executor", cfg.Executor)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down", "pending", coord.Pending())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP shutdown: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger hclog.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case "bolt":
		s, err := boltstore.Open(filepath.Join(cfg.DataDir, "records.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

// replayJournal rebuilds the in-memory store from the journal, then opens it for appending.
func replayJournal(ctx context.Context, path string, engine *chain.Engine, logger hclog.Logger) (*persistence.WAL, error) {
	logger.Info("replaying journal", "path", path)
	n, err := persistence.Replay(path, func(cmdBytes []byte) error {
		cmd, err := deferred.DecodeCommand(cmdBytes)
		if err != nil {
			return err
		}
		return deferred.Apply(ctx, engine, cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	logger.Info("journal replay complete", "entries", n)
	return persistence.NewWAL(path)
}
