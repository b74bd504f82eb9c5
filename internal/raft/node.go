package raft

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// NodeConfig locates a raft node on disk and on the network.
type NodeConfig struct {
	NodeID   string
	BindAddr string
	DataDir  string
	// Bootstrap makes this node and Peers the voters of a new cluster.
	Bootstrap bool
	// Peers lists the other initial voters as "node_id@host:port".
	Peers []string
}

// bootstrapServers returns the initial voter set: the local node followed by its peers.
func bootstrapServers(cfg NodeConfig, local raft.ServerAddress) ([]raft.Server, error) {
	servers := []raft.Server{{ID: raft.ServerID(cfg.NodeID), Address: local}}
	seen := map[raft.ServerID]bool{raft.ServerID(cfg.NodeID): true}
	for _, peer := range cfg.Peers {
		id, addr, ok := strings.Cut(peer, "@")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("peer %q: want node_id@host:port", peer)
		}
		if seen[raft.ServerID(id)] {
			return nil, fmt.Errorf("peer %q: duplicate node id", peer)
		}
		seen[raft.ServerID(id)] = true
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	return servers, nil
}

// NewNode starts a raft node with a bolt log store, file snapshots and a TCP transport.
func NewNode(cfg NodeConfig, fsm raft.FSM, logger hclog.Logger) (*raft.Raft, error) {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = logger.Named("raft")

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft address: %w", err)
	}
	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, logger.Named("raft-transport"))
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 2, logger.Named("raft-snapshots"))
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		return nil, fmt.Errorf("create bolt store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	if cfg.Bootstrap {
		servers, err := bootstrapServers(cfg, transport.LocalAddr())
		if err != nil {
			return nil, err
		}
		logger.Info("bootstrapping cluster", "node_id", cfg.NodeID, "voters", len(servers))
		f := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := f.Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}
	return r, nil
}
