package raft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/ASHISH26940/chaindb/internal/deferred"
)

// ErrNotLeader is returned when a command is submitted to a follower.
var ErrNotLeader = errors.New("raft: not the leader")

// Node is the part of *raft.Raft the executor and the HTTP server use.
// Tests substitute a mock.
type Node interface {
	Apply(cmd []byte, timeout time.Duration) raft.ApplyFuture
	State() raft.RaftState
	Leader() raft.ServerAddress
	AddVoter(id raft.ServerID, address raft.ServerAddress, prevIndex uint64, timeout time.Duration) raft.IndexFuture
}

// Executor submits commands to the raft log without waiting for them to commit.
type Executor struct {
	node    Node
	timeout time.Duration
	logger  hclog.Logger
}

// NewExecutor returns an Executor appending to node's log; timeout bounds the enqueue.
func NewExecutor(node Node, timeout time.Duration, logger hclog.Logger) *Executor {
	return &Executor{node: node, timeout: timeout, logger: logger.Named("raft-exec")}
}

// Submit hands cmd to raft. Commit and FSM apply happen later; failures are only logged.
func (e *Executor) Submit(_ context.Context, cmd deferred.Command) error {
	if e.node.State() != raft.Leader {
		return fmt.Errorf("%w: leader is %q", ErrNotLeader, e.node.Leader())
	}
	data, err := cmd.Encode()
	if err != nil {
		return err
	}
	future := e.node.Apply(data, e.timeout)
	go e.watch(cmd, future)
	return nil
}

func (e *Executor) watch(cmd deferred.Command, future raft.ApplyFuture) {
	if err := future.Error(); err != nil {
		e.logger.Error("raft apply failed", "op", cmd.Op, "name", cmd.Name, "error", err)
		return
	}
	if err, ok := future.Response().(error); ok && err != nil {
		e.logger.Error("fsm rejected command", "op", cmd.Op, "name", cmd.Name, "error", err)
	}
}
