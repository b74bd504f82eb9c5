// Package deferred decouples a write request from the chain mutation that
// fulfils it: commands are handed to an Executor that applies them out of band,
// and the caller polls the engine until the effect is visible.
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/ASHISH26940/chaindb/internal/chain"
)

// Op names a chain mutation.
type Op string

const (
	OpSet   Op = "SET"
	OpUnset Op = "UNSET"
	OpUndo  Op = "UNDO"
	OpRedo  Op = "REDO"
	OpWipe  Op = "WIPE"
)

// Command is one queued mutation. It is also the journal and raft log entry format.
type Command struct {
	Op    Op      `json:"op"`
	Name  string  `json:"name,omitempty"`
	Value *string `json:"value,omitempty"`
}

// Encode returns the JSON form of c.
func (c Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses a JSON encoded command.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// Journal records applied commands in the order they were applied.
type Journal interface {
	WriteCommand(cmd interface{}) error
}

// ApplyFunc applies one command.
type ApplyFunc func(ctx context.Context, cmd Command) error

// Apply runs cmd against e. An undo or redo with nothing to step to is not a failure.
func Apply(ctx context.Context, e *chain.Engine, cmd Command) error {
	var err error
	switch cmd.Op {
	case OpSet:
		if cmd.Value == nil {
			return fmt.Errorf("apply %s %q: missing value", cmd.Op, cmd.Name)
		}
		_, err = e.Set(ctx, cmd.Name, *cmd.Value)
	case OpUnset:
		_, err = e.Unset(ctx, cmd.Name)
	case OpUndo:
		_, err = e.Undo(ctx)
	case OpRedo:
		_, err = e.Redo(ctx)
	case OpWipe:
		err = e.WipeAll(ctx)
	default:
		return fmt.Errorf("apply: unrecognized op %q", cmd.Op)
	}
	if errors.Is(err, chain.ErrNoHistory) {
		return nil
	}
	return err
}

// NewApplier returns an ApplyFunc that applies each command to e. With a
// journal, applies are serialized and a command is journaled only once it has
// applied, so replaying the journal repeats the live order exactly.
func NewApplier(e *chain.Engine, j Journal, logger hclog.Logger) ApplyFunc {
	logger = logger.Named("apply")
	if j == nil {
		return func(ctx context.Context, cmd Command) error {
			logger.Trace("applying command", "op", cmd.Op, "name", cmd.Name)
			return Apply(ctx, e, cmd)
		}
	}

	var mu sync.Mutex
	return func(ctx context.Context, cmd Command) error {
		mu.Lock()
		defer mu.Unlock()
		logger.Trace("applying command", "op", cmd.Op, "name", cmd.Name)
		if err := Apply(ctx, e, cmd); err != nil {
			return err
		}
		if err := j.WriteCommand(cmd); err != nil {
			return fmt.Errorf("journal command: %w", err)
		}
		return nil
	}
}
