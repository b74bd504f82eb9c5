// Package raft replicates chain mutations through a hashicorp/raft log. The FSM
// applies committed commands to the local chain engine, which makes a raft node
// one more deferred executor: a command is visible only once it is committed
// and applied, some time after it was submitted.
package raft

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/deferred"
	"github.com/ASHISH26940/chaindb/internal/store"
)

// FSM is a Finite State Machine that applies raft log entries to the chain engine.
type FSM struct {
	engine *chain.Engine
	store  store.Store
	apply  deferred.ApplyFunc
	logger hclog.Logger
}

// NewFSM creates an FSM over engine, which must be built on st. Commands pass
// through apply, so a journal can be attached the same way as for the queue.
func NewFSM(engine *chain.Engine, st store.Store, apply deferred.ApplyFunc, logger hclog.Logger) *FSM {
	return &FSM{
		engine: engine,
		store:  st,
		apply:  apply,
		logger: logger.Named("fsm"),
	}
}

// Apply applies one committed log entry. The returned value is the apply error, or nil.
func (f *FSM) Apply(logEntry *raft.Log) interface{} {
	cmd, err := deferred.DecodeCommand(logEntry.Data)
	if err != nil {
		f.logger.Error("dropping undecodable log entry", "index", logEntry.Index, "error", err)
		return err
	}
	if err := f.apply(context.Background(), cmd); err != nil {
		f.logger.Error("command failed", "index", logEntry.Index, "op", cmd.Op, "name", cmd.Name, "error", err)
		return err
	}
	return nil
}

// Snapshot captures every record of the store.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	recs, err := f.store.Scan(context.Background(), store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("snapshot scan: %w", err)
	}
	return &fsmSnapshot{records: recs}, nil
}

// Restore replaces the store's content with a snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	imp, ok := f.store.(store.Importer)
	if !ok {
		return fmt.Errorf("restore: store %T cannot import records", f.store)
	}
	var wire []snapshotRecord
	if err := codec.NewDecoder(rc, &codec.MsgpackHandle{}).Decode(&wire); err != nil {
		return fmt.Errorf("restore decode: %w", err)
	}
	recs := make([]store.VersionRecord, len(wire))
	for i, w := range wire {
		recs[i] = w.record()
	}

	ctx := context.Background()
	if err := f.engine.WipeAll(ctx); err != nil {
		return err
	}
	if err := imp.Import(ctx, recs); err != nil {
		return fmt.Errorf("restore import: %w", err)
	}
	f.logger.Info("restored snapshot", "records", len(recs))
	return nil
}

type fsmSnapshot struct {
	records []store.VersionRecord
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	wire := make([]snapshotRecord, len(s.records))
	for i, r := range s.records {
		wire[i] = newSnapshotRecord(r)
	}
	if err := codec.NewEncoder(sink, &codec.MsgpackHandle{}).Encode(wire); err != nil {
		sink.Cancel()
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

type snapshotRecord struct {
	ID        string `codec:"id"`
	Seq       uint64 `codec:"seq"`
	Name      string `codec:"name"`
	HasValue  bool   `codec:"has_value"`
	Value     string `codec:"value"`
	Active    bool   `codec:"active"`
	Previous  string `codec:"prev"`
	Next      string `codec:"next"`
	CreatedAt int64  `codec:"created_at"`
}

func newSnapshotRecord(r store.VersionRecord) snapshotRecord {
	w := snapshotRecord{
		ID:        r.ID,
		Seq:       r.Seq,
		Name:      r.Name,
		Active:    r.Active,
		Previous:  r.Previous,
		Next:      r.Next,
		CreatedAt: r.CreatedAt.UnixNano(),
	}
	if r.Value != nil {
		w.HasValue = true
		w.Value = *r.Value
	}
	return w
}

func (w snapshotRecord) record() store.VersionRecord {
	r := store.VersionRecord{
		ID:        w.ID,
		Seq:       w.Seq,
		Name:      w.Name,
		Active:    w.Active,
		Previous:  w.Previous,
		Next:      w.Next,
		CreatedAt: time.Unix(0, w.CreatedAt),
	}
	if w.HasValue {
		v := w.Value
		r.Value = &v
	}
	return r
}
