// Package chain keeps, for every key name, a doubly linked history of version
// records with exactly one active record, and implements set, unset, undo and
// redo as mutations of those chains.
//
// Undo and redo act on the global latest operation: the active record with the
// highest seq across all names.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/ASHISH26940/chaindb/internal/store"
)

var (
	// ErrNoHistory is returned by Undo and Redo when there is nothing to step to.
	ErrNoHistory = errors.New("chain: no commands to apply")
	// ErrCorruptChain reports a broken previous/next link or a duplicated active record.
	ErrCorruptChain = errors.New("chain: corrupt version chain")
	// ErrEmptyName rejects writes without a key name.
	ErrEmptyName = errors.New("chain: key name is required")
)

// Engine applies chain mutations to a record store.
type Engine struct {
	store  store.Store
	logger hclog.Logger

	// mu is held shared by per-name writes and exclusively by undo, redo and wipe,
	// which read the global latest record before mutating it.
	mu    sync.RWMutex
	names *nameLocks
}

// New returns an Engine over s.
func New(s store.Store, logger hclog.Logger) *Engine {
	return &Engine{
		store:  s,
		logger: logger.Named("chain"),
		names:  newNameLocks(),
	}
}

// Active returns the active record for name, or nil if name was never written.
func (e *Engine) Active(ctx context.Context, name string) (*store.VersionRecord, error) {
	recs, err := e.store.Scan(ctx, store.Filter{Name: &name, Active: store.BoolPtr(true), Limit: 2})
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return &recs[0], nil
	default:
		return nil, e.corrupt("name %q has %d active records", name, len(recs))
	}
}

// Latest returns the active record with the highest seq across all names, or nil on an empty store.
func (e *Engine) Latest(ctx context.Context) (*store.VersionRecord, error) {
	recs, err := e.store.Scan(ctx, store.Filter{Active: store.BoolPtr(true), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// GetActive returns Active(name) for a non-empty name and Latest otherwise.
func (e *Engine) GetActive(ctx context.Context, name string) (*store.VersionRecord, error) {
	if name == "" {
		return e.Latest(ctx)
	}
	return e.Active(ctx, name)
}

// Set records value as the new active version of name. A name that was never
// written first gets an unset sentinel so its history has an origin.
func (e *Engine) Set(ctx context.Context, name, value string) (store.VersionRecord, error) {
	return e.write(ctx, name, &value)
}

// Unset records an absent value as the new active version of name.
func (e *Engine) Unset(ctx context.Context, name string) (store.VersionRecord, error) {
	return e.write(ctx, name, nil)
}

func (e *Engine) write(ctx context.Context, name string, value *string) (store.VersionRecord, error) {
	if name == "" {
		return store.VersionRecord{}, ErrEmptyName
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	unlock := e.names.Lock(name)
	defer unlock()

	prior, err := e.Active(ctx, name)
	if err != nil {
		return store.VersionRecord{}, err
	}

	var created store.VersionRecord
	err = e.store.Batch(ctx, func(tx store.Tx) error {
		if prior == nil && value != nil {
			sentinel, err := tx.Insert(store.VersionRecord{Name: name, Active: true})
			if err != nil {
				return err
			}
			prior = &sentinel
		}

		rec := store.VersionRecord{Name: name, Value: value, Active: true}
		if prior != nil {
			rec.Previous = prior.ID
		}
		var err error
		created, err = tx.Insert(rec)
		if err != nil {
			return err
		}
		if prior == nil {
			return nil
		}
		return tx.Update(prior.ID, store.Changes{Active: store.BoolPtr(false), Next: &created.ID})
	})
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("write %q: %w", name, err)
	}

	e.logger.Debug("wrote version", "name", name, "id", created.ID, "seq", created.Seq, "unset", value == nil)
	return created, nil
}

// Undo deactivates the global latest record and activates its predecessor.
// It returns the newly active record, or ErrNoHistory.
func (e *Engine) Undo(ctx context.Context) (store.VersionRecord, error) {
	return e.step(ctx, "undo", func(r store.VersionRecord) string { return r.Previous })
}

// Redo deactivates the global latest record and activates its successor.
// It returns the newly active record, or ErrNoHistory.
func (e *Engine) Redo(ctx context.Context) (store.VersionRecord, error) {
	return e.step(ctx, "redo", func(r store.VersionRecord) string { return r.Next })
}

func (e *Engine) step(ctx context.Context, op string, link func(store.VersionRecord) string) (store.VersionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	latest, err := e.Latest(ctx)
	if err != nil {
		return store.VersionRecord{}, err
	}
	if latest == nil || link(*latest) == "" {
		return store.VersionRecord{}, ErrNoHistory
	}

	// The exclusive lock keeps both records stable between this read and the batch.
	target, err := e.store.Get(ctx, link(*latest))
	if errors.Is(err, store.ErrNotFound) {
		return store.VersionRecord{}, e.corrupt("%s from %s: dangling link %s", op, latest.ID, link(*latest))
	}
	if err != nil {
		return store.VersionRecord{}, err
	}
	if err := e.checkLink(*latest, target); err != nil {
		return store.VersionRecord{}, err
	}

	err = e.store.Batch(ctx, func(tx store.Tx) error {
		if err := tx.Update(latest.ID, store.SetActive(false)); err != nil {
			return err
		}
		return tx.Update(target.ID, store.SetActive(true))
	})
	if err != nil {
		return store.VersionRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	target.Active = true

	e.logger.Debug("stepped", "op", op, "name", target.Name, "from", latest.ID, "to", target.ID)
	return target, nil
}

// checkLink verifies that from and to are adjacent records of the same chain.
func (e *Engine) checkLink(from, to store.VersionRecord) error {
	if from.Name != to.Name {
		return e.corrupt("record %s (%q) links to %s (%q)", from.ID, from.Name, to.ID, to.Name)
	}
	if to.Active {
		return e.corrupt("name %q: record %s already active", to.Name, to.ID)
	}
	switch {
	case from.Previous == to.ID && to.Next != from.ID:
		return e.corrupt("name %q: %s.previous=%s but %s.next=%q", from.Name, from.ID, to.ID, to.ID, to.Next)
	case from.Next == to.ID && to.Previous != from.ID:
		return e.corrupt("name %q: %s.next=%s but %s.previous=%q", from.Name, from.ID, to.ID, to.ID, to.Previous)
	}
	return nil
}

// CountEqualTo counts names whose active value equals value.
// An absent value is not a legal query and always counts 0.
func (e *Engine) CountEqualTo(ctx context.Context, value *string) (int, error) {
	if value == nil {
		return 0, nil
	}
	recs, err := e.store.Scan(ctx, store.Filter{Active: store.BoolPtr(true), Value: value})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// History lists the records of name newest first. A zero limit lists all of them.
func (e *Engine) History(ctx context.Context, name string, limit int) ([]store.VersionRecord, error) {
	return e.store.Scan(ctx, store.Filter{Name: &name, Limit: limit})
}

// WipeAll deletes every record of every name.
func (e *Engine) WipeAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("wipe: %w", err)
	}
	e.logger.Debug("wiped all records")
	return nil
}

func (e *Engine) corrupt(format string, args ...any) error {
	err := fmt.Errorf("%w: %s", ErrCorruptChain, fmt.Sprintf(format, args...))
	e.logger.Error("chain integrity violation", "error", err)
	return err
}
