package deferred

import (
	"context"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/store"
)

// Result is the caller-visible outcome of an operation on one name.
type Result struct {
	Name  string
	Value *string
}

// Service exposes the store's operations to request handlers: writes go through
// the coordinator, reads go straight to the engine.
type Service struct {
	engine *chain.Engine
	query  *chain.Query
	coord  *Coordinator
	wait   WaitOptions
}

// NewService wires engine reads and coordinated writes together.
func NewService(engine *chain.Engine, coord *Coordinator, wait WaitOptions) *Service {
	return &Service{
		engine: engine,
		query:  chain.NewQuery(engine),
		coord:  coord,
		wait:   wait,
	}
}

// Get returns the active value of name.
func (s *Service) Get(ctx context.Context, name string) (Result, error) {
	v, err := s.query.Get(ctx, name)
	return Result{Name: name, Value: v}, err
}

// CountEqualTo counts names whose active value equals value.
func (s *Service) CountEqualTo(ctx context.Context, value *string) (int, error) {
	return s.query.CountEqualTo(ctx, value)
}

// History lists the records of name, newest first.
func (s *Service) History(ctx context.Context, name string, limit int) ([]store.VersionRecord, error) {
	return s.engine.History(ctx, name, limit)
}

// Set submits a SET and waits until name shows a new active record holding value.
func (s *Service) Set(ctx context.Context, name, value string) (Result, error) {
	if name == "" {
		return Result{}, chain.ErrEmptyName
	}
	return s.write(ctx, Command{Op: OpSet, Name: name, Value: &value}, func(r *store.VersionRecord) bool {
		return r.Value != nil && *r.Value == value
	})
}

// Unset submits an UNSET and waits until name shows a new active record without a value.
func (s *Service) Unset(ctx context.Context, name string) (Result, error) {
	if name == "" {
		return Result{}, chain.ErrEmptyName
	}
	return s.write(ctx, Command{Op: OpUnset, Name: name}, func(r *store.VersionRecord) bool {
		return r.Value == nil
	})
}

func (s *Service) write(ctx context.Context, cmd Command, match func(*store.VersionRecord) bool) (Result, error) {
	before, err := s.engine.Active(ctx, cmd.Name)
	if err != nil {
		return Result{}, err
	}
	rec, err := s.coord.SubmitAndWait(ctx, cmd, s.replaced(cmd.Name, before, match), s.wait)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: rec.Name, Value: rec.Value}, nil
}

// Undo submits an UNDO of the global latest operation. It returns
// chain.ErrNoHistory without submitting when there is nothing to undo.
func (s *Service) Undo(ctx context.Context) (Result, error) {
	return s.step(ctx, OpUndo, func(r *store.VersionRecord) string { return r.Previous })
}

// Redo is the mirror of Undo.
func (s *Service) Redo(ctx context.Context) (Result, error) {
	return s.step(ctx, OpRedo, func(r *store.VersionRecord) string { return r.Next })
}

func (s *Service) step(ctx context.Context, op Op, link func(*store.VersionRecord) string) (Result, error) {
	latest, err := s.engine.Latest(ctx)
	if err != nil {
		return Result{}, err
	}
	if latest == nil || link(latest) == "" {
		return Result{}, chain.ErrNoHistory
	}
	rec, err := s.coord.SubmitAndWait(ctx, Command{Op: op}, s.replaced(latest.Name, latest, nil), s.wait)
	if err != nil {
		return Result{}, err
	}
	return Result{Name: rec.Name, Value: rec.Value}, nil
}

// Wipe submits a WIPE and waits until no active record is left.
func (s *Service) Wipe(ctx context.Context) error {
	_, err := s.coord.SubmitAndWait(ctx, Command{Op: OpWipe}, func(ctx context.Context) (*store.VersionRecord, bool, error) {
		latest, err := s.engine.Latest(ctx)
		return nil, latest == nil, err
	}, s.wait)
	return err
}

// replaced holds once name's active record differs from before and satisfies match.
func (s *Service) replaced(name string, before *store.VersionRecord, match func(*store.VersionRecord) bool) Predicate {
	return func(ctx context.Context) (*store.VersionRecord, bool, error) {
		rec, err := s.engine.Active(ctx, name)
		if err != nil || rec == nil {
			return nil, false, err
		}
		if before != nil && rec.ID == before.ID {
			return nil, false, nil
		}
		if match != nil && !match(rec) {
			return nil, false, nil
		}
		return rec, true, nil
	}
}
