package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/chaindb/internal/store"
	"github.com/ASHISH26940/chaindb/internal/store/cachestore"
)

func newEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return New(s, hclog.NewNullLogger()), s
}

// valueOf renders the active value of name the way the HTTP surface does.
func valueOf(t *testing.T, e *Engine, name string) string {
	t.Helper()
	v, err := NewQuery(e).Get(context.Background(), name)
	require.NoError(t, err)
	if v == nil {
		return "None"
	}
	return *v
}

func TestEngine_SetUndoRedoScenario(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Set(ctx, "x", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", valueOf(t, e, "x"))

	_, err = e.Set(ctx, "x", "2")
	require.NoError(t, err)
	assert.Equal(t, "2", valueOf(t, e, "x"))

	rec, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", rec.Name)
	assert.Equal(t, "1", *rec.Value)
	assert.Equal(t, "1", valueOf(t, e, "x"))

	rec, err = e.Undo(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec.Value, "second undo lands on the sentinel")
	assert.Equal(t, "None", valueOf(t, e, "x"))

	_, err = e.Undo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory))

	rec, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.Value)
	assert.Equal(t, "1", valueOf(t, e, "x"))

	n, err := e.CountEqualTo(ctx, store.StringPtr("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, e.Verify(ctx, "x"))
}

func TestEngine_SetCreatesSentinel(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	created, err := e.Set(ctx, "x", "1")
	require.NoError(t, err)

	history, err := e.History(ctx, "x", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	sentinel := history[1]
	assert.Nil(t, sentinel.Value)
	assert.False(t, sentinel.Active)
	assert.Empty(t, sentinel.Previous)
	assert.Equal(t, created.ID, sentinel.Next)
	assert.Equal(t, sentinel.ID, created.Previous)
	assert.True(t, history[0].Active)
}

func TestEngine_UnsetNeverSetName(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	rec, err := e.Unset(ctx, "y")
	require.NoError(t, err)
	assert.Nil(t, rec.Value)
	assert.Empty(t, rec.Previous, "unset of a new name is its own origin")
	assert.Equal(t, "None", valueOf(t, e, "y"))

	history, err := e.History(ctx, "y", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = e.Undo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory))
}

func TestEngine_UnsetAfterSet(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = e.Unset(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "None", valueOf(t, e, "x"))

	rec, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.Value)
	require.NoError(t, e.Verify(ctx, "x"))
}

func TestEngine_RedoAfterWriteIsNoop(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Redo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory), "redo on an empty store")

	_, err = e.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = e.Redo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory))

	_, err = e.Unset(ctx, "x")
	require.NoError(t, err)
	_, err = e.Redo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory))
}

func TestEngine_UndoThenRedoRestores(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	for _, v := range []string{"a", "b", "c"} {
		_, err := e.Set(ctx, "k", v)
		require.NoError(t, err)
	}
	before := valueOf(t, e, "k")

	_, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", valueOf(t, e, "k"))

	_, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, valueOf(t, e, "k"))
}

func TestEngine_WriteAfterUndoDropsRedo(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = e.Set(ctx, "x", "2")
	require.NoError(t, err)
	_, err = e.Undo(ctx)
	require.NoError(t, err)
	_, err = e.Set(ctx, "x", "3")
	require.NoError(t, err)

	_, err = e.Redo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory))

	rec, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.Value)
	rec, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", *rec.Value, "redo follows the newest branch")

	require.NoError(t, e.Verify(ctx, "x"))
}

func TestEngine_UndoActsOnGlobalLatest(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	_, err := e.Set(ctx, "a", "1")
	require.NoError(t, err)
	_, err = e.Set(ctx, "b", "1")
	require.NoError(t, err)
	_, err = e.Set(ctx, "a", "2")
	require.NoError(t, err)

	latest, err := e.GetActive(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "a", latest.Name)

	rec, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Name)
	assert.Equal(t, "1", valueOf(t, e, "a"))

	rec, err = e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Name, "b's write is now the latest active record")
	assert.Equal(t, "None", valueOf(t, e, "b"))
	assert.Equal(t, "1", valueOf(t, e, "a"))

	_, err = e.Undo(ctx)
	assert.True(t, errors.Is(err, ErrNoHistory), "b's sentinel blocks further undo")
}

func TestEngine_CountEqualTo(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	for name, v := range map[string]string{"a": "10", "b": "10", "c": "20"} {
		_, err := e.Set(ctx, name, v)
		require.NoError(t, err)
	}
	_, err := e.Set(ctx, "a", "20")
	require.NoError(t, err)
	_, err = e.Unset(ctx, "d")
	require.NoError(t, err)

	for value, want := range map[string]int{"10": 1, "20": 2, "30": 0} {
		n, err := e.CountEqualTo(ctx, store.StringPtr(value))
		require.NoError(t, err)
		assert.Equal(t, want, n, "count of %q", value)
	}

	n, err := e.CountEqualTo(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "an absent value never counts")
}

func TestEngine_WipeAll(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	_, err := e.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = e.Set(ctx, "y", "1")
	require.NoError(t, err)

	require.NoError(t, e.WipeAll(ctx))
	require.NoError(t, e.WipeAll(ctx))
	assert.Equal(t, 0, s.Len())

	for _, name := range []string{"x", "y"} {
		rec, err := e.Active(ctx, name)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	latest, err := e.Latest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	n, err := e.CountEqualTo(ctx, store.StringPtr("1"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEngine_RejectsEmptyName(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Set(context.Background(), "", "1")
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestEngine_ConcurrentWritesKeepChainsLinear(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	var wg sync.WaitGroup
	numGoroutines := 8
	numOperations := 20

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				name := fmt.Sprintf("key_%d", j%3)
				var err error
				switch {
				case j%7 == 6:
					_, err = e.Undo(ctx)
					if errors.Is(err, ErrNoHistory) {
						err = nil
					}
				case j%5 == 4:
					_, err = e.Unset(ctx, name)
				default:
					_, err = e.Set(ctx, name, fmt.Sprintf("%d-%d", goroutineID, j))
				}
				if err != nil {
					t.Errorf("operation failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 3; i++ {
		assert.NoError(t, e.Verify(ctx, fmt.Sprintf("key_%d", i)))
	}
	assert.Equal(t, 0, e.names.len(), "name locks must be released")
}

func TestEngine_DetectsCorruptChain(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	require.NoError(t, s.Import(ctx, []store.VersionRecord{
		{ID: "a", Seq: 1, Name: "x"},
		{ID: "b", Seq: 2, Name: "x", Value: store.StringPtr("1"), Active: true, Previous: "missing"},
	}))

	_, err := e.Undo(ctx)
	assert.True(t, errors.Is(err, ErrCorruptChain))
	assert.True(t, errors.Is(e.Verify(ctx, "x"), ErrCorruptChain))

	rec, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.True(t, rec.Active, "a failed undo must not change the store")
}

func TestEngine_DetectsDoubleActive(t *testing.T) {
	ctx := context.Background()
	e, s := newEngine(t)

	require.NoError(t, s.Import(ctx, []store.VersionRecord{
		{ID: "a", Seq: 1, Name: "x", Active: true, Next: "b"},
		{ID: "b", Seq: 2, Name: "x", Active: true, Previous: "a"},
	}))

	_, err := e.Active(ctx, "x")
	assert.True(t, errors.Is(err, ErrCorruptChain))
	_, err = e.Set(ctx, "x", "1")
	assert.True(t, errors.Is(err, ErrCorruptChain))
}

func TestEngine_StepsThroughCachedStore(t *testing.T) {
	ctx := context.Background()
	cached, err := cachestore.New(store.NewMemoryStore(), 16)
	require.NoError(t, err)
	e := New(cached, hclog.NewNullLogger())

	_, err = e.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = e.Set(ctx, "x", "2")
	require.NoError(t, err)

	rec, err := e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.Value)

	// The batch must invalidate the cached copies or this redo sees a stale active flag.
	rec, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", *rec.Value)
	rec, err = e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", *rec.Value)
	assert.NoError(t, e.Verify(ctx, "x"))
}
