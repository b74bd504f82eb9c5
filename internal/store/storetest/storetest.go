// Package storetest holds the behaviour every store.Store implementation must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/store"
)

// Run exercises a store created fresh by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("InsertAssignsIdentity", func(t *testing.T) { testInsert(t, newStore(t)) })
	t.Run("UpdateAndGet", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("ScanFilterAndOrder", func(t *testing.T) { testScan(t, newStore(t)) })
	t.Run("BatchIsAtomic", func(t *testing.T) { testBatch(t, newStore(t)) })
	t.Run("DeleteAll", func(t *testing.T) { testDeleteAll(t, newStore(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrent(t, newStore(t)) })
	t.Run("ReadersSeeLinkedChains", func(t *testing.T) { testReadersDuringWrites(t, newStore(t)) })
}

func testInsert(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.Insert(ctx, store.VersionRecord{Name: "x", Value: store.StringPtr("1"), Active: true})
	require.NoError(t, err)
	b, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.Seq, b.Seq)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Name)
	require.NotNil(t, got.Value)
	assert.Equal(t, "1", *got.Value)

	got, err = s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Value)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, a.ID, store.Changes{Active: store.BoolPtr(false), Next: store.StringPtr("n1")}))
	got, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "n1", got.Next)
	assert.Equal(t, a.Seq, got.Seq)

	require.NoError(t, s.Update(ctx, a.ID, store.SetActive(true)))
	got, err = s.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, "n1", got.Next)

	err = s.Update(ctx, "missing", store.SetActive(true))
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testScan(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, name := range []string{"a", "b", "a", "c"} {
		_, err := s.Insert(ctx, store.VersionRecord{
			Name:   name,
			Value:  store.StringPtr(fmt.Sprintf("v%d", i%2)),
			Active: i != 0,
		})
		require.NoError(t, err)
	}

	all, err := s.Scan(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i].Before(all[i-1]), "scan must be newest first")
	}

	byName, err := s.Scan(ctx, store.Filter{Name: store.StringPtr("a")})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	active, err := s.Scan(ctx, store.Filter{Name: store.StringPtr("a"), Active: store.BoolPtr(true), Limit: 1})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "v0", *active[0].Value)

	byValue, err := s.Scan(ctx, store.Filter{Value: store.StringPtr("v1"), Active: store.BoolPtr(true)})
	require.NoError(t, err)
	assert.Len(t, byValue, 2)

	limited, err := s.Scan(ctx, store.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, all[0].ID, limited[0].ID)
}

func testBatch(t *testing.T, s store.Store) {
	ctx := context.Background()

	prior, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)

	var created store.VersionRecord
	err = s.Batch(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.Insert(store.VersionRecord{Name: "x", Value: store.StringPtr("1"), Active: true, Previous: prior.ID})
		if err != nil {
			return err
		}
		inTx, err := tx.Get(created.ID)
		if err != nil {
			return err
		}
		if inTx.Previous != prior.ID {
			return fmt.Errorf("staged record not visible inside batch")
		}
		return tx.Update(prior.ID, store.Changes{Active: store.BoolPtr(false), Next: store.StringPtr(created.ID)})
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, prior.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, created.ID, got.Next)

	boom := errors.New("boom")
	err = s.Batch(ctx, func(tx store.Tx) error {
		if _, err := tx.Insert(store.VersionRecord{Name: "x", Value: store.StringPtr("2"), Active: true}); err != nil {
			return err
		}
		if err := tx.Update(created.ID, store.SetActive(false)); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	all, err := s.Scan(ctx, store.Filter{Name: store.StringPtr("x")})
	require.NoError(t, err)
	assert.Len(t, all, 2, "failed batch must not leave records behind")
	got, err = s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Active, "failed batch must not leave updates behind")
}

func testDeleteAll(t *testing.T, s store.Store) {
	ctx := context.Background()

	last, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAll(ctx))
	require.NoError(t, s.DeleteAll(ctx))

	all, err := s.Scan(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	next, err := s.Insert(ctx, store.VersionRecord{Name: "x", Active: true})
	require.NoError(t, err)
	assert.Greater(t, next.Seq, last.Seq, "seqs must keep increasing across a wipe")
}

func testConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	numGoroutines := 8
	numOperations := 25

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < numOperations; j++ {
				name := fmt.Sprintf("key_%d", goroutineID)
				if _, err := s.Insert(ctx, store.VersionRecord{Name: name, Active: true}); err != nil {
					t.Errorf("insert failed: %v", err)
					return
				}
				if _, err := s.Scan(ctx, store.Filter{Name: &name, Limit: 1}); err != nil {
					t.Errorf("scan failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	all, err := s.Scan(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, all, numGoroutines*numOperations)
	seen := make(map[uint64]bool, len(all))
	for _, rec := range all {
		assert.False(t, seen[rec.Seq], "duplicate seq %d", rec.Seq)
		seen[rec.Seq] = true
	}
}

// testReadersDuringWrites reads chains while sets, undos and redos land and
// fails on any state a committed batch could not have produced.
func testReadersDuringWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := chain.New(s, hclog.NewNullLogger())
	names := []string{"p", "q"}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, name := range names {
					if err := checkSnapshot(ctx, s, name); err != nil {
						t.Error(err)
						return
					}
					if err := checkActiveLink(ctx, e, s, name); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for _, name := range names {
		for w := 0; w < 2; w++ {
			writers.Add(1)
			go func(name string, w int) {
				defer writers.Done()
				for j := 0; j < 15; j++ {
					if _, err := e.Set(ctx, name, fmt.Sprintf("%d-%d", w, j)); err != nil {
						t.Errorf("set %s: %v", name, err)
						return
					}
				}
			}(name, w)
		}
	}
	writers.Add(1)
	go func() {
		defer writers.Done()
		for j := 0; j < 20; j++ {
			step := e.Undo
			if j%2 == 1 {
				step = e.Redo
			}
			if _, err := step(ctx); err != nil && !errors.Is(err, chain.ErrNoHistory) {
				t.Errorf("step %d: %v", j, err)
				return
			}
		}
	}()

	writers.Wait()
	close(done)
	readers.Wait()

	for _, name := range names {
		assert.NoError(t, e.Verify(ctx, name))
	}
}

// checkSnapshot inspects one scan of name: a written name has exactly one
// active record and that record is linked both ways to its neighbours.
func checkSnapshot(ctx context.Context, s store.Store, name string) error {
	recs, err := s.Scan(ctx, store.Filter{Name: &name})
	if err != nil {
		return fmt.Errorf("scan %s: %w", name, err)
	}
	if len(recs) == 0 {
		return nil
	}
	byID := make(map[string]store.VersionRecord, len(recs))
	var active []store.VersionRecord
	for _, rec := range recs {
		byID[rec.ID] = rec
		if rec.Active {
			active = append(active, rec)
		}
	}
	if len(active) != 1 {
		return fmt.Errorf("name %s: %d active records in one scan", name, len(active))
	}
	a := active[0]
	if a.Previous != "" {
		prev, ok := byID[a.Previous]
		if !ok || prev.Next != a.ID {
			return fmt.Errorf("name %s: previous %s of active %s does not link back", name, a.Previous, a.ID)
		}
	}
	if a.Next != "" {
		next, ok := byID[a.Next]
		if !ok || next.Previous != a.ID {
			return fmt.Errorf("name %s: next %s of active %s does not link back", name, a.Next, a.ID)
		}
	}
	return nil
}

// checkActiveLink follows the active record's previous link with a point read.
// The check only counts when the active record did not move in between.
func checkActiveLink(ctx context.Context, e *chain.Engine, s store.Store, name string) error {
	before, err := e.Active(ctx, name)
	if err != nil {
		return fmt.Errorf("active %s: %w", name, err)
	}
	if before == nil || before.Previous == "" {
		return nil
	}
	prev, err := s.Get(ctx, before.Previous)
	if err != nil {
		return fmt.Errorf("get previous of %s: %w", before.ID, err)
	}
	after, err := e.Active(ctx, name)
	if err != nil {
		return fmt.Errorf("active %s: %w", name, err)
	}
	if after == nil {
		return fmt.Errorf("name %s lost its active record", name)
	}
	if after.ID == before.ID && prev.Next != before.ID {
		return fmt.Errorf("name %s: %s.next=%q, want %s", name, prev.ID, prev.Next, before.ID)
	}
	return nil
}
