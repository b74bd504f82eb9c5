package deferred

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/store"
)

type fixture struct {
	engine  *chain.Engine
	queue   *Queue
	service *Service
}

func newFixture(t *testing.T, opts QueueOptions, wait WaitOptions) *fixture {
	t.Helper()
	logger := hclog.NewNullLogger()
	engine := chain.New(store.NewMemoryStore(), logger)
	opts.Logger = logger
	queue := NewQueue(NewApplier(engine, nil, logger), opts)
	t.Cleanup(queue.Close)
	return &fixture{
		engine:  engine,
		queue:   queue,
		service: NewService(engine, NewCoordinator(queue, logger), wait),
	}
}

func render(r Result) string {
	if r.Value == nil {
		return r.Name + " = None"
	}
	return r.Name + " = " + *r.Value
}

func TestService_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 4, Delay: 2 * time.Millisecond}, fastWait())
	s := f.service

	res, err := s.Set(ctx, "x", "1")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", render(res))
	res, err = s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x = 1", render(res))

	res, err = s.Set(ctx, "x", "2")
	require.NoError(t, err)
	assert.Equal(t, "x = 2", render(res))

	res, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", render(res))

	res, err = s.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x = None", render(res))

	res, err = s.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x = 1", render(res))

	n, err := s.CountEqualTo(ctx, store.StringPtr("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, f.engine.Verify(ctx, "x"))
}

func TestService_SetSameValueTwiceWaitsForNewRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 1, Delay: 5 * time.Millisecond}, fastWait())

	_, err := f.service.Set(ctx, "x", "1")
	require.NoError(t, err)
	_, err = f.service.Set(ctx, "x", "1")
	require.NoError(t, err)

	history, err := f.service.History(ctx, "x", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3, "sentinel plus two writes must have landed before Set returned")
}

func TestService_UnsetNeverSetName(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 2}, fastWait())

	res, err := f.service.Unset(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, "y = None", render(res))

	res, err = f.service.Get(ctx, "y")
	require.NoError(t, err)
	assert.Equal(t, "y = None", render(res))

	_, err = f.service.Undo(ctx)
	assert.True(t, errors.Is(err, chain.ErrNoHistory))
}

func TestService_NoHistoryDoesNotSubmit(t *testing.T) {
	ctx := context.Background()
	logger := hclog.NewNullLogger()
	exec := &recordingExecutor{}
	s := NewService(chain.New(store.NewMemoryStore(), logger), NewCoordinator(exec, logger), fastWait())

	_, err := s.Undo(ctx)
	assert.True(t, errors.Is(err, chain.ErrNoHistory))
	_, err = s.Redo(ctx)
	assert.True(t, errors.Is(err, chain.ErrNoHistory))
	assert.Empty(t, exec.submitted)
}

func TestService_Wipe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 3}, fastWait())

	for i := 0; i < 5; i++ {
		_, err := f.service.Set(ctx, fmt.Sprintf("k%d", i), "v")
		require.NoError(t, err)
	}
	require.NoError(t, f.service.Wipe(ctx))
	require.NoError(t, f.service.Wipe(ctx))

	for i := 0; i < 5; i++ {
		res, err := f.service.Get(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		assert.Nil(t, res.Value)
	}
	n, err := f.service.CountEqualTo(ctx, store.StringPtr("v"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestService_TimeoutLeavesValidChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 1, Delay: 150 * time.Millisecond},
		WaitOptions{Timeout: 20 * time.Millisecond, PollInterval: 2 * time.Millisecond})

	_, err := f.service.Set(ctx, "x", "1")
	assert.True(t, errors.Is(err, ErrTimeout))

	res, err := f.service.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, res.Value, "the write has not landed yet")
	require.NoError(t, f.engine.Verify(ctx, "x"))

	f.queue.Close()

	res, err = f.service.Get(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, res.Value, "a timed out write is still applied later")
	assert.Equal(t, "1", *res.Value)
	require.NoError(t, f.engine.Verify(ctx, "x"))
}

func TestService_ConcurrentClients(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, QueueOptions{Workers: 4, Delay: time.Millisecond}, fastWait())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			name := fmt.Sprintf("client_%d", client)
			for j := 0; j < 10; j++ {
				value := fmt.Sprintf("%d", j)
				res, err := f.service.Set(ctx, name, value)
				if err != nil {
					t.Errorf("set %s: %v", name, err)
					return
				}
				if res.Value == nil || *res.Value != value {
					t.Errorf("set %s returned %s", name, render(res))
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("client_%d", i)
		res, err := f.service.Get(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, res.Value)
		assert.Equal(t, "9", *res.Value)
		assert.NoError(t, f.engine.Verify(ctx, name))
	}
}
