package deferred

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/chaindb/internal/store"
)

// recordingExecutor remembers submissions and optionally runs a hook for each.
type recordingExecutor struct {
	mu        sync.Mutex
	submitted []Command
	onSubmit  func(cmd Command)
	err       error
}

func (r *recordingExecutor) Submit(_ context.Context, cmd Command) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.submitted = append(r.submitted, cmd)
	r.mu.Unlock()
	if r.onSubmit != nil {
		r.onSubmit(cmd)
	}
	return nil
}

func fastWait() WaitOptions {
	return WaitOptions{Timeout: 2 * time.Second, PollInterval: time.Millisecond}
}

func TestCoordinator_WaitsUntilVisible(t *testing.T) {
	var (
		mu      sync.Mutex
		visible bool
	)
	exec := &recordingExecutor{onSubmit: func(Command) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			visible = true
			mu.Unlock()
		}()
	}}
	c := NewCoordinator(exec, hclog.NewNullLogger())

	want := &store.VersionRecord{ID: "r1", Name: "x"}
	polls := 0
	rec, err := c.SubmitAndWait(context.Background(), Command{Op: OpUnset, Name: "x"}, func(context.Context) (*store.VersionRecord, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if !visible {
			return nil, false, nil
		}
		return want, true, nil
	}, fastWait())

	require.NoError(t, err)
	assert.Equal(t, want, rec)
	assert.Greater(t, polls, 1, "predicate should have been polled until the write landed")
	assert.Len(t, exec.submitted, 1)
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_Timeout(t *testing.T) {
	c := NewCoordinator(&recordingExecutor{}, hclog.NewNullLogger())

	start := time.Now()
	_, err := c.SubmitAndWait(context.Background(), Command{Op: OpUndo}, func(context.Context) (*store.VersionRecord, bool, error) {
		return nil, false, nil
	}, WaitOptions{Timeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_PollsOncePerInterval(t *testing.T) {
	c := NewCoordinator(&recordingExecutor{}, hclog.NewNullLogger())

	polls := 0
	_, err := c.SubmitAndWait(context.Background(), Command{Op: OpWipe}, func(context.Context) (*store.VersionRecord, bool, error) {
		polls++
		return nil, false, nil
	}, WaitOptions{Timeout: 55 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, polls, 2)
	assert.LessOrEqual(t, polls, 7, "polls must be paced by the interval")
}

func TestCoordinator_PendingWhileWaiting(t *testing.T) {
	c := NewCoordinator(&recordingExecutor{}, hclog.NewNullLogger())
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		c.SubmitAndWait(context.Background(), Command{Op: OpWipe}, func(context.Context) (*store.VersionRecord, bool, error) {
			select {
			case <-release:
				return nil, true, nil
			default:
				return nil, false, nil
			}
		}, fastWait())
	}()

	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)
	close(release)
	<-done
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinator_PropagatesErrors(t *testing.T) {
	boom := errors.New("store unavailable")

	c := NewCoordinator(&recordingExecutor{}, hclog.NewNullLogger())
	_, err := c.SubmitAndWait(context.Background(), Command{Op: OpWipe}, func(context.Context) (*store.VersionRecord, bool, error) {
		return nil, false, boom
	}, fastWait())
	assert.True(t, errors.Is(err, boom))

	c = NewCoordinator(&recordingExecutor{err: ErrQueueClosed}, hclog.NewNullLogger())
	_, err = c.SubmitAndWait(context.Background(), Command{Op: OpWipe}, func(context.Context) (*store.VersionRecord, bool, error) {
		t.Fatal("predicate must not run when submission fails")
		return nil, false, nil
	}, fastWait())
	assert.True(t, errors.Is(err, ErrQueueClosed))
}

func TestCoordinator_CallerCancel(t *testing.T) {
	c := NewCoordinator(&recordingExecutor{}, hclog.NewNullLogger())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := c.SubmitAndWait(ctx, Command{Op: OpWipe}, func(context.Context) (*store.VersionRecord, bool, error) {
		return nil, false, nil
	}, fastWait())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestCommand_EncodeDecode(t *testing.T) {
	cmd := Command{Op: OpSet, Name: "x", Value: store.StringPtr("")}
	data, err := cmd.Encode()
	require.NoError(t, err)

	got, err := DecodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, OpSet, got.Op)
	require.NotNil(t, got.Value, "an empty value is still a value")
	assert.Equal(t, "", *got.Value)

	data, err = Command{Op: OpUnset, Name: "x"}.Encode()
	require.NoError(t, err)
	got, err = DecodeCommand(data)
	require.NoError(t, err)
	assert.Nil(t, got.Value)

	_, err = DecodeCommand([]byte("{"))
	assert.Error(t, err)
}
