package deferred

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/ASHISH26940/chaindb/internal/store"
)

// ErrTimeout means the effect of a submitted command did not become visible in
// time. The command may still be applied later; nothing is rolled back.
var ErrTimeout = errors.New("deferred: write not visible before timeout")

// Predicate inspects the engine's current read view. It returns the record that
// proves the command landed (nil when no record is involved) and whether it did.
type Predicate func(ctx context.Context) (*store.VersionRecord, bool, error)

// WaitOptions bounds a wait-until-visible loop.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// DefaultWaitOptions returns the bounds used when none are configured.
func DefaultWaitOptions() WaitOptions {
	return WaitOptions{Timeout: 5 * time.Second, PollInterval: 10 * time.Millisecond}
}

// Coordinator submits commands to an Executor and waits for their effect.
type Coordinator struct {
	exec    Executor
	tickets *Tickets
	logger  hclog.Logger
}

// NewCoordinator returns a Coordinator submitting to exec.
func NewCoordinator(exec Executor, logger hclog.Logger) *Coordinator {
	return &Coordinator{
		exec:    exec,
		tickets: NewTickets(),
		logger:  logger.Named("deferred"),
	}
}

// Pending returns the number of submissions still being waited on.
func (c *Coordinator) Pending() int {
	return c.tickets.Len()
}

// SubmitAndWait enqueues cmd, then evaluates pred every PollInterval until it
// holds or Timeout elapses. No lock is held while sleeping.
func (c *Coordinator) SubmitAndWait(ctx context.Context, cmd Command, pred Predicate, opts WaitOptions) (*store.VersionRecord, error) {
	def := DefaultWaitOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}

	tk := c.tickets.Begin(cmd)
	defer c.tickets.Clear(tk.ID)

	if err := c.exec.Submit(ctx, cmd); err != nil {
		return nil, fmt.Errorf("submit %s: %w", cmd.Op, err)
	}
	metrics.IncrCounter([]string{"deferred", "submitted"}, 1)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		rec, ok, err := pred(waitCtx)
		if err != nil && waitCtx.Err() == nil {
			return nil, err
		}
		if ok {
			metrics.MeasureSince([]string{"deferred", "visible"}, tk.Submitted)
			return rec, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.IncrCounter([]string{"deferred", "timeout"}, 1)
			c.logger.Warn("write not visible in time", "ticket", tk.ID, "op", cmd.Op, "name", cmd.Name, "timeout", opts.Timeout)
			return nil, fmt.Errorf("%w: ticket %s (%s %q) after %s", ErrTimeout, tk.ID, cmd.Op, cmd.Name, opts.Timeout)
		case <-ticker.C:
		}
	}
}
