package deferred

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("deferred: queue closed")

// Executor runs commands out of band. Submit only enqueues.
type Executor interface {
	Submit(ctx context.Context, cmd Command) error
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Workers int
	// Delay is slept by a worker before applying each command.
	Delay  time.Duration
	Buffer int
	Logger hclog.Logger
}

// Queue is an in-process Executor. Commands are sharded by key name, so the
// commands of one name are applied in submission order by a single worker.
type Queue struct {
	apply  ApplyFunc
	delay  time.Duration
	logger hclog.Logger
	shards []chan Command

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts the workers of a Queue applying commands with apply.
func NewQueue(apply ApplyFunc, opts QueueOptions) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	q := &Queue{
		apply:  apply,
		delay:  opts.Delay,
		logger: opts.Logger.Named("queue"),
		shards: make([]chan Command, opts.Workers),
	}
	for i := range q.shards {
		q.shards[i] = make(chan Command, opts.Buffer)
		q.wg.Add(1)
		go q.work(i)
	}
	return q
}

// Submit enqueues cmd on the shard owning its name. It blocks only while that shard is full.
func (q *Queue) Submit(ctx context.Context, cmd Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.shards[q.shard(cmd.Name)] <- cmd:
		metrics.IncrCounter([]string{"queue", "enqueued"}, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands and waits for queued ones to be applied.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// shard maps a name to its worker. Global commands carry no name and run on shard 0.
func (q *Queue) shard(name string) int {
	if name == "" {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32() % uint32(len(q.shards)))
}

func (q *Queue) work(id int) {
	defer q.wg.Done()
	for cmd := range q.shards[id] {
		if q.delay > 0 {
			time.Sleep(q.delay)
		}
		start := time.Now()
		if err := q.apply(context.Background(), cmd); err != nil {
			metrics.IncrCounter([]string{"queue", "failed"}, 1)
			q.logger.Error("command failed", "worker", id, "op", cmd.Op, "name", cmd.Name, "error", err)
			continue
		}
		metrics.MeasureSince([]string{"queue", "apply"}, start)
	}
}
