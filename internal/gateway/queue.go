package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/imagereader/internal/types"
)

var (
	// ErrQueueStopped completes runs that were still waiting when the
	// queue shut down, and rejects runs enqueued afterwards.
	ErrQueueStopped = errors.New("queue stopped")
	// ErrNoProcessor completes runs dequeued before SetProcessor was called.
	ErrNoProcessor = errors.New("no run processor configured")
)

// Processor answers one run. A nil error means reply is the run's result.
type Processor func(run *Run) (*types.Post, error)

// Queue runs image reads in per-session FIFO lanes. A weighted semaphore
// bounds how many reads execute at once across all sessions. Every run
// that is accepted by Enqueue is completed exactly once, whether it
// succeeds, fails, is canceled or is dropped at shutdown.
type Queue struct {
	lanes     map[types.SessionID]chan *Run
	semaphore *semaphore.Weighted
	processor atomic.Pointer[Processor]
	active    atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewQueue creates a Queue that allows up to maxConcurrent reads at once.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.SessionID]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight runs, fails queued ones with ErrQueueStopped and
// waits for every lane to exit.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	q.stopped = true
	for id, lane := range q.lanes {
		close(lane)
		delete(q.lanes, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn Processor) {
	q.processor.Store(&fn)
}

// Enqueue adds a Run to its session's lane, creating the lane on first
// use. A rejected run is not completed; the error is the caller's answer.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil {
		return errors.New("queue not started")
	}
	if q.stopped || q.ctx.Err() != nil {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[run.SessionID]
	if !exists {
		lane = make(chan *Run, 100)
		q.lanes[run.SessionID] = lane
		q.wg.Add(1)
		go q.processLane(run.SessionID, lane)
	}

	select {
	case lane <- run:
		return nil
	default:
		return fmt.Errorf("queue full for session %s", run.SessionID)
	}
}

// processLane drains one session lane in order. When the queue context
// ends, the lane is detached and whatever is still queued is failed.
func (q *Queue) processLane(sessionID types.SessionID, lane chan *Run) {
	defer q.wg.Done()
	defer q.abandon(sessionID, lane)
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				run.complete(nil, ErrQueueStopped)
				return
			}
			q.execute(run)
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// abandon removes lane from the queue and fails the runs left in it.
// Enqueue sends under the same lock, so no run can slip in afterwards.
func (q *Queue) abandon(sessionID types.SessionID, lane chan *Run) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lanes[sessionID] == lane {
		delete(q.lanes, sessionID)
	}
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			run.complete(nil, ErrQueueStopped)
		default:
			return
		}
	}
}

// execute runs the processor under a per-run context and completes run.
func (q *Queue) execute(run *Run) {
	q.active.Add(1)
	defer q.active.Add(-1)

	ctx, cancel := context.WithCancel(q.ctx)
	defer cancel()
	if run.parent != nil {
		stop := context.AfterFunc(run.parent, cancel)
		defer stop()
	}
	run.Ctx = ctx
	run.start()

	reply, err := q.process(run)
	if err != nil {
		slog.Error("run failed", "run_id", string(run.ID), "session_id", string(run.SessionID), "error", err)
	}
	run.complete(reply, err)
}

func (q *Queue) process(run *Run) (reply *types.Post, err error) {
	if run.parent != nil && run.parent.Err() != nil {
		return nil, run.parent.Err()
	}
	if err := run.Ctx.Err(); err != nil {
		return nil, err
	}
	fn := q.processor.Load()
	if fn == nil || *fn == nil {
		return nil, ErrNoProcessor
	}
	defer func() {
		if r := recover(); r != nil {
			reply, err = nil, fmt.Errorf("run panicked: %v", r)
		}
	}()
	return (*fn)(run)
}

// WaitIdle blocks until no runs are actively being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}
