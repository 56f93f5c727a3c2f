package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fclpkg/fclrecipe/pkg/logger"
)

// RunRequest asks for one more pipeline run
type RunRequest struct {
	ID        string
	Reason    string
	Timestamp time.Time
}

// RunFunc executes one requested run
type RunFunc func(ctx context.Context, req RunRequest) error

// RunQueue serializes runs triggered by recipe edits. At most one run is
// active and at most one is pending; triggers arriving while a run is
// pending are merged into it.
type RunQueue struct {
	run    RunFunc
	logger logger.Logger

	mu      sync.Mutex
	active  *RunRequest
	pending *RunRequest
	wake    chan struct{}
	results chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunQueue creates a queue that calls run for each request
func NewRunQueue(run RunFunc, log logger.Logger) *RunQueue {
	if log == nil {
		log = logger.Nop()
	}
	return &RunQueue{
		run:     run,
		logger:  log,
		wake:    make(chan struct{}, 1),
		results: make(chan error, 16),
	}
}

// Start begins processing requests until ctx is done or Stop is called
func (q *RunQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go q.processQueue(ctx)
}

// Stop cancels the active run and waits for the processor to exit
func (q *RunQueue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Trigger requests a run. It reports false when the request was merged into
// one already pending.
func (q *RunQueue) Trigger(reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending != nil {
		q.logger.Debug("Run already pending, merging trigger", logger.WithField("reason", reason))
		return false
	}

	q.pending = &RunRequest{
		ID:        uuid.NewString(),
		Reason:    reason,
		Timestamp: time.Now(),
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Results delivers the outcome of every completed run
func (q *RunQueue) Results() <-chan error {
	return q.results
}

// Status returns whether a run is active and whether one is pending
func (q *RunQueue) Status() (active, pending bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != nil, q.pending != nil
}

func (q *RunQueue) processQueue(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			q.processNext(ctx)
		}
	}
}

func (q *RunQueue) processNext(ctx context.Context) {
	q.mu.Lock()
	req := q.pending
	q.pending = nil
	q.active = req
	q.mu.Unlock()

	if req == nil {
		return
	}

	q.logger.Info(fmt.Sprintf("Starting run (%s)", req.Reason), logger.WithField("id", req.ID))
	err := q.safeRun(ctx, *req)

	q.mu.Lock()
	q.active = nil
	q.mu.Unlock()

	select {
	case q.results <- err:
	default:
		q.logger.Debug("Dropping run result, nobody is listening")
	}
}

func (q *RunQueue) safeRun(ctx context.Context, req RunRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Run panic recovered", logger.WithField("panic", r))
			err = fmt.Errorf("run panic: %v", r)
		}
	}()
	return q.run(ctx, req)
}
