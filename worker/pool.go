package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/queue"
)

// interruptedReason is recorded on jobs found Running at startup.
const interruptedReason = "job interrupted by service restart"

// Stats is a snapshot of worker slot usage.
type Stats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Idle    int `json:"idle"`
}

// Pool owns the pending sequence and the running set. A single dispatch
// goroutine moves jobs from one to the other whenever it is signalled;
// admission, cancellation, dispatch and completion all serialize on mu.
type Pool struct {
	store         job.Store
	executor      *Executor
	extensions    *ext.Registry
	limiter       *queue.Limiter
	maxConcurrent int
	workerID      id.WorkerID
	logger        *slog.Logger

	mu       sync.Mutex
	pending  *queue.Pending
	running  map[id.JobID]context.CancelFunc
	started  bool
	stopped  bool
	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxConcurrent sets how many jobs may run at once.
func WithMaxConcurrent(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.maxConcurrent = n
		}
	}
}

// WithLimiter enables per-owner admission limits.
func WithLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:         store,
		executor:      executor,
		extensions:    extensions,
		maxConcurrent: genqueue.DefaultConfig().MaxConcurrent,
		workerID:      id.NewWorkerID(),
		logger:        logger,
		pending:       queue.NewPending(),
		running:       make(map[id.JobID]context.CancelFunc),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// MaxConcurrent returns the slot count.
func (p *Pool) MaxConcurrent() int { return p.maxConcurrent }

// Enqueue persists j, which must be Queued, and appends it to the pending
// sequence. It never blocks on capacity. Jobs enqueued before Start wait
// until the pool starts.
func (p *Pool) Enqueue(ctx context.Context, j *job.Job) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("%w: pool stopped", genqueue.ErrNotStarted)
	}
	if p.limiter != nil {
		if err := p.limiter.Admit(j.Owner); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if err := p.store.CreateJob(ctx, j); err != nil {
		p.release(j.Owner)
		p.mu.Unlock()
		return fmt.Errorf("enqueue job: %w", err)
	}
	// Emit before the id becomes visible to dispatch so JobEnqueued always
	// precedes JobStarted.
	p.extensions.EmitJobEnqueued(ctx, j)
	p.pending.Push(j.ID, j.Priority)
	p.mu.Unlock()

	p.notify()
	return nil
}

// Cancel fails a Queued job with the cancellation reason and drops it
// from the pending sequence. Running or terminal jobs yield
// ErrInvalidState.
func (p *Pool) Cancel(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	p.mu.Lock()
	updated, err := p.store.UpdateJob(ctx, jobID, func(cur *job.Job) error {
		return cur.Cancel(time.Now().UTC())
	})
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.pending.Remove(jobID) {
		p.release(updated.Owner)
	}
	p.mu.Unlock()

	p.extensions.EmitJobCancelled(ctx, updated)
	p.logger.Info("job cancelled",
		slog.String("job_id", jobID.String()),
		slog.String("owner", updated.Owner),
	)
	return updated, nil
}

// Start restores jobs left in the store and launches the dispatch
// goroutine. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	if p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("%w: pool stopped", genqueue.ErrNotStarted)
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("max_concurrent", p.maxConcurrent),
	)

	if err := p.recoverJobs(ctx); err != nil {
		return err
	}

	go p.dispatchLoop()
	p.notify()
	return nil
}

// Stop halts dispatching and waits for running jobs. When ctx expires
// first, running jobs are cancelled and fail as interrupted.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)
	<-p.loopDone

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running jobs")
		p.cancelRunning()
		<-done
	}
	return nil
}

// PendingLen returns the number of queued job IDs.
func (p *Pool) PendingLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// Stats returns current slot usage.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	running := len(p.running)
	p.mu.Unlock()
	return Stats{
		Total:   p.maxConcurrent,
		Running: running,
		Idle:    p.maxConcurrent - running,
	}
}

// notify wakes the dispatcher. Signals coalesce.
func (p *Pool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) dispatchLoop() {
	defer close(p.loopDone)
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.wake:
			p.dispatch()
		}
	}
}

// dispatch starts queued jobs while slots are free.
func (p *Pool) dispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.stopped && len(p.running) < p.maxConcurrent {
		jobID, ok := p.pending.Pop()
		if !ok {
			return
		}

		j, err := p.store.UpdateJob(context.Background(), jobID, func(cur *job.Job) error {
			return cur.Start(time.Now().UTC())
		})
		if err != nil {
			p.logger.Error("failed to start job",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			if cur, getErr := p.store.GetJob(context.Background(), jobID); getErr == nil {
				p.release(cur.Owner)
			}
			continue
		}
		p.release(j.Owner)

		ctx, cancel := context.WithCancel(context.Background())
		p.running[j.ID] = cancel
		p.wg.Add(1)
		go p.run(ctx, cancel, j)
	}
}

func (p *Pool) run(ctx context.Context, cancel context.CancelFunc, j *job.Job) {
	defer p.wg.Done()
	defer cancel()

	p.extensions.EmitJobStarted(ctx, j)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.mu.Lock()
	delete(p.running, j.ID)
	p.mu.Unlock()
	p.notify()
}

// recoverJobs fails jobs a previous process left Running and re-queues
// jobs it left Queued, in (priority, CreatedAt) order.
func (p *Pool) recoverJobs(ctx context.Context) error {
	stale, err := p.store.ListJobsByState(ctx, job.StateRunning, job.ListOpts{})
	if err != nil {
		return fmt.Errorf("recover running jobs: %w", err)
	}
	for _, j := range stale {
		updated, updateErr := p.store.UpdateJob(ctx, j.ID, func(cur *job.Job) error {
			return cur.Fail(job.FailureInterrupted, interruptedReason, time.Now().UTC())
		})
		if updateErr != nil {
			p.logger.Error("recover: failed to fail interrupted job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}
		p.extensions.EmitJobFailed(ctx, updated, genqueue.NewExecutionError(genqueue.KindInterrupted, errors.New(interruptedReason)))
		p.logger.Warn("failed interrupted job", slog.String("job_id", j.ID.String()))
	}

	queued, err := p.store.ListJobsByState(ctx, job.StateQueued, job.ListOpts{})
	if err != nil {
		return fmt.Errorf("recover queued jobs: %w", err)
	}

	restored := 0
	p.mu.Lock()
	for _, j := range queued {
		if p.pending.Contains(j.ID) {
			continue
		}
		if p.limiter != nil {
			p.limiter.Reserve(j.Owner)
		}
		p.pending.Push(j.ID, j.Priority)
		restored++
	}
	p.mu.Unlock()

	if restored > 0 {
		p.logger.Info("restored queued jobs", slog.Int("count", restored))
	}
	return nil
}

// release must be called with mu held.
func (p *Pool) release(owner string) {
	if p.limiter != nil {
		p.limiter.Release(owner)
	}
}

func (p *Pool) cancelRunning() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for jobID, cancel := range p.running {
		p.logger.Warn("cancelling running job", slog.String("job_id", jobID.String()))
		cancel()
	}
}
