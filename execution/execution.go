package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// ProgressFunc receives progress reports from an engine.
type ProgressFunc func(progress int)

// Engine performs one generation. It should honor ctx, but the adapter
// does not rely on it.
type Engine interface {
	Generate(ctx context.Context, j *job.Job, report ProgressFunc) (json.RawMessage, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, j *job.Job, report ProgressFunc) (json.RawMessage, error)

// Generate calls f.
func (f EngineFunc) Generate(ctx context.Context, j *job.Job, report ProgressFunc) (json.RawMessage, error) {
	return f(ctx, j, report)
}

// ProgressSink persists and broadcasts accepted progress values.
type ProgressSink interface {
	RecordProgress(ctx context.Context, jobID id.JobID, progress int)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithProgressSink sets where accepted progress values go.
func WithProgressSink(s ProgressSink) Option {
	return func(a *Adapter) { a.sink = s }
}

// WithDefaultTimeout sets the limit used for jobs that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.defaultTimeout = d }
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter runs jobs against an Engine.
type Adapter struct {
	engine         Engine
	sink           ProgressSink
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewAdapter creates an Adapter for engine.
func NewAdapter(engine Engine, opts ...Option) *Adapter {
	a := &Adapter{
		engine:         engine,
		defaultTimeout: genqueue.DefaultConfig().JobTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type outcome struct {
	result json.RawMessage
	err    error
}

// Execute runs j and returns its result. Failures are always
// *genqueue.ExecutionError: KindTimeout when the job limit expires,
// KindInterrupted when ctx is cancelled, KindEngine otherwise.
func (a *Adapter) Execute(ctx context.Context, j *job.Job) (json.RawMessage, error) {
	limit := j.Timeout
	if limit <= 0 {
		limit = a.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	guard := &progressGuard{last: j.Progress}
	report := func(p int) {
		p, ok := guard.accept(p)
		if !ok || a.sink == nil {
			return
		}
		a.sink.RecordProgress(ctx, j.ID, p)
	}
	defer guard.close()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("engine panicked: %v", r)}
			}
		}()
		res, err := a.engine.Generate(runCtx, j.Clone(), report)
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.result, nil
		}
		return nil, a.classify(ctx, runCtx, limit, o.err)
	case <-runCtx.Done():
		guard.close()
		err := a.classify(ctx, runCtx, limit, runCtx.Err())
		a.logger.Warn("abandoning engine call",
			slog.String("job_id", j.ID.String()),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}
}

func (a *Adapter) classify(parent, runCtx context.Context, limit time.Duration, err error) *genqueue.ExecutionError {
	switch {
	case parent.Err() != nil:
		return genqueue.NewExecutionError(genqueue.KindInterrupted, fmt.Errorf("job interrupted: %w", parent.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return genqueue.Timeout(limit)
	}
	var ee *genqueue.ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return genqueue.NewExecutionError(genqueue.KindEngine, err)
}

// progressGuard filters reports to clamped, strictly increasing values and
// drops everything after close.
type progressGuard struct {
	mu     sync.Mutex
	last   int
	closed bool
}

func (g *progressGuard) accept(p int) (int, bool) {
	p = job.ClampProgress(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || p <= g.last {
		return 0, false
	}
	g.last = p
	return p, true
}

func (g *progressGuard) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
