package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/auth"
	"github.com/xraph/genqueue/execution"
	"github.com/xraph/genqueue/execution/simulated"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	mw "github.com/xraph/genqueue/middleware"
	"github.com/xraph/genqueue/observability"
	"github.com/xraph/genqueue/queue"
	"github.com/xraph/genqueue/stream"
	"github.com/xraph/genqueue/worker"
)

const instrumentationName = "github.com/xraph/genqueue"

// Engine is the fully-wired generation queue. It owns the worker pool,
// the execution adapter, the extension registry and the event broker.
type Engine struct {
	d          *genqueue.Dispatcher
	extensions *ext.Registry
	broker     *stream.Broker
	pool       *worker.Pool
	jobStore   job.Store
	generator  execution.Engine
	limiter    *queue.Limiter
	mws        []mw.Middleware
	logger     *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures the Engine.
type Option func(*Engine)

// WithEngine sets the generation engine. The simulated engine is used
// when none is given.
func WithEngine(g execution.Engine) Option {
	return func(eng *Engine) { eng.generator = g }
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(x) }
}

// WithMiddleware adds middleware to the execution chain. User middleware
// runs inside the built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithLimiter enables per-owner admission limits.
func WithLimiter(l *queue.Limiter) Option {
	return func(eng *Engine) { eng.limiter = l }
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// When not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// When not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build constructs an Engine from a Dispatcher. The Dispatcher's store
// must implement job.Store.
func Build(d *genqueue.Dispatcher, opts ...Option) (*Engine, error) {
	if d.Store() == nil {
		return nil, genqueue.ErrNoStore
	}
	js, ok := d.Store().(job.Store)
	if !ok {
		return nil, errors.New("genqueue: store does not implement job.Store")
	}

	logger := d.Logger()
	eng := &Engine{
		d:          d,
		extensions: ext.NewRegistry(logger),
		broker:     stream.NewBroker(logger),
		jobStore:   js,
		logger:     logger,
	}
	eng.extensions.Register(eng.broker)

	for _, opt := range opts {
		opt(eng)
	}
	if eng.generator == nil {
		eng.generator = simulated.New()
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → user middleware.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	cfg := d.Config()
	recorder := worker.NewProgressRecorder(js, eng.extensions, logger)
	adapter := execution.NewAdapter(eng.generator,
		execution.WithProgressSink(recorder),
		execution.WithDefaultTimeout(cfg.JobTimeout),
		execution.WithLogger(logger),
	)
	executor := worker.NewExecutor(adapter, eng.extensions, js, logger, allMws...)

	poolOpts := []worker.PoolOption{worker.WithMaxConcurrent(cfg.MaxConcurrent)}
	if eng.limiter != nil {
		poolOpts = append(poolOpts, worker.WithLimiter(eng.limiter))
	}
	eng.pool = worker.NewPool(js, executor, eng.extensions, logger, poolOpts...)

	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)

	return eng, nil
}

// QueueStats is a live snapshot of job counts by state.
type QueueStats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

// DefaultPriority is the priority callers should use when a submission
// does not name one.
func (eng *Engine) DefaultPriority() int { return eng.d.Config().DefaultPriority }

// Submit validates payload and enqueues a new job for owner. Any priority
// is accepted; lower values dispatch first.
func (eng *Engine) Submit(ctx context.Context, payload json.RawMessage, owner string, priority int) (id.JobID, error) {
	if err := job.ValidatePayload(payload); err != nil {
		return id.Nil, err
	}
	cfg := eng.d.Config()
	if owner == "" {
		owner = auth.AnonymousSubject
	}

	j := job.New(owner, payload, priority, cfg.JobTimeout, time.Now())
	if err := eng.pool.Enqueue(ctx, j); err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// GetJob returns the client view of a job owned by owner. An empty owner
// reads any job.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID, owner string) (job.View, error) {
	j, err := eng.authorize(ctx, jobID, owner)
	if err != nil {
		return job.View{}, err
	}
	return j.ToView(), nil
}

// Cancel cancels a queued job owned by owner. An empty owner may cancel
// any job.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, owner string) error {
	if _, err := eng.authorize(ctx, jobID, owner); err != nil {
		return err
	}
	_, err := eng.pool.Cancel(ctx, jobID)
	return err
}

// QueueStats counts jobs by state from a single store snapshot, so Total
// always equals the number of stored jobs.
func (eng *Engine) QueueStats(ctx context.Context) (QueueStats, error) {
	counts, err := eng.jobStore.CountByState(ctx)
	if err != nil {
		return QueueStats{}, fmt.Errorf("count jobs: %w", err)
	}
	stats := QueueStats{
		Pending:   counts[job.StateQueued],
		Running:   counts[job.StateRunning],
		Completed: counts[job.StateCompleted],
		Failed:    counts[job.StateFailed],
	}
	stats.Total = stats.Pending + stats.Running + stats.Completed + stats.Failed
	return stats, nil
}

// WorkerStats reports slot usage of the pool.
func (eng *Engine) WorkerStats() worker.Stats { return eng.pool.Stats() }

// Ping checks the backing store.
func (eng *Engine) Ping(ctx context.Context) error { return eng.d.Store().Ping(ctx) }

// Start recovers stored jobs and begins dispatching.
func (eng *Engine) Start(ctx context.Context) error { return eng.d.Start(ctx) }

// Stop stops dispatching, waits for running jobs until ctx expires and
// closes the store.
func (eng *Engine) Stop(ctx context.Context) error { return eng.d.Stop(ctx) }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Broker returns the lifecycle event broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *genqueue.Dispatcher { return eng.d }

// authorize loads a job and checks that owner may see it. An empty owner
// means the caller was not verified and skips the check.
func (eng *Engine) authorize(ctx context.Context, jobID id.JobID, owner string) (*job.Job, error) {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return j, nil
	}
	if j.Owner != owner {
		return nil, fmt.Errorf("%w: job %s belongs to another owner", genqueue.ErrForbidden, jobID)
	}
	return j, nil
}
