package genqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher.
// It covers lifecycle operations only; the engine package asserts the
// full job.Store contract.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Dispatcher is the central holder of configuration, logger, and store.
//
// Create one with New() and functional options, then hand it to
// engine.Build which wires the worker pool, execution adapter, and
// extensions around it.
type Dispatcher struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// SetPool sets the worker pool (called by the engine package).
func (d *Dispatcher) SetPool(p poolRunner) { d.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (d *Dispatcher) SetExtensions(e extensionEmitter) { d.extensions = e }

// Start begins job processing.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.pool == nil {
		return ErrNoStore
	}
	if err := d.pool.Start(ctx); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down the dispatcher. Running jobs get until ctx
// expires to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.pool != nil && d.started {
		if err := d.pool.Stop(ctx); err != nil {
			d.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		d.started = false
	}
	if d.extensions != nil {
		d.extensions.EmitShutdown(ctx)
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithMaxConcurrent sets the ceiling on concurrently executing jobs.
func WithMaxConcurrent(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			return errors.New("genqueue: max concurrent must be at least 1")
		}
		d.config.MaxConcurrent = n
		return nil
	}
}

// WithJobTimeout sets the per-job wall clock limit.
func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		if t <= 0 {
			return errors.New("genqueue: job timeout must be positive")
		}
		d.config.JobTimeout = t
		return nil
	}
}

// WithDefaultPriority sets the priority used when a submission omits one.
func WithDefaultPriority(p int) Option {
	return func(d *Dispatcher) error {
		d.config.DefaultPriority = p
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for running jobs when
// called through the binary.
func WithShutdownTimeout(t time.Duration) Option {
	return func(d *Dispatcher) error {
		d.config.ShutdownTimeout = t
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		if cfg.MaxConcurrent < 1 || cfg.JobTimeout <= 0 {
			return errors.New("genqueue: invalid config")
		}
		d.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; engine.Build additionally
// requires job.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
