package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/api"
	audithook "github.com/xraph/genqueue/audit_hook"
	"github.com/xraph/genqueue/engine"
	"github.com/xraph/genqueue/execution"
	"github.com/xraph/genqueue/execution/comfy"
	"github.com/xraph/genqueue/execution/simulated"
	natshook "github.com/xraph/genqueue/nats_hook"
	"github.com/xraph/genqueue/queue"
	"github.com/xraph/genqueue/store/memory"
	redisstore "github.com/xraph/genqueue/store/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and worker pool",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(os.Getenv)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		return serve(cmd.Context(), cfg, cfg.logger(os.Stderr))
	},
}

// closer releases a resource opened for the server.
type closer func()

// serve runs until ctx is cancelled, then drains within ShutdownTimeout.
func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	d, err := genqueue.New(
		genqueue.WithStore(store),
		genqueue.WithMaxConcurrent(cfg.MaxConcurrent),
		genqueue.WithJobTimeout(cfg.JobTimeout),
		genqueue.WithShutdownTimeout(cfg.ShutdownTimeout),
		genqueue.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	opts := []engine.Option{engine.WithEngine(newGenerator(cfg, logger))}
	if oc, ok := cfg.ownerLimits(); ok {
		opts = append(opts, engine.WithLimiter(queue.NewLimiter(oc)))
	}
	if cfg.NATSURL != "" {
		nc, natsErr := natshook.Connect(cfg.NATSURL,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", slog.String("error", err.Error()))
				}
			}),
		)
		if natsErr != nil {
			return natsErr
		}
		closers = append(closers, nc.Close)
		opts = append(opts, engine.WithExtension(natshook.New(nc, natshook.WithSubjectPrefix(cfg.NATSSubjectPrefix))))
	}
	if cfg.AuditLog {
		opts = append(opts, engine.WithExtension(audithook.New(audithook.NewSlogRecorder(logger), audithook.WithLogger(logger))))
	}

	eng, err := engine.Build(d, opts...)
	if err != nil {
		return err
	}

	verifier, err := cfg.verifier()
	if err != nil {
		return err
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.New(eng,
		api.WithVerifier(verifier),
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.CORSOrigins...),
		api.WithVersion(version),
	).Handler()

	srv := &http.Server{
		Addr:              cfg.addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	logger.Info("genqueue listening",
		slog.String("addr", srv.Addr),
		slog.String("version", version),
		slog.Int("max_concurrent", cfg.MaxConcurrent),
		slog.Duration("job_timeout", cfg.JobTimeout),
		slog.String("store", cfg.Store),
		slog.String("engine", cfg.Engine),
		slog.String("auth", cfg.AuthMode),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), eng.Stop(shutdownCtx))
	})
	return g.Wait()
}

// openStore returns the job store selected by STORE and a func that
// releases its connection.
func openStore(ctx context.Context, cfg config, logger *slog.Logger) (genqueue.Storer, closer, error) {
	if cfg.Store != "redis" {
		return memory.New(), func() {}, nil
	}

	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	rdb := goredis.NewClient(opts)
	s := redisstore.New(rdb, redisstore.WithLogger(logger))
	if err := s.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, func() { _ = rdb.Close() }, nil
}

func newGenerator(cfg config, logger *slog.Logger) execution.Engine {
	if cfg.Engine == "comfy" {
		return comfy.New(cfg.ComfyURL, comfy.WithLogger(logger))
	}
	return simulated.New()
}
