// Package api exposes the generation queue over HTTP with gin.
//
// Routes:
//
//	POST   /jobs             submit a job
//	GET    /jobs/:id         job status
//	DELETE /jobs/:id         cancel a queued job
//	GET    /jobs/:id/watch   WebSocket stream of lifecycle events
//	GET    /stats/queue      job counts by state
//	GET    /stats/workers    slot usage
//	GET    /health           liveness
//	GET    /health/detailed  worker, queue and store snapshot
//	GET    /                 service info
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/xraph/genqueue/auth"
	"github.com/xraph/genqueue/engine"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "genqueue"

// API wires the HTTP handlers to an Engine.
type API struct {
	eng         *engine.Engine
	verifier    auth.Verifier
	logger      *slog.Logger
	corsOrigins []string
	version     string
	started     time.Time
}

// Option configures the API.
type Option func(*API)

// WithVerifier sets the identity verifier. Without one every caller is
// the anonymous principal.
func WithVerifier(v auth.Verifier) Option {
	return func(a *API) { a.verifier = v }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithCORSOrigins restricts cross-origin requests to origins. "*" allows
// any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// New creates an API for eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:      eng,
		verifier: auth.Anonymous{},
		logger:   slog.Default(),
		version:  "dev",
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns a gin engine with all routes registered.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))
	if len(a.corsOrigins) > 0 {
		r.Use(cors.New(a.corsConfig()))
	}
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all routes on r.
func (a *API) RegisterRoutes(r gin.IRouter) {
	r.GET("/", a.serviceInfo)
	r.GET("/health", a.health)
	r.GET("/health/detailed", a.healthDetailed)

	jobs := r.Group("/jobs", a.authenticate())
	{
		jobs.POST("", a.submitJob)
		jobs.GET("/:id", a.getJob)
		jobs.DELETE("/:id", a.cancelJob)
		jobs.GET("/:id/watch", a.watchJob)
	}

	stats := r.Group("/stats")
	{
		stats.GET("/queue", a.queueStats)
		stats.GET("/workers", a.workerStats)
	}
}

func (a *API) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	for _, o := range a.corsOrigins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = a.corsOrigins
	cfg.AllowCredentials = true
	return cfg
}
