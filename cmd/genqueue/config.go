package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/auth"
	"github.com/xraph/genqueue/queue"
)

// config is the server configuration read from the environment.
type config struct {
	Host string
	Port string

	MaxConcurrent   int
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration

	Store    string
	RedisURL string

	AuthMode    string
	JWTSecret   string
	APIKeys     string
	CORSOrigins []string

	Engine   string
	ComfyURL string

	NATSURL           string
	NATSSubjectPrefix string

	OwnerRateLimit  float64
	OwnerRateBurst  int
	OwnerMaxPending int

	LogLevel  string
	LogFormat string
	AuditLog  bool
}

// loadConfig reads the configuration through getenv and validates it.
func loadConfig(getenv func(string) string) (config, error) {
	defaults := genqueue.DefaultConfig()
	e := envReader{getenv: getenv}

	cfg := config{
		Host:              e.str("HOST", "0.0.0.0"),
		Port:              e.str("PORT", "8000"),
		MaxConcurrent:     e.integer("MAX_CONCURRENT_JOBS", defaults.MaxConcurrent),
		JobTimeout:        e.duration("JOB_TIMEOUT", defaults.JobTimeout),
		ShutdownTimeout:   e.duration("SHUTDOWN_TIMEOUT", defaults.ShutdownTimeout),
		Store:             strings.ToLower(e.str("STORE", "memory")),
		RedisURL:          e.str("REDIS_URL", "redis://localhost:6379/0"),
		AuthMode:          strings.ToLower(e.str("AUTH_MODE", "none")),
		JWTSecret:         e.str("JWT_SECRET", ""),
		APIKeys:           e.str("API_KEYS", ""),
		CORSOrigins:       e.list("CORS_ORIGINS"),
		Engine:            strings.ToLower(e.str("ENGINE", "simulated")),
		ComfyURL:          e.str("COMFYUI_URL", "http://localhost:8188"),
		NATSURL:           e.str("NATS_URL", ""),
		NATSSubjectPrefix: e.str("NATS_SUBJECT_PREFIX", "genqueue"),
		OwnerRateLimit:    e.number("OWNER_RATE_LIMIT", 0),
		OwnerRateBurst:    e.integer("OWNER_RATE_BURST", 0),
		OwnerMaxPending:   e.integer("OWNER_MAX_PENDING", 0),
		LogLevel:          e.str("LOG_LEVEL", "info"),
		LogFormat:         strings.ToLower(e.str("LOG_FORMAT", "text")),
		AuditLog:          e.boolean("AUDIT_LOG", false),
	}
	if len(e.errs) > 0 {
		return config{}, errors.Join(e.errs...)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_JOBS must be at least 1"))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, errors.New("JOB_TIMEOUT must be positive"))
	}
	switch c.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("STORE must be memory or redis, got %q", c.Store))
	}
	switch c.AuthMode {
	case "none":
	case "jwt":
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when AUTH_MODE=jwt"))
		}
	case "apikey":
		if _, err := auth.ParseAPIKeys(c.APIKeys); err != nil || c.APIKeys == "" {
			errs = append(errs, errors.New("API_KEYS must list token:subject pairs when AUTH_MODE=apikey"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be none, jwt or apikey, got %q", c.AuthMode))
	}
	switch c.Engine {
	case "simulated", "comfy":
	default:
		errs = append(errs, fmt.Errorf("ENGINE must be simulated or comfy, got %q", c.Engine))
	}
	for _, o := range c.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("CORS_ORIGINS entry %q must be * or an http(s) origin", o))
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// addr is the listen address.
func (c config) addr() string { return net.JoinHostPort(c.Host, c.Port) }

// ownerLimits returns the per-owner admission limits, or false when none
// are configured.
func (c config) ownerLimits() (queue.OwnerConfig, bool) {
	oc := queue.OwnerConfig{
		RateLimit:  c.OwnerRateLimit,
		RateBurst:  c.OwnerRateBurst,
		MaxPending: c.OwnerMaxPending,
	}
	return oc, oc.RateLimit > 0 || oc.MaxPending > 0
}

// verifier builds the identity verifier for AUTH_MODE.
func (c config) verifier() (auth.Verifier, error) {
	switch c.AuthMode {
	case "jwt":
		return auth.NewJWT([]byte(c.JWTSecret)), nil
	case "apikey":
		entries, err := auth.ParseAPIKeys(c.APIKeys)
		if err != nil {
			return nil, err
		}
		return auth.NewAPIKeys(entries...), nil
	default:
		return auth.Anonymous{}, nil
	}
}

func (c config) logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel) //nolint:errcheck // validated by loadConfig
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

// envReader collects parse errors so every bad variable is reported at
// once.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) number(key string, def float64) float64 {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts whole seconds ("300") or a Go duration ("5m").
func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.str(key, ""), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
