package queue

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/xraph/genqueue"
)

// OwnerConfig defines admission limits for one owner.
type OwnerConfig struct {
	// Owner is the principal the limits apply to. Ignored for the
	// default config.
	Owner string

	// RateLimit is the maximum sustained submissions per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxPending caps how many of the owner's jobs may be queued at once.
	// Zero means no cap.
	MaxPending int
}

func (c OwnerConfig) enabled() bool {
	return c.RateLimit > 0 || c.MaxPending > 0
}

// ownerState tracks runtime state for a single owner.
type ownerState struct {
	config  OwnerConfig
	limiter *rate.Limiter
	pending int
}

// Limiter enforces per-owner submission limits at admission time.
// Owners without a specific config fall back to the default config.
// It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	defaults OwnerConfig
	configs  map[string]OwnerConfig
	owners   map[string]*ownerState
}

// NewLimiter creates a Limiter. A zero defaults value means owners without
// an override are unlimited.
func NewLimiter(defaults OwnerConfig, overrides ...OwnerConfig) *Limiter {
	l := &Limiter{
		defaults: defaults,
		configs:  make(map[string]OwnerConfig, len(overrides)),
		owners:   make(map[string]*ownerState),
	}
	for _, cfg := range overrides {
		l.configs[cfg.Owner] = cfg
	}
	return l
}

func newOwnerState(cfg OwnerConfig) *ownerState {
	s := &ownerState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s
}

func (l *Limiter) state(owner string) *ownerState {
	if s := l.owners[owner]; s != nil {
		return s
	}
	cfg, ok := l.configs[owner]
	if !ok {
		cfg = l.defaults
		cfg.Owner = owner
	}
	if !cfg.enabled() {
		return nil
	}
	s := newOwnerState(cfg)
	l.owners[owner] = s
	return s
}

// Admit checks the owner's limits for one more queued job. On success the
// owner's pending count is incremented and the caller must call Release
// once the job leaves the queue.
func (l *Limiter) Admit(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state(owner)
	if s == nil {
		return nil
	}
	if s.config.MaxPending > 0 && s.pending >= s.config.MaxPending {
		return fmt.Errorf("%w: owner %q has %d queued jobs", genqueue.ErrRateLimited, owner, s.pending)
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return fmt.Errorf("%w: owner %q exceeded %.2f submissions/s", genqueue.ErrRateLimited, owner, s.config.RateLimit)
	}
	s.pending++
	return nil
}

// Reserve counts one more queued job for owner without checking limits.
// It is used when jobs are restored from the store at startup.
func (l *Limiter) Reserve(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s := l.state(owner); s != nil {
		s.pending++
	}
}

// Release decrements the owner's pending count.
func (l *Limiter) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s := l.owners[owner]; s != nil && s.pending > 0 {
		s.pending--
	}
}

// PendingCount returns the tracked number of queued jobs for an owner.
// Owners without limits are not tracked and report zero.
func (l *Limiter) PendingCount(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s := l.owners[owner]; s != nil {
		return s.pending
	}
	return 0
}
