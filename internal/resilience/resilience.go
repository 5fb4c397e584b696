// Package resilience wraps collaborator calls with exponential-backoff retry
// behind per-name circuit breakers.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/vinayprograms/agentkit/logging"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit open")

// Config configures retry and breaker behavior.
type Config struct {
	InitialInterval time.Duration // default 100ms
	MaxInterval     time.Duration // default 10s
	MaxElapsedTime  time.Duration // default 30s
	MaxRetries      int           // 0 means bounded only by MaxElapsedTime

	BreakerFailures int           // consecutive failures that open the breaker, default 5
	BreakerTimeout  time.Duration // how long the breaker stays open, default 30s
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
		MaxRetries:      3,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = d.MaxElapsedTime
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Registry holds one circuit breaker per collaborator name.
type Registry struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		logger:   logging.New().WithComponent("resilience"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Config returns the registry configuration.
func (r *Registry) Config() Config { return r.cfg }

// Breaker returns the breaker for name, creating it on first use.
func (r *Registry) Breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	failures := uint32(r.cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     r.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cancellation and permanent errors are the caller's problem.
			var perm *backoff.PermanentError
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &perm)
		},
	})
	r.breakers[name] = cb
	return cb
}

// State returns the breaker state for name.
func (r *Registry) State(name string) gobreaker.State {
	return r.Breaker(name).State()
}

// Do calls fn through the breaker for name, retrying transient errors.
func Do[T any](ctx context.Context, r *Registry, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	cb := r.Breaker(name)
	cfg := r.cfg

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		res, err := cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("%s: %w", name, ErrCircuitOpen))
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out, _ = res.(T)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = cfg.MaxElapsedTime

	var b backoff.BackOff = policy
	if cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}

	attempt := 0
	notify := func(err error, wait time.Duration) {
		attempt++
		r.logger.Debug("retrying", map[string]interface{}{
			"name":    name,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		})
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
	return out, err
}
