package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures a Guard.
type Config struct {
	RatePerSecond    float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Burst            int           `mapstructure:"burst" yaml:"burst"`
	Attempts         int           `mapstructure:"attempts" yaml:"attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// Guard wraps calls to one collaborator with a rate limiter, retries and a
// circuit breaker. It is safe for concurrent use.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *Breaker
	backoff Backoff
}

// NewGuard builds a Guard for the named collaborator. A non-positive rate
// disables limiting.
func NewGuard(name string, cfg Config) *Guard {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	b := DefaultBackoff()
	if cfg.Attempts > 0 {
		b.Attempts = cfg.Attempts
	}
	if cfg.InitialBackoff > 0 {
		b.Initial = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		b.Max = cfg.MaxBackoff
	}
	b.OnRetry = func(attempt int, err error) {
		zap.L().Warn("retrying collaborator call",
			zap.String("collaborator", name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return &Guard{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		breaker: NewBreaker(cfg.FailureThreshold, cfg.Cooldown),
		backoff: b,
	}
}

// State returns the breaker state.
func (g *Guard) State() State {
	return g.breaker.State()
}

// Call runs fn under g. Every attempt waits for the limiter and is recorded
// by the breaker; an open breaker fails fast with ErrOpen.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	return Retry(ctx, g.backoff, func(ctx context.Context) (T, error) {
		var zero T
		if err := g.breaker.Allow(); err != nil {
			return zero, eris.Wrapf(err, "%s", g.name)
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "%s: rate limit wait", g.name)
		}
		val, err := fn(ctx)
		g.breaker.Record(err)
		return val, err
	})
}
