package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/mtzanidakis/warroom/internal/config"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// Breaker wraps a Backend with a circuit breaker. Once the provider keeps
// failing, calls fail fast with ErrUnavailable until the breaker half-opens.
type Breaker struct {
	inner   Backend
	breaker *gobreaker.CircuitBreaker[*Response]
}

func NewBreaker(inner Backend, cfg config.BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "backend:" + Identity(inner),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// a throttled provider or a cancelled caller says nothing about health
			return err == nil ||
				errors.Is(err, ErrRateLimited) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

func (b *Breaker) Provider() string { return b.inner.Provider() }
func (b *Breaker) Model() string    { return b.inner.Model() }

func (b *Breaker) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := b.breaker.Execute(func() (*Response, error) {
		return b.inner.Generate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s circuit open: %v", ErrUnavailable, Identity(b.inner), err)
		}
		return nil, err
	}
	return resp, nil
}

func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}
