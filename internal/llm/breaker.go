package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hession/toolgate/internal/config"
	"github.com/hession/toolgate/internal/logger"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Breaker wraps a Completer with a circuit breaker. While open, calls fail
// fast with an *APIError wrapping gobreaker.ErrOpenState.
type Breaker struct {
	inner   Completer
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps inner. Zero config values fall back to defaults.
func NewBreaker(inner Completer, cfg config.BreakerConfig, log *slog.Logger) *Breaker {
	log = logger.OrDefault(log)

	maxFailures := uint32(cfg.MaxFailures)
	if cfg.MaxFailures <= 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := time.Duration(cfg.OpenSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultCBTimeout
	}
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Cancelled callers and a missing key say nothing about upstream health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNoAPIKey)
		},
	})

	return &Breaker{inner: inner, breaker: cb}
}

// Complete implements Completer.
func (b *Breaker) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	text, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Complete(ctx, messages, opts...)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &APIError{Message: "model service temporarily unavailable", Err: err}
	}
	return text, err
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

var _ Completer = (*Breaker)(nil)
