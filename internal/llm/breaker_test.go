package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/hession/toolgate/internal/config"
)

type failingCompleter struct {
	calls int
	err   error
}

func (f *failingCompleter) Complete(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ok", nil
}

func TestBreaker_PassThrough(t *testing.T) {
	inner := &failingCompleter{}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 2}, nil)

	text, err := b.Complete(context.Background(), []Message{User("x")})
	if err != nil || text != "ok" {
		t.Fatalf("Complete = %q, %v", text, err)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("state = %v", b.State())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	upstream := &APIError{StatusCode: 500, Message: "boom"}
	inner := &failingCompleter{err: upstream}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 2, OpenSeconds: 60}, nil)

	for i := 0; i < 2; i++ {
		_, err := b.Complete(context.Background(), nil)
		if !errors.Is(err, upstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	_, err := b.Complete(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected APIError wrapping ErrOpenState, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("open breaker should not reach upstream, calls = %d", inner.calls)
	}
}

func TestBreaker_IgnoresCancellation(t *testing.T) {
	inner := &failingCompleter{err: context.Canceled}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 1}, nil)

	for i := 0; i < 3; i++ {
		b.Complete(context.Background(), nil)
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("cancellations should not trip the breaker, state = %v", b.State())
	}
}

func TestBreaker_IgnoresMissingAPIKey(t *testing.T) {
	inner := &failingCompleter{err: &APIError{Message: "API key not configured", Err: ErrNoAPIKey}}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 2}, nil)

	for i := 0; i < 6; i++ {
		_, err := b.Complete(context.Background(), nil)
		if !errors.Is(err, ErrNoAPIKey) {
			t.Fatalf("call %d: expected ErrNoAPIKey, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateClosed {
		t.Errorf("missing key should not trip the breaker, state = %v", b.State())
	}
	if inner.calls != 6 {
		t.Errorf("calls = %d, want 6", inner.calls)
	}
}
