// Package circuitbreak provides a thin gobreaker wrapper used by the LLM
// client (the shopping client has no breaker) so a flaky upstream stops
// absorbing worker slots once it is clearly down, instead of every task re-discovering the
// same timeout.
package circuitbreak

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New constructs a breaker that opens after failureRatio of the last
// minimum-sample requests fail, and probes again after resetTimeout.
func New(name string, failureRatio float64, resetTimeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call runs fn through the breaker; when open it fails fast without
// invoking fn at all.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", b.cb.Name(), err)
	}
	return nil
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }
