/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Retry schedules expressed as data (spec §9 "retry policy
             as data"), not branching code, so a new error family or a
             new backoff ladder is a table edit, not a code change.
Root Cause:  Sprint task Q007 — declarative retry for LLM/aggregator
             rate-limit and overload errors.
Context:     Three ladders are defined (LLM rate-limit, LLM overload,
             aggregator 429); the LLM client retries both of its
             retryable error kinds on the overload ladder, so the
             rate-limit ladder currently has no user.
Suitability: L2 for static scheduling data plus a thin executor.
──────────────────────────────────────────────────────────────
*/

package retrysched

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Schedule is a fixed, literal backoff ladder — exactly the delays named
// in spec §4.2/§4.4, not a formula, so the table is auditable at a glance.
type Schedule struct {
	Name   string
	Delays []time.Duration
}

var (
	AggregatorRateLimit = Schedule{
		Name:   "aggregator_429",
		Delays: durations(2, 4, 8),
	}
	LLMRateLimit = Schedule{
		Name:   "llm_rate_limit",
		Delays: durations(1, 2, 4, 8, 16),
	}
	LLMOverload = Schedule{
		Name:   "llm_overload",
		Delays: durations(5, 10, 15, 20, 25),
	}
)

func durations(seconds ...int) []time.Duration {
	out := make([]time.Duration, len(seconds))
	for i, s := range seconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// Retryable is returned by fn to signal a retryable failure; any other
// error is propagated immediately without consuming the schedule.
type Retryable struct{ Err error }

func (r *Retryable) Error() string { return r.Err.Error() }
func (r *Retryable) Unwrap() error { return r.Err }

// MarkRetryable wraps err so Run's backoff consumes it instead of failing fast.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &Retryable{Err: err}
}

// Run executes fn, retrying on errors wrapped with MarkRetryable according
// to sched, via go-retry's backoff composition over the literal ladder.
func Run(ctx context.Context, sched Schedule, fn func(ctx context.Context) error) error {
	var attempt int
	return retry.Do(ctx, stepBackoff(sched), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var r *Retryable
		if !asRetryable(err, &r) {
			return err // non-retryable: fail fast
		}
		attempt++
		if attempt > len(sched.Delays) {
			return r.Err // schedule exhausted: surface the underlying cause
		}
		return retry.RetryableError(r.Err)
	})
}

// stepBackoff returns a retry.Backoff that yields exactly sched.Delays in
// order, then stops — the literal ladder, not an exponential formula.
func stepBackoff(sched Schedule) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(sched.Delays) {
			return 0, false
		}
		d := sched.Delays[i]
		i++
		return d, true
	})
}

func asRetryable(err error, target **Retryable) bool {
	r, ok := err.(*Retryable)
	if ok {
		*target = r
	}
	return ok
}
