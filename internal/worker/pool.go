/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Bounded worker pool: polls for claimable QuoteRequests on
             an interval and dispatches each to the coordinator, capped
             at WorkerPoolSize concurrent in-flight requests.
Root Cause:  Sprint task Q027 — worker pool pulling claimable requests.
Context:     There is no message queue (non-goal per spec §4.6); the
             pool is a poll loop over quote_requests, same shape as the
             teacher's background pollers (provider health, model sync)
             but bounded by a semaphore instead of running unbounded.
Suitability: L3 — dispatch plumbing; correctness of the claim itself
             lives in internal/store and internal/checkpoint.
──────────────────────────────────────────────────────────────
*/

// Package worker runs the poll loop that feeds claimable QuoteRequests
// to the coordinator, bounded to a fixed number of concurrent requests.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cotaai/quotepipe/internal/concurrency"
)

// Processor is the single operation the pool drives per claimed request;
// satisfied by *coordinator.Coordinator.
type Processor interface {
	Process(ctx context.Context, requestID uuid.UUID) error
}

// ClaimLister is the one store operation the pool needs; satisfied by
// *store.QuoteRequestStore.
type ClaimLister interface {
	ListClaimable(ctx context.Context, liveness time.Duration, limit int) ([]uuid.UUID, error)
}

// Pool polls ClaimLister.ListClaimable on PollInterval and dispatches
// each id to Processor.Process, never running more than PoolSize
// requests concurrently.
type Pool struct {
	requests  ClaimLister
	processor Processor
	sem       *concurrency.Semaphore

	poolSize      int
	pollInterval  time.Duration
	claimLiveness time.Duration

	log zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

const semaphoreKey = "worker-pool"

func New(requests ClaimLister, processor Processor, poolSize int, pollInterval, claimLiveness time.Duration, log zerolog.Logger) *Pool {
	return &Pool{
		requests:      requests,
		processor:     processor,
		sem:           concurrency.NewSemaphore(poolSize),
		poolSize:      poolSize,
		pollInterval:  pollInterval,
		claimLiveness: claimLiveness,
		log:           log,
	}
}

// Start runs the poll loop in the background until Stop is called or ctx
// is cancelled.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight requests to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Pool) pollOnce(ctx context.Context) {
	ids, err := p.requests.ListClaimable(ctx, p.claimLiveness, p.poolSize)
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to list claimable quote requests")
		return
	}
	for _, id := range ids {
		if !p.sem.Acquire(semaphoreKey, 0) {
			return // pool saturated; pick the rest up next tick
		}
		p.wg.Add(1)
		go func(id uuid.UUID) {
			defer p.wg.Done()
			defer p.sem.Release(semaphoreKey)
			if err := p.processor.Process(ctx, id); err != nil {
				p.log.Error().Err(err).Str("quote_request_id", id.String()).Msg("request processing failed")
			}
		}(id)
	}
}
