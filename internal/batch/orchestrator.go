/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Batch Orchestrator (spec §4.6, "thin wrapper — specified
             for completeness"): creates a batch job plus its N child
             QuoteRequests, and re-derives child ids to resume after a
             restart. Dispatch itself is not a separate code path —
             children are born PROCESSING and picked up by the ordinary
             worker pool poll loop (internal/worker); this package only
             owns the parts that poll loop can't: batch creation and
             counter resume.
Root Cause:  Sprint task Q028 — batch orchestrator thin wrapper.
Context:     Per-child terminal-transition counter recomputation lives
             in internal/coordinator (Coordinator.recomputeBatch),
             since that's the only place a child's terminal status is
             ever decided.
Suitability: L3 — no algorithmic core, pure fan-out/fan-in bookkeeping.
──────────────────────────────────────────────────────────────
*/

// Package batch implements the thin batch orchestrator of spec §4.6: a
// batch job references N independent QuoteRequests, dispatched and
// resumed through the same worker pool and claim protocol as any other
// request.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/store"
)

// ChildInput is one item of a batch submission: free text (or a file
// reference resolved by the caller into text before submission) plus the
// input-type tag it was submitted under.
type ChildInput struct {
	InputText string
	InputType models.InputType
}

// jobStore is the subset of *store.BatchJobStore the orchestrator needs.
type jobStore interface {
	Create(ctx context.Context, total int) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*models.BatchJob, error)
	ResumableChildIDs(ctx context.Context, batchJobID uuid.UUID) ([]uuid.UUID, error)
	RecomputeCounters(ctx context.Context, batchJobID uuid.UUID) (*models.BatchJob, error)
}

// childCreator is the subset of *store.QuoteRequestStore the
// orchestrator needs to insert batch children.
type childCreator interface {
	CreateChild(ctx context.Context, inputText string, inputType models.InputType, configVersionID, batchJobID uuid.UUID) (uuid.UUID, error)
}

type Orchestrator struct {
	jobs     jobStore
	requests childCreator
	log      zerolog.Logger
}

func New(jobs *store.BatchJobStore, requests *store.QuoteRequestStore, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{jobs: jobs, requests: requests, log: log}
}

// Submit creates a batch job with len(children) total and inserts every
// child QuoteRequest already tagged with the new batch id and status
// PROCESSING. No dispatch loop is started here: the worker pool's normal
// poll picks every child up like any other claimable request.
func (o *Orchestrator) Submit(ctx context.Context, children []ChildInput, configVersionID uuid.UUID) (uuid.UUID, error) {
	if len(children) == 0 {
		return uuid.Nil, fmt.Errorf("batch submission requires at least one child")
	}

	batchID, err := o.jobs.Create(ctx, len(children))
	if err != nil {
		return uuid.Nil, fmt.Errorf("create batch job: %w", err)
	}

	for i, child := range children {
		if _, err := o.requests.CreateChild(ctx, child.InputText, child.InputType, configVersionID, batchID); err != nil {
			return uuid.Nil, fmt.Errorf("create batch child %d: %w", i, err)
		}
	}

	o.log.Info().Str("batch_job_id", batchID.String()).Int("total", len(children)).Msg("batch submitted")
	return batchID, nil
}

// Status returns the batch job's current counters and status.
func (o *Orchestrator) Status(ctx context.Context, batchID uuid.UUID) (*models.BatchJob, error) {
	return o.jobs.Get(ctx, batchID)
}

// Resume re-derives the set of children still in flight after a worker
// restart (spec §4.6: "re-dispatch children whose status is PROCESSING
// at resume time"). Since every QuoteRequest in PROCESSING is already
// claimable through the ordinary worker pool, Resume's only job is to
// reconcile the batch job's own counters against whatever terminal
// transitions happened while no worker was recomputing them.
func (o *Orchestrator) Resume(ctx context.Context, batchID uuid.UUID) (*models.BatchJob, []uuid.UUID, error) {
	pending, err := o.jobs.ResumableChildIDs(ctx, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("list resumable children: %w", err)
	}
	job, err := o.jobs.RecomputeCounters(ctx, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("recompute batch counters on resume: %w", err)
	}
	return job, pending, nil
}
