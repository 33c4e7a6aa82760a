// Package store: BatchJobStore backs the thin batch orchestrator of
// spec §4.6 — a batch job is just a counter row over N child
// quote_requests, recomputed on every child terminal transition.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

type BatchJobStore struct {
	pool *pgxpool.Pool
}

func NewBatchJobStore(pool *pgxpool.Pool) *BatchJobStore {
	return &BatchJobStore{pool: pool}
}

func (s *BatchJobStore) Create(ctx context.Context, total int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO batch_jobs (id, total, completed, failed, status)
		VALUES ($1, $2, 0, 0, 'PROCESSING')
	`, id, total)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create batch job: %w", err)
	}
	return id, nil
}

func (s *BatchJobStore) Get(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	var job models.BatchJob
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, total, completed, failed, status, created_at FROM batch_jobs WHERE id = $1
	`, id).Scan(&job.ID, &job.Total, &job.Completed, &job.Failed, &status, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch job: %w", err)
	}
	job.Status = models.BatchStatus(status)
	return &job, nil
}

// ChildIDs returns every QuoteRequest id belonging to the batch.
func (s *BatchJobStore) ChildIDs(ctx context.Context, batchJobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM quote_requests WHERE batch_job_id = $1`, batchJobID)
	if err != nil {
		return nil, fmt.Errorf("list batch children: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResumableChildIDs returns children still PROCESSING at resume time
// (spec §4.6 "re-dispatch children whose status is PROCESSING").
func (s *BatchJobStore) ResumableChildIDs(ctx context.Context, batchJobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM quote_requests WHERE batch_job_id = $1 AND status = 'PROCESSING'
	`, batchJobID)
	if err != nil {
		return nil, fmt.Errorf("list resumable batch children: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan resumable child id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecomputeCounters recounts a batch's completed/failed children against
// the live quote_requests table and, once every child has reached a
// terminal status, assigns the batch's own terminal status. Runs inside
// a transaction so a concurrent recompute from another child's terminal
// transition can't race the read-modify-write.
func (s *BatchJobStore) RecomputeCounters(ctx context.Context, batchJobID uuid.UUID) (*models.BatchJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin recompute tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int
	if err := tx.QueryRow(ctx, `SELECT total FROM batch_jobs WHERE id = $1 FOR UPDATE`, batchJobID).Scan(&total); err != nil {
		return nil, fmt.Errorf("lock batch job: %w", err)
	}

	var completed, failed int
	err = tx.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status IN ('DONE', 'AWAITING_REVIEW')),
			count(*) FILTER (WHERE status IN ('ERROR', 'CANCELLED'))
		FROM quote_requests WHERE batch_job_id = $1
	`, batchJobID).Scan(&completed, &failed)
	if err != nil {
		return nil, fmt.Errorf("count batch children: %w", err)
	}

	status := string(models.BatchProcessing)
	if completed+failed >= total {
		if failed == 0 {
			status = string(models.BatchCompleted)
		} else {
			status = string(models.BatchPartiallyCompleted)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE batch_jobs SET completed = $2, failed = $3, status = $4 WHERE id = $1
	`, batchJobID, completed, failed, status)
	if err != nil {
		return nil, fmt.Errorf("update batch job counters: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit recompute tx: %w", err)
	}

	return &models.BatchJob{ID: batchJobID, Total: total, Completed: completed, Failed: failed, Status: models.BatchStatus(status)}, nil
}
