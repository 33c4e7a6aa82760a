// Package store is the pgx-backed repository layer over the entities of
// spec.md §3. Queries are written directly against pgx (no sqlx/ORM): the
// chosen driver (jackc/pgx/v5, grounded on jordigilh-kubernaut's go.mod)
// already gives context-aware pooling and COPY/batch support, so a second
// query-building layer would add nothing the core needs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

var ErrAlreadyClaimed = errors.New("quote request already claimed by a live worker")
var ErrNotFound = errors.New("row not found")

type QuoteRequestStore struct {
	pool *pgxpool.Pool
}

func NewQuoteRequestStore(pool *pgxpool.Pool) *QuoteRequestStore {
	return &QuoteRequestStore{pool: pool}
}

// Claim implements the single-writer lease of spec §4.1/§5: it succeeds
// only if the request is unclaimed or its previous claim's heartbeat is
// older than liveness (a steal of an expired lease).
func (s *QuoteRequestStore) Claim(ctx context.Context, id uuid.UUID, workerID string, liveness time.Duration) error {
	now := time.Now()
	cutoff := now.Add(-liveness)

	tag, err := s.pool.Exec(ctx, `
		UPDATE quote_requests
		SET worker_id = $2, started_at = COALESCE(started_at, $3), last_heartbeat = $3, updated_at = $3
		WHERE id = $1
		  AND status = 'PROCESSING'
		  AND (worker_id IS NULL OR last_heartbeat < $4)
	`, id, workerID, now, cutoff)
	if err != nil {
		return fmt.Errorf("claim quote request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

// Heartbeat refreshes the lease; called on every candidate iteration.
func (s *QuoteRequestStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE quote_requests SET last_heartbeat = $3, updated_at = $3
		WHERE id = $1 AND worker_id = $2
	`, id, workerID, time.Now())
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCheckpoint persists the tagged checkpoint and bumps progress
// monotonically (spec §8 property 3).
func (s *QuoteRequestStore) SaveCheckpoint(ctx context.Context, id uuid.UUID, tag models.CheckpointTag, previousProgress int, detail string, payload json.RawMessage, payloadColumn string) error {
	progress := models.ProgressFor(tag, previousProgress)

	var setClause string
	args := []any{id, string(tag), detail, time.Now(), progress}
	if payload != nil && payloadColumn != "" {
		setClause = fmt.Sprintf(", %s = $6", payloadColumn)
		args = append(args, payload)
	}
	q := fmt.Sprintf(`
		UPDATE quote_requests
		SET checkpoint_tag = $2, step_detail = $3, updated_at = $4, progress_percentage = $5
		    %s
		WHERE id = $1
	`, setClause)
	_, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ListClaimable returns up to limit ids of requests the pool can pick up
// right now: unclaimed PROCESSING rows, or PROCESSING rows whose lease
// has gone stale (spec §4.1 crash-resume), oldest first so the queue
// drains in submission order.
func (s *QuoteRequestStore) ListClaimable(ctx context.Context, liveness time.Duration, limit int) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-liveness)
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM quote_requests
		WHERE status = 'PROCESSING'
		  AND (worker_id IS NULL OR last_heartbeat < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list claimable quote requests: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan claimable id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Status reloads just the status column, used for cancellation polling
// between candidate iterations (spec §5).
func (s *QuoteRequestStore) Status(ctx context.Context, id uuid.UUID) (models.QuoteStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM quote_requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load status: %w", err)
	}
	return models.QuoteStatus(status), nil
}

// Finalize writes the terminal status in an isolated transaction per the
// error-handling propagation policy (spec §7): CANCELLED is never
// overwritten by a concurrently-decided DONE/ERROR/AWAITING_REVIEW.
func (s *QuoteRequestStore) Finalize(ctx context.Context, id uuid.UUID, status models.QuoteStatus, errMsg string, mean, min, max, spread string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE quote_requests
		SET status = $2, error_message = $3, mean_price = NULLIF($4,'')::numeric,
		    min_price = NULLIF($5,'')::numeric, max_price = NULLIF($6,'')::numeric,
		    spread_pct = NULLIF($7,'')::numeric, completed_at = $8, updated_at = $8,
		    checkpoint_tag = CASE WHEN $2 IN ('DONE','AWAITING_REVIEW') THEN 'COMPLETED' ELSE 'FAILED' END,
		    progress_percentage = 100
		WHERE id = $1 AND status <> 'CANCELLED'
	`, id, string(status), errMsg, mean, min, max, spread, time.Now())
	if err != nil {
		return fmt.Errorf("finalize quote request: %w", err)
	}
	_ = tag
	return nil
}

// Cancel sets CANCELLED; sticky per spec §4.1 terminal-status rule.
func (s *QuoteRequestStore) Cancel(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE quote_requests SET status = 'CANCELLED', error_message = '', updated_at = $2
		WHERE id = $1 AND status = 'PROCESSING'
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("cancel quote request: %w", err)
	}
	return nil
}

// Get loads a QuoteRequest by id, including the cached analysis/shopping payloads.
func (s *QuoteRequestStore) Get(ctx context.Context, id uuid.UUID) (*models.QuoteRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, input_text, input_type, config_version_id, original_quote_id, batch_job_id,
		       attempt_number, status, checkpoint_tag, progress_percentage, step_detail,
		       analysis_raw, shopping_raw, worker_id, last_heartbeat
		FROM quote_requests WHERE id = $1
	`, id)

	var (
		qr          models.QuoteRequest
		inputType   string
		checkpoint  string
		origID      *uuid.UUID
		batchJobID  *uuid.UUID
		status      string
		analysisRaw []byte
		shoppingRaw []byte
	)
	err := row.Scan(&qr.ID, &qr.InputText, &inputType, &qr.ConfigVersionID, &origID, &batchJobID,
		&qr.AttemptNumber, &status, &checkpoint, &qr.ProgressPct, &qr.StepDetail,
		&analysisRaw, &shoppingRaw, &qr.WorkerID, &qr.LastHeartbeat)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quote request: %w", err)
	}
	qr.InputType = models.InputType(inputType)
	qr.Status = models.QuoteStatus(status)
	qr.CheckpointTag = models.CheckpointTag(checkpoint)
	qr.OriginalQuoteID = origID
	qr.BatchJobID = batchJobID
	qr.AnalysisRaw = analysisRaw
	qr.ShoppingRaw = shoppingRaw
	return &qr, nil
}

// CreateRequote creates a child QuoteRequest per spec §4.1 re-quote rule:
// only if no child already exists, chain collapsed to the root.
func (s *QuoteRequestStore) CreateRequote(ctx context.Context, original *models.QuoteRequest, freshConfigVersionID uuid.UUID) (uuid.UUID, error) {
	var existing uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM quote_requests WHERE original_quote_id = $1 LIMIT 1
	`, original.Root()).Scan(&existing)
	if err == nil {
		return uuid.Nil, fmt.Errorf("re-quote already exists: %s", existing)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("check existing re-quote: %w", err)
	}

	newID := uuid.New()
	root := original.Root()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quote_requests
		  (id, input_text, input_type, config_version_id, original_quote_id,
		   attempt_number, status, checkpoint_tag, progress_percentage, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,'PROCESSING','INIT',5,$7,$7)
	`, newID, original.InputText, string(original.InputType), freshConfigVersionID, root,
		original.AttemptNumber+1, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert re-quote: %w", err)
	}
	return newID, nil
}

// CreateChild inserts one batch child QuoteRequest (spec §4.6): born
// PROCESSING like any other request, tagged with its batch job so the
// ordinary worker pool claims it with no batch-aware code path.
func (s *QuoteRequestStore) CreateChild(ctx context.Context, inputText string, inputType models.InputType, configVersionID, batchJobID uuid.UUID) (uuid.UUID, error) {
	newID := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quote_requests
		  (id, input_text, input_type, config_version_id, batch_job_id,
		   attempt_number, status, checkpoint_tag, progress_percentage, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,1,'PROCESSING','INIT',5,$6,$6)
	`, newID, inputText, string(inputType), configVersionID, batchJobID, time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert batch child: %w", err)
	}
	return newID, nil
}
