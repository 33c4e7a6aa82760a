package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/models"
)

type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InsertIntegrationLog records one external call for observability (spec §6).
func (s *LedgerStore) InsertIntegrationLog(ctx context.Context, l *models.IntegrationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CalledAt.IsZero() {
		l.CalledAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO integration_log
		  (id, quote_request_id, kind, called_at, sanitized_url, product_title, store_link, tokens)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.QuoteRequestID, string(l.Kind), l.CalledAt, l.SanitizedURL, l.ProductTitle, l.StoreLink, l.Tokens)
	if err != nil {
		return fmt.Errorf("insert integration log: %w", err)
	}
	return nil
}

// InsertTransaction writes an immutable FinancialTransaction row; there is
// no Update method by design (spec §3 invariant: "financial transactions,
// once written, are immutable").
func (s *LedgerStore) InsertTransaction(ctx context.Context, t *models.FinancialTransaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO financial_transactions
		  (id, quote_request_id, kind, tokens, calls, unit_cost_brl, total_cost_brl, client_id, project_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.QuoteRequestID, string(t.Kind), t.Tokens, t.Calls, t.UnitCostBRL, t.TotalCostBRL,
		t.ClientID, t.ProjectID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert financial transaction: %w", err)
	}
	return nil
}

// CountIntegrationLogs supports the idempotent-resume test (spec §8
// property 4): counting IntegrationLog rows by kind before/after a resume.
func (s *LedgerStore) CountIntegrationLogs(ctx context.Context, quoteRequestID uuid.UUID, kind models.IntegrationKind) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM integration_log WHERE quote_request_id = $1 AND kind = $2
	`, quoteRequestID, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count integration logs: %w", err)
	}
	return n, nil
}

// SumCost supports the cost-accounting-totality property (spec §8 property 6).
func (s *LedgerStore) SumCost(ctx context.Context, quoteRequestID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(sum(total_cost_brl), 0) FROM financial_transactions WHERE quote_request_id = $1
	`, quoteRequestID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum cost: %w", err)
	}
	return sum, nil
}
