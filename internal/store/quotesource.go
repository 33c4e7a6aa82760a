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

type QuoteSourceStore struct {
	pool *pgxpool.Pool
}

func NewQuoteSourceStore(pool *pgxpool.Pool) *QuoteSourceStore {
	return &QuoteSourceStore{pool: pool}
}

// InsertSource persists one accepted price observation.
func (s *QuoteSourceStore) InsertSource(ctx context.Context, src *models.QuoteSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.CapturedAt.IsZero() {
		src.CapturedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quote_sources
		  (id, quote_request_id, final_url, domain, page_title, price, currency,
		   method, screenshot_file_id, captured_at, is_outlier, is_accepted, failure_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, src.ID, src.QuoteRequestID, src.FinalURL, src.Domain, src.PageTitle, src.Price, src.Currency,
		string(src.Method), src.ScreenshotFileID, src.CapturedAt, src.IsOutlier, src.IsAccepted, src.FailureReason)
	if err != nil {
		return fmt.Errorf("insert quote source: %w", err)
	}
	return nil
}

// InsertFailure persists one discarded candidate.
func (s *QuoteSourceStore) InsertFailure(ctx context.Context, f *models.QuoteSourceFailure) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quote_source_failures
		  (id, quote_request_id, url, domain, product_title, aggregator_price, reason, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, f.ID, f.QuoteRequestID, f.URL, f.Domain, f.ProductTitle, f.AggregatorPrice, string(f.Reason), f.Message, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quote source failure: %w", err)
	}
	return nil
}

// SetAccepted flips is_accepted on sources outside the winning block (spec
// §4.1.1 per-block probing: "sources validated outside this block are
// flipped to is_accepted=false").
func (s *QuoteSourceStore) SetAccepted(ctx context.Context, id uuid.UUID, accepted bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE quote_sources SET is_accepted = $2 WHERE id = $1`, id, accepted)
	if err != nil {
		return fmt.Errorf("set accepted: %w", err)
	}
	return nil
}

// AcceptedAggregate computes mean/min/max/spread strictly from accepted
// sources (spec §3 invariant).
func (s *QuoteSourceStore) AcceptedAggregate(ctx context.Context, quoteRequestID uuid.UUID) (mean, min, max, spread decimal.Decimal, count int, err error) {
	rows, err := s.pool.Query(ctx, `
		SELECT price FROM quote_sources WHERE quote_request_id = $1 AND is_accepted = true
	`, quoteRequestID)
	if err != nil {
		return mean, min, max, spread, 0, fmt.Errorf("load accepted prices: %w", err)
	}
	defer rows.Close()

	var prices []decimal.Decimal
	for rows.Next() {
		var p decimal.Decimal
		if err := rows.Scan(&p); err != nil {
			return mean, min, max, spread, 0, fmt.Errorf("scan price: %w", err)
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, 0, nil
	}

	min, max = prices[0], prices[0]
	sum := decimal.Zero
	for _, p := range prices {
		if p.LessThan(min) {
			min = p
		}
		if p.GreaterThan(max) {
			max = p
		}
		sum = sum.Add(p)
	}
	mean = sum.Div(decimal.NewFromInt(int64(len(prices))))
	if !min.IsZero() {
		spread = max.Div(min).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	}
	return mean, min, max, spread, len(prices), nil
}
