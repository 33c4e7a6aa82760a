/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Cost ledger: converts LLM token counts and aggregator call
             counts into BRL FinancialTransaction rows, two entry points
             over one table (original_source splits
             _register_anthropic_cost / _register_serpapi_cost).
Root Cause:  Sprint task Q012 — cost accounting for external calls.
Context:     Every paid external call must leave an immutable,
             append-only audit row (spec §3 invariant).
Suitability: L2 for arithmetic over a fixed rate table.
──────────────────────────────────────────────────────────────
*/

package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/metrics"
	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/store"
)

type Ledger struct {
	store   *store.LedgerStore
	metrics *metrics.Metrics
}

func New(s *store.LedgerStore) *Ledger {
	return &Ledger{store: s}
}

// WithMetrics attaches a metrics registry so every recorded cost also
// increments quotepipe_ledger_cost_brl_total; optional, tests construct
// a Ledger without one.
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

// RecordLLMCost converts input/output token counts into a BRL cost row
// using configured BRL-per-token rates.
func (l *Ledger) RecordLLMCost(ctx context.Context, quoteRequestID uuid.UUID, inputTokens, outputTokens int, brlPerInputToken, brlPerOutputToken float64, clientID, projectID *uuid.UUID) error {
	cost := decimal.NewFromInt(int64(inputTokens)).Mul(decimal.NewFromFloat(brlPerInputToken)).
		Add(decimal.NewFromInt(int64(outputTokens)).Mul(decimal.NewFromFloat(brlPerOutputToken)))

	unit := decimal.Zero
	if inputTokens+outputTokens > 0 {
		unit = cost.Div(decimal.NewFromInt(int64(inputTokens + outputTokens)))
	}

	err := l.store.InsertTransaction(ctx, &models.FinancialTransaction{
		QuoteRequestID: quoteRequestID,
		Kind:           models.IntegrationLLM,
		Tokens:         inputTokens + outputTokens,
		Calls:          1,
		UnitCostBRL:    unit,
		TotalCostBRL:   cost,
		ClientID:       clientID,
		ProjectID:      projectID,
	})
	if err != nil {
		return fmt.Errorf("record llm cost: %w", err)
	}
	if l.metrics != nil {
		f, _ := cost.Float64()
		l.metrics.LedgerCostBRL.WithLabelValues(string(models.IntegrationLLM)).Add(f)
	}
	return nil
}

// RecordAggregatorCost converts a per-call aggregator rate into a BRL cost row.
func (l *Ledger) RecordAggregatorCost(ctx context.Context, quoteRequestID uuid.UUID, calls int, brlPerCall float64, clientID, projectID *uuid.UUID) error {
	unit := decimal.NewFromFloat(brlPerCall)
	total := unit.Mul(decimal.NewFromInt(int64(calls)))

	err := l.store.InsertTransaction(ctx, &models.FinancialTransaction{
		QuoteRequestID: quoteRequestID,
		Kind:           models.IntegrationAggregator,
		Tokens:         0,
		Calls:          calls,
		UnitCostBRL:    unit,
		TotalCostBRL:   total,
		ClientID:       clientID,
		ProjectID:      projectID,
	})
	if err != nil {
		return fmt.Errorf("record aggregator cost: %w", err)
	}
	if l.metrics != nil {
		f, _ := total.Float64()
		l.metrics.LedgerCostBRL.WithLabelValues(string(models.IntegrationAggregator)).Add(f)
	}
	return nil
}

// LogCall records one external call for observability, independent of
// whether it was costed (spec §6 Observability).
func (l *Ledger) LogCall(ctx context.Context, quoteRequestID uuid.UUID, kind models.IntegrationKind, sanitizedURL, productTitle, storeLink string, tokens int) error {
	return l.store.InsertIntegrationLog(ctx, &models.IntegrationLog{
		QuoteRequestID: quoteRequestID,
		Kind:           kind,
		SanitizedURL:   sanitizedURL,
		ProductTitle:   productTitle,
		StoreLink:      storeLink,
		Tokens:         tokens,
	})
}
