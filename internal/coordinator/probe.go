/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Per-candidate probe (spec §4.1.2): resolve store URL, domain
             validation, uniqueness, extraction, commit — short-circuiting
             on first failure with a typed CaptureFailureReason.
Root Cause:  Sprint task Q023 — candidate probing inside the block loop.
Context:     Written as a function over an explicit ProbeState parameter
             (not a coordinator method closing over fields) so the
             decision logic is testable without the coordinator's network
             dependencies wired up.
Suitability: L4 — every accepted/rejected QuoteSource flows through here.
──────────────────────────────────────────────────────────────
*/

package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/extractor"
	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/policy"
	"github.com/cotaai/quotepipe/internal/shopping"
)

// ProbeState is the running, mutable bookkeeping threaded explicitly
// through every probe call (spec §4.1.2 inputs: validated_keys,
// failed_keys, urls_seen).
type ProbeState struct {
	ValidatedKeys map[string]bool
	FailedKeys    map[string]bool
	URLsSeen      map[string]bool
}

func NewProbeState() *ProbeState {
	return &ProbeState{
		ValidatedKeys: make(map[string]bool),
		FailedKeys:    make(map[string]bool),
		URLsSeen:      make(map[string]bool),
	}
}

// CandidateKey is the product key used for validated_keys/failed_keys
// (spec: "product keys (title, price)").
func CandidateKey(c shopping.Candidate) string {
	return c.Title + "|" + c.ExtractedPrice.String()
}

// ProbeDeps are the external collaborators a probe call needs.
type ProbeDeps struct {
	Policy              *policy.Engine
	Shopping            *shopping.Client
	Extractor           *extractor.Extractor
	EnablePriceMismatch bool
	RequestID           uuid.UUID
	ScreenshotIndex     int
}

// ProbeOutcome is the result of one probe call: exactly one of Source or
// Failure is populated.
type ProbeOutcome struct {
	Source  *models.QuoteSource
	Failure *models.QuoteSourceFailure
}

// Probe runs the five steps of spec §4.1.2 against one candidate,
// mutating state in place and returning the typed outcome.
func Probe(ctx context.Context, cand shopping.Candidate, state *ProbeState, deps ProbeDeps) (ProbeOutcome, error) {
	key := CandidateKey(cand)

	fail := func(reason models.CaptureFailureReason, msg string) ProbeOutcome {
		state.FailedKeys[key] = true
		return ProbeOutcome{Failure: &models.QuoteSourceFailure{
			QuoteRequestID:  deps.RequestID,
			ProductTitle:    cand.Title,
			AggregatorPrice: cand.ExtractedPrice,
			Reason:          reason,
			Message:         msg,
		}}
	}

	// Step 1: resolve store URL.
	resolved, err := deps.Shopping.ResolveStore(ctx, cand)
	if err != nil {
		return fail(models.ReasonNoStoreLink, err.Error()), nil
	}
	if resolved == nil || resolved.URL == "" {
		return fail(models.ReasonNoStoreLink, "no usable store URL emerged from candidate"), nil
	}

	// Step 2: domain validation.
	decision, err := deps.Policy.Validate(ctx, resolved.URL)
	if err != nil {
		return ProbeOutcome{}, fmt.Errorf("domain validation: %w", err)
	}
	if !decision.Allowed {
		return fail(decision.Reason, decision.Detail), nil
	}

	// Step 3: uniqueness.
	if state.URLsSeen[resolved.URL] {
		return fail(models.ReasonDuplicateURL, "url already accepted for this request"), nil
	}

	// Step 4: extraction.
	var price decimal.Decimal
	var method models.ExtractionMethod

	if !deps.EnablePriceMismatch {
		res, err := deps.Extractor.CaptureGoogleShoppingMode(ctx, resolved.URL, resolved.Price, deps.RequestID.String(), deps.ScreenshotIndex)
		if err != nil {
			return fail(models.ReasonScreenshotError, err.Error()), nil
		}
		price, method = res.Price, res.Method
		state.URLsSeen[resolved.URL] = true
		state.ValidatedKeys[key] = true
		return ProbeOutcome{Source: &models.QuoteSource{
			QuoteRequestID: deps.RequestID,
			FinalURL:       resolved.URL,
			Domain:         decision.Domain,
			PageTitle:      cand.Title,
			Price:          price,
			Currency:       "BRL",
			Method:         method,
			IsAccepted:     true,
		}}, nil
	}

	res, err := deps.Extractor.CaptureValidatedMode(ctx, resolved.URL, deps.RequestID.String(), deps.ScreenshotIndex)
	if err != nil {
		return fail(models.ReasonScreenshotError, err.Error()), nil
	}
	price, method = res.Price, res.Method

	if !withinMismatchTolerance(price, resolved.Price) {
		return fail(models.ReasonPriceMismatch, fmt.Sprintf("extracted %s vs aggregator %s exceeds 5%%", price, resolved.Price)), nil
	}

	// Step 5: commit.
	state.URLsSeen[resolved.URL] = true
	state.ValidatedKeys[key] = true
	return ProbeOutcome{Source: &models.QuoteSource{
		QuoteRequestID: deps.RequestID,
		FinalURL:       resolved.URL,
		Domain:         decision.Domain,
		PageTitle:      cand.Title,
		Price:          price,
		Currency:       "BRL",
		Method:         method,
		IsAccepted:     true,
	}}, nil
}

func withinMismatchTolerance(extracted, aggregator decimal.Decimal) bool {
	if aggregator.IsZero() {
		return true
	}
	diff := extracted.Sub(aggregator).Abs()
	pct := diff.Div(aggregator).Mul(decimal.NewFromInt(100))
	return pct.LessThanOrEqual(decimal.NewFromInt(5))
}
