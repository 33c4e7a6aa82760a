/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Vehicle Sub-pipeline orchestrator (spec §4.5): cache lookup,
             brand/year/model hierarchical resolution, evidence
             screenshot, cache UPSERT, and fallback to the general
             shopping path on failure.
Root Cause:  Sprint task Q020 — FIPE resolver orchestration.
Context:     The cache protects against re-spending API calls + browser
             time on a vehicle already priced this vigency window; the
             optimized-flow fallback (step 4) keeps the resolver working
             even when the model list for an exact year is empty.
Suitability: L4 — governs whether a FIPE request ever reaches a
             financial-grade price, or silently falls through to shopping.
──────────────────────────────────────────────────────────────
*/

package vehicle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/store"
)

// Resolution is the outcome of a successful FIPE lookup.
type Resolution struct {
	Bank      *models.VehiclePriceBank
	FromCache bool
}

// FallbackQuery is returned when FIPE resolution cannot proceed and the
// caller should revert to the general shopping path (spec §4.5 "Fallback").
type FallbackQuery struct {
	Query string
}

type Resolver struct {
	bank             *store.VehicleBankStore
	fipe             *FipeClient
	screenshot       ScreenshotCapturer
	vigency          time.Duration
	persistScreenshot PersistScreenshotFunc
}

// ScreenshotCapturer abstracts the headless-browser evidence capture so
// the resolver's control flow can be tested without a real browser.
type ScreenshotCapturer interface {
	CaptureFipeEvidence(ctx context.Context, codigoFipe, yearLabel, requestID string) (path, sha256 string, err error)
}

// PersistScreenshotFunc turns a captured evidence screenshot into a File
// row, returning its id. The resolver itself has no storage-layer access
// beyond VehicleBankStore, so the coordinator supplies this.
type PersistScreenshotFunc func(ctx context.Context, path, sha256 string) (uuid.UUID, error)

func NewResolver(bank *store.VehicleBankStore, fipe *FipeClient, shot ScreenshotCapturer, vigency time.Duration, persist PersistScreenshotFunc) *Resolver {
	return &Resolver{bank: bank, fipe: fipe, screenshot: shot, vigency: vigency, persistScreenshot: persist}
}

// Resolve runs the cache-then-API flow of spec §4.5 for one vehicle
// identification. fallbackQuery is the analysis's Google-Shopping fallback
// query (or brand+model concatenated), used only if resolution fails.
func (r *Resolver) Resolve(ctx context.Context, v models.VehicleIdentification, requestID string, fallbackQuery string) (*Resolution, *FallbackQuery, error) {
	cached, err := r.bank.LookupSimilar(ctx, v.BrandTerm, v.ModelTerm, v.Year, v.FuelHint)
	if err == nil && !store.IsStale(cached, r.vigency) {
		return &Resolution{Bank: cached, FromCache: true}, nil, nil
	}

	bank, err := r.resolveViaAPI(ctx, v, requestID)
	if err != nil {
		if fallbackQuery == "" {
			fallbackQuery = strings.TrimSpace(v.BrandTerm + " " + v.ModelTerm)
		}
		if fallbackQuery == "" {
			return nil, nil, fmt.Errorf("fipe resolution failed and no fallback query available: %w", err)
		}
		return nil, &FallbackQuery{Query: fallbackQuery}, nil
	}

	if err := r.bank.Upsert(ctx, bank); err != nil {
		return nil, nil, fmt.Errorf("cache fipe resolution: %w", err)
	}
	return &Resolution{Bank: bank, FromCache: false}, nil, nil
}

func (r *Resolver) resolveViaAPI(ctx context.Context, v models.VehicleIdentification, requestID string) (*models.VehiclePriceBank, error) {
	brands, err := r.fipe.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	brand, ok := MatchBrand(v.BrandTerm, brands)
	if !ok {
		return nil, fmt.Errorf("no brand matched %q above threshold", v.BrandTerm)
	}

	years, err := r.fipe.ListYears(ctx, brand.Code)
	if err != nil {
		return nil, fmt.Errorf("list years for brand %s: %w", brand.Name, err)
	}
	year, ok := MatchYear(v.Year, v.FuelHint, years)
	if !ok {
		return nil, fmt.Errorf("no year matched %d/%s for brand %s", v.Year, v.FuelHint, brand.Name)
	}

	models_, err := r.fipe.ListModels(ctx, brand.Code, year.Code)
	if err != nil {
		return nil, fmt.Errorf("list models for %s/%s: %w", brand.Name, year.Label, err)
	}

	model, ok := MatchModel(v.ModelTerm, models_)
	if !ok {
		// Step 4: fall back to listing all models of the brand, untyped by year.
		allModels, aerr := r.fipe.ListAllModels(ctx, brand.Code, years)
		if aerr != nil {
			return nil, fmt.Errorf("list all models for brand %s: %w", brand.Name, aerr)
		}
		model, ok = MatchModel(v.ModelTerm, allModels)
		if !ok {
			return nil, fmt.Errorf("no model matched %q for brand %s", v.ModelTerm, brand.Name)
		}
	}

	priceResult, err := r.fipe.GetPrice(ctx, brand.Code, model.Code, year.Code)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s/%s/%s: %w", brand.Name, model.Name, year.Label, err)
	}

	price, ok := parseFipePrice(priceResult.Price)
	if !ok {
		return nil, fmt.Errorf("unparseable fipe price %q", priceResult.Price)
	}

	now := time.Now()
	bank := &models.VehiclePriceBank{
		ID:             uuid.New(),
		CodigoFipe:     priceResult.CodigoFipe,
		YearID:         year.Code,
		Brand:          brand.Name,
		Model:          model.Name,
		Year:           v.Year,
		Fuel:           v.FuelHint,
		Price:          price,
		ReferenceMonth: priceResult.ReferenceMonth,
		LastAPICall:    &now,
	}

	if r.screenshot != nil {
		if path, sum, serr := r.screenshot.CaptureFipeEvidence(ctx, bank.CodigoFipe, year.Label, requestID); serr == nil && r.persistScreenshot != nil {
			if fileID, perr := r.persistScreenshot(ctx, path, sum); perr == nil {
				bank.ScreenshotFileID = &fileID
			}
			// Evidence capture is best-effort (spec §4.5: "allow degraded
			// completion ... still publish the FIPE price"); persistence
			// failures never fail the resolution.
		}
	}

	return bank, nil
}

// parseFipePrice parses FIPE's "R$ 45.678,00" format, same BR locale as
// the store-page extractor.
func parseFipePrice(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}
