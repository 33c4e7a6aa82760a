/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L5
Logic:       Quotation Coordinator (spec §4.1): claim, resume-aware LLM
             analysis, FIPE/shopping routing, block-search escalation,
             finalization under the terminal-status rule, re-quote.
Root Cause:  Sprint task Q025 — coordinator orchestration entrypoint.
Context:     Drives exactly one QuoteRequest end to end; every other
             package in this module is a collaborator invoked from here.
             Pure algorithmic cores (blocksearch.go, probe.go, driver.go)
             stay free functions so this file is the only place that
             threads persistence, checkpointing, and cancellation
             through them.
Suitability: L5 — owns the terminal-status decision and every
             externally observable state transition of a request.
──────────────────────────────────────────────────────────────
*/

package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cotaai/quotepipe/internal/checkpoint"
	"github.com/cotaai/quotepipe/internal/concurrency"
	"github.com/cotaai/quotepipe/internal/extractor"
	"github.com/cotaai/quotepipe/internal/ledger"
	"github.com/cotaai/quotepipe/internal/llm"
	"github.com/cotaai/quotepipe/internal/metrics"
	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/pipelineerr"
	"github.com/cotaai/quotepipe/internal/policy"
	"github.com/cotaai/quotepipe/internal/shopping"
	"github.com/cotaai/quotepipe/internal/store"
	"github.com/cotaai/quotepipe/internal/vehicle"
)

// Coordinator drives one QuoteRequest from PROCESSING to a terminal
// status, persisting a checkpoint after each externally observable
// milestone (spec §4.1).
type Coordinator struct {
	requests       *store.QuoteRequestStore
	sources        *store.QuoteSourceStore
	configs        *store.ConfigVersionStore
	blockedDomains *store.BlockedDomainStore
	files          *store.FileStore
	batches        *store.BatchJobStore

	checkpoints *checkpoint.Manager
	claims      *concurrency.KeyedMutex

	llm       *llm.Client
	shopping  *shopping.Client
	extractor *extractor.Extractor
	policy    *policy.Engine
	vehicle   *vehicle.Resolver
	ledger    *ledger.Ledger
	metrics   *metrics.Metrics

	workerID         string
	requestWallClock time.Duration

	llmBRLPerInputToken  float64
	llmBRLPerOutputToken float64
	aggregatorBRLPerCall float64

	log zerolog.Logger
}

// Deps bundles every collaborator the coordinator needs; built once at
// worker startup by cmd/quoteworker and shared across claimed requests.
type Deps struct {
	Requests       *store.QuoteRequestStore
	Sources        *store.QuoteSourceStore
	Configs        *store.ConfigVersionStore
	BlockedDomains *store.BlockedDomainStore
	Files          *store.FileStore
	Batches        *store.BatchJobStore

	Checkpoints *checkpoint.Manager
	Claims      *concurrency.KeyedMutex

	LLM       *llm.Client
	Shopping  *shopping.Client
	Extractor *extractor.Extractor
	Policy    *policy.Engine
	Vehicle   *vehicle.Resolver
	Ledger    *ledger.Ledger
	Metrics   *metrics.Metrics

	WorkerID         string
	RequestWallClock time.Duration

	LLMBRLPerInputToken  float64
	LLMBRLPerOutputToken float64
	AggregatorBRLPerCall float64

	Log zerolog.Logger
}

func New(d Deps) *Coordinator {
	return &Coordinator{
		requests:             d.Requests,
		sources:              d.Sources,
		configs:              d.Configs,
		blockedDomains:       d.BlockedDomains,
		files:                d.Files,
		batches:              d.Batches,
		checkpoints:          d.Checkpoints,
		claims:               d.Claims,
		llm:                  d.LLM,
		shopping:             d.Shopping,
		extractor:            d.Extractor,
		policy:               d.Policy,
		vehicle:              d.Vehicle,
		ledger:               d.Ledger,
		metrics:              d.Metrics,
		workerID:             d.WorkerID,
		requestWallClock:     d.RequestWallClock,
		llmBRLPerInputToken:  d.LLMBRLPerInputToken,
		llmBRLPerOutputToken: d.LLMBRLPerOutputToken,
		aggregatorBRLPerCall: d.AggregatorBRLPerCall,
		log:                  d.Log,
	}
}

// Process runs the full coordinator flow for one QuoteRequest id. It
// returns nil on any terminal outcome reached cleanly (DONE,
// AWAITING_REVIEW, ERROR, CANCELLED are all "successful" coordinator
// runs); it returns an error only for failures that could not even be
// recorded against the request (e.g. the claim itself failing).
func (c *Coordinator) Process(ctx context.Context, requestID uuid.UUID) error {
	unlock := c.claims.Lock(requestID.String())
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, c.requestWallClock)
	defer cancel()

	if err := c.checkpoints.Claim(ctx, requestID, c.workerID); err != nil {
		return fmt.Errorf("claim quote request %s: %w", requestID, err)
	}

	qr, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load quote request %s: %w", requestID, err)
	}

	cfg, err := c.configs.Get(ctx, qr.ConfigVersionID)
	if err != nil {
		return c.fail(ctx, qr, fmt.Sprintf("load config version: %v", err))
	}

	plan, err := checkpoint.Plan(qr)
	if err != nil {
		return c.fail(ctx, qr, fmt.Sprintf("inspect resume checkpoint: %v", err))
	}

	if err := c.loadDomainPolicy(ctx); err != nil {
		return c.fail(ctx, qr, fmt.Sprintf("load domain policy: %v", err))
	}

	if cancelled, _ := c.checkpoints.Cancelled(ctx, requestID); cancelled {
		return nil // exits without overwriting CANCELLED (spec §5)
	}

	if err := c.checkpoints.Advance(ctx, requestID, models.CheckpointInit, qr.ProgressPct, "claimed", nil, ""); err != nil {
		return c.fail(ctx, qr, fmt.Sprintf("advance to INIT: %v", err))
	}

	analysis, err := c.ensureAnalysis(ctx, qr, plan)
	if err != nil {
		return c.fail(ctx, qr, err.Error())
	}
	qr.Analysis = analysis

	if cancelled, _ := c.checkpoints.Cancelled(ctx, requestID); cancelled {
		return nil
	}

	switch analysis.ProcessingType {
	case models.ProcessingFIPE:
		err = c.runVehicleFlow(ctx, qr, analysis, cfg)
	case models.ProcessingGoogleShopping:
		if strings.TrimSpace(analysis.PrimaryQuery) == "" {
			err = pipelineerr.ErrQueryEmpty
		} else {
			err = c.runShoppingFlow(ctx, qr, analysis.PrimaryQuery, cfg)
		}
	default:
		err = fmt.Errorf("%w: unrecognized processing type %q", pipelineerr.ErrQueryEmpty, analysis.ProcessingType)
	}

	if err != nil {
		if errors.Is(err, pipelineerr.ErrCancelled) {
			return nil
		}
		return c.fail(ctx, qr, err.Error())
	}

	return c.finalize(ctx, qr, cfg)
}

// loadDomainPolicy refreshes the blocked-domain set and manufacturer
// whitelist fresh at request start (spec §9: "not compiled into
// constants").
func (c *Coordinator) loadDomainPolicy(ctx context.Context) error {
	blocked, err := c.blockedDomains.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load blocked domains: %w", err)
	}
	whitelist, err := c.blockedDomains.LoadManufacturerWhitelist(ctx)
	if err != nil {
		return fmt.Errorf("load manufacturer whitelist: %w", err)
	}
	c.policy.Load(blocked, whitelist)
	return nil
}

// ensureAnalysis implements the resume-skip rule: if claude_payload_json
// is already cached, no LLM call happens (spec §4.1, §8 invariant 4).
func (c *Coordinator) ensureAnalysis(ctx context.Context, qr *models.QuoteRequest, plan checkpoint.ResumePlan) (*models.CanonicalAnalysis, error) {
	if plan.SkipLLM {
		return plan.Analysis, nil
	}

	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointAIAnalysisStart, qr.ProgressPct, "calling llm", nil, ""); err != nil {
		return nil, fmt.Errorf("advance to AI_ANALYSIS_START: %w", err)
	}

	var analysis *models.CanonicalAnalysis
	var raw []byte
	var err error

	images, mimeTypes := c.loadInputImages(ctx, qr)
	started := time.Now()
	if len(images) > 0 {
		analysis, raw, err = c.llm.AnalyzeImages(ctx, qr.InputText, images, mimeTypes)
	} else {
		analysis, raw, err = c.llm.Analyze(ctx, qr.InputText)
	}
	if c.metrics != nil {
		c.metrics.LLMCallDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("llm analysis: %w", err)
	}

	if err := c.ledger.RecordLLMCost(ctx, qr.ID, analysis.TokenLedger.InputTokens, analysis.TokenLedger.OutputTokens,
		c.llmBRLPerInputToken, c.llmBRLPerOutputToken, nil, qr.ProjectID); err != nil {
		c.log.Warn().Err(err).Str("quote_request_id", qr.ID.String()).Msg("failed to record llm cost")
	}
	if err := c.ledger.LogCall(ctx, qr.ID, models.IntegrationLLM, "", analysis.CanonicalName, "", analysis.TokenLedger.Total()); err != nil {
		c.log.Warn().Err(err).Str("quote_request_id", qr.ID.String()).Msg("failed to log llm integration call")
	}

	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointAIAnalysisDone, qr.ProgressPct, "llm analysis complete", raw, "analysis_raw"); err != nil {
		return nil, fmt.Errorf("advance to AI_ANALYSIS_DONE: %w", err)
	}
	return analysis, nil
}

// loadInputImages rehydrates every File referenced by qr.InputImages into
// bytes for an image-analysis LLM call (spec §4.1 IMAGE/GOOGLE_LENS/
// IMAGE_BATCH input types). Text-only requests never reach this with a
// non-empty InputImages slice.
func (c *Coordinator) loadInputImages(ctx context.Context, qr *models.QuoteRequest) ([][]byte, []string) {
	if qr.InputType != models.InputImage && qr.InputType != models.InputGoogleLens && qr.InputType != models.InputImageBatch {
		return nil, nil
	}
	var images [][]byte
	var mimeTypes []string
	for _, id := range qr.InputImages {
		f, err := c.files.Get(ctx, id)
		if err != nil {
			c.log.Warn().Err(err).Str("file_id", id.String()).Msg("failed to load input image descriptor")
			continue
		}
		data, err := os.ReadFile(f.StoragePath)
		if err != nil {
			c.log.Warn().Err(err).Str("file_id", id.String()).Msg("failed to read input image blob")
			continue
		}
		images = append(images, data)
		mimeTypes = append(mimeTypes, f.Mime)
	}
	return images, mimeTypes
}

// runShoppingFlow drives the Shopping Search Provider + block search for
// the GOOGLE_SHOPPING path (spec §4.1.1, §4.2). Sources and failures are
// persisted incrementally inside RunBlockSearch, not batched here.
func (c *Coordinator) runShoppingFlow(ctx context.Context, qr *models.QuoteRequest, query string, cfg *models.ProjectConfigVersion) error {
	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointShoppingSearchStart, qr.ProgressPct, "querying aggregator", nil, ""); err != nil {
		return fmt.Errorf("advance to SHOPPING_SEARCH_START: %w", err)
	}

	started := time.Now()
	candidates, searchLog, err := c.shopping.Search(ctx, query)
	if c.metrics != nil {
		c.metrics.AggregatorDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return fmt.Errorf("shopping search: %w", err)
	}

	if err := c.ledger.RecordAggregatorCost(ctx, qr.ID, 1, c.aggregatorBRLPerCall, nil, qr.ProjectID); err != nil {
		c.log.Warn().Err(err).Str("quote_request_id", qr.ID.String()).Msg("failed to record aggregator cost")
	}
	if err := c.ledger.LogCall(ctx, qr.ID, models.IntegrationAggregator, c.shopping.SanitizedSearchURL(query), "", "", 0); err != nil {
		c.log.Warn().Err(err).Str("quote_request_id", qr.ID.String()).Msg("failed to log aggregator integration call")
	}

	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointShoppingSearchDone, qr.ProgressPct, "aggregator responded", searchLog.RawResponse, "shopping_raw"); err != nil {
		return fmt.Errorf("advance to SHOPPING_SEARCH_DONE: %w", err)
	}

	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointPriceExtractionStart, qr.ProgressPct, "block search running", nil, ""); err != nil {
		return fmt.Errorf("advance to PRICE_EXTRACTION_START: %w", err)
	}

	heartbeat := func() bool {
		if err := c.checkpoints.Heartbeat(ctx, qr.ID, c.workerID); err != nil {
			c.log.Warn().Err(err).Str("quote_request_id", qr.ID.String()).Msg("heartbeat failed")
		}
		cancelled, _ := c.checkpoints.Cancelled(ctx, qr.ID)
		return !cancelled
	}

	deps := ProbeDeps{
		Policy:              c.policy,
		Shopping:            c.shopping,
		Extractor:           c.extractor,
		EnablePriceMismatch: cfg.EnablePriceMismatch,
		RequestID:           qr.ID,
	}

	persist := Persist{
		InsertSource: func(ctx context.Context, src *models.QuoteSource) error {
			if c.metrics != nil {
				c.metrics.ProbeOutcomes.WithLabelValues("accepted").Inc()
			}
			return c.sources.InsertSource(ctx, src)
		},
		InsertFailure: func(ctx context.Context, f *models.QuoteSourceFailure) error {
			if c.metrics != nil {
				c.metrics.ProbeOutcomes.WithLabelValues(string(f.Reason)).Inc()
			}
			return c.sources.InsertFailure(ctx, f)
		},
		SetAccepted: c.sources.SetAccepted,
	}

	outcome, err := RunBlockSearch(ctx, candidates, cfg.NumberOfQuotes, cfg.Epsilon0(), deps, persist, heartbeat)
	if err != nil {
		return fmt.Errorf("block search: %w", err)
	}
	if c.metrics != nil && outcome.ToleranceIncreases > 0 {
		c.metrics.BlockEscalations.Add(float64(outcome.ToleranceIncreases))
	}
	return nil
}

// runVehicleFlow drives the FIPE sub-pipeline (spec §4.5), falling back to
// the shopping path if resolution fails but a fallback query exists.
func (c *Coordinator) runVehicleFlow(ctx context.Context, qr *models.QuoteRequest, analysis *models.CanonicalAnalysis, cfg *models.ProjectConfigVersion) error {
	if analysis.Vehicle == nil {
		return fmt.Errorf("%w: processing_type FIPE but no vehicle fields present", pipelineerr.ErrQueryEmpty)
	}

	fallbackQuery := ""
	if len(analysis.AlternativeQueries) > 0 {
		fallbackQuery = analysis.AlternativeQueries[0]
	} else {
		fallbackQuery = analysis.PrimaryQuery
	}

	resolution, fallback, err := c.vehicle.Resolve(ctx, *analysis.Vehicle, qr.ID.String(), fallbackQuery)
	if err != nil {
		if logErr := c.ledger.LogCall(ctx, qr.ID, models.IntegrationFipe, "", analysis.Vehicle.ModelTerm, "", 0); logErr != nil {
			c.log.Warn().Err(logErr).Msg("failed to log partial fipe integration call")
		}
		return pipelineerr.Wrap(pipelineerr.KindFipeUnreachable, "fipe resolution failed", err)
	}

	if fallback != nil {
		if logErr := c.ledger.LogCall(ctx, qr.ID, models.IntegrationFipe, "", analysis.Vehicle.ModelTerm, "", 0); logErr != nil {
			c.log.Warn().Err(logErr).Msg("failed to log partial fipe integration call")
		}
		if strings.TrimSpace(fallback.Query) == "" {
			return pipelineerr.ErrQueryEmpty
		}
		return c.runShoppingFlow(ctx, qr, fallback.Query, cfg)
	}

	if err := c.ledger.LogCall(ctx, qr.ID, models.IntegrationFipe, "", resolution.Bank.Model, "", 0); err != nil {
		c.log.Warn().Err(err).Msg("failed to log fipe integration call")
	}

	src := &models.QuoteSource{
		QuoteRequestID:   qr.ID,
		FinalURL:         "https://veiculos.fipe.org.br",
		Domain:           "veiculos.fipe.org.br",
		PageTitle:        fmt.Sprintf("%s %s %d", resolution.Bank.Brand, resolution.Bank.Model, resolution.Bank.Year),
		Price:            resolution.Bank.Price,
		Currency:         "BRL",
		Method:           models.MethodAPIFipe,
		ScreenshotFileID: resolution.Bank.ScreenshotFileID,
		IsAccepted:       true,
	}
	if err := c.sources.InsertSource(ctx, src); err != nil {
		return fmt.Errorf("insert fipe source: %w", err)
	}
	return nil
}

// MakeScreenshotPersister builds the callback vehicle.Resolver uses to turn
// a captured evidence file into a persisted File row (spec §9: "isolate
// behind one interface"). It takes a *store.FileStore directly rather than
// a *Coordinator method because the resolver is constructed by
// cmd/quoteworker before any Coordinator exists.
func MakeScreenshotPersister(files *store.FileStore) vehicle.PersistScreenshotFunc {
	return func(ctx context.Context, path, sha256Hex string) (uuid.UUID, error) {
		f := &models.File{
			Kind:        models.FileScreenshot,
			Mime:        "image/png",
			StoragePath: path,
			SHA256:      sha256Hex,
		}
		if err := files.Insert(ctx, f); err != nil {
			return uuid.Nil, err
		}
		return f.ID, nil
	}
}

// finalize computes the accepted aggregate from sources already persisted
// by runShoppingFlow/runVehicleFlow and applies the terminal-status rule
// (spec §4.1).
func (c *Coordinator) finalize(ctx context.Context, qr *models.QuoteRequest, cfg *models.ProjectConfigVersion) error {
	if err := c.checkpoints.Advance(ctx, qr.ID, models.CheckpointFinalization, qr.ProgressPct, "computing aggregate", nil, ""); err != nil {
		return fmt.Errorf("advance to FINALIZATION: %w", err)
	}

	mean, min, max, spread, k, err := c.sources.AcceptedAggregate(ctx, qr.ID)
	if err != nil {
		return fmt.Errorf("compute accepted aggregate: %w", err)
	}

	var status models.QuoteStatus
	var errMsg string
	switch {
	case k >= cfg.NumberOfQuotes:
		status = models.StatusDone
	case k > 0:
		status = models.StatusAwaitingReview
	default:
		status = models.StatusError
		errMsg = "nenhuma fonte de preco pode ser validada dentro da tolerancia configurada"
	}

	if err := c.requests.Finalize(ctx, qr.ID, status, errMsg, mean.String(), min.String(), max.String(), spread.String()); err != nil {
		return fmt.Errorf("finalize quote request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RequestsFinalized.WithLabelValues(string(status)).Inc()
	}
	c.recomputeBatch(ctx, qr)
	return nil
}

// fail records a fatal, request-ending error (spec §7: "rollback ...
// reload ... write status/error_message in an isolated second
// transaction; CANCELLED is never overwritten").
func (c *Coordinator) fail(ctx context.Context, qr *models.QuoteRequest, msg string) error {
	safeMsg := sanitizeErrorMessage(msg)
	if err := c.requests.Finalize(ctx, qr.ID, models.StatusError, safeMsg, "", "", "", ""); err != nil {
		return fmt.Errorf("finalize failed request: %w (original error: %s)", err, safeMsg)
	}
	if c.metrics != nil {
		c.metrics.RequestsFinalized.WithLabelValues(string(models.StatusError)).Inc()
	}
	c.recomputeBatch(ctx, qr)
	return nil
}

// recomputeBatch re-derives the parent batch job's counters and status
// once this child has reached a terminal state (spec §4.6). Best-effort:
// a failure here never changes this request's own outcome, and a later
// ListClaimable-driven recompute (or an explicit reconciliation pass)
// can always re-derive the same counters from quote_requests.
func (c *Coordinator) recomputeBatch(ctx context.Context, qr *models.QuoteRequest) {
	if qr.BatchJobID == nil || c.batches == nil {
		return
	}
	if _, err := c.batches.RecomputeCounters(ctx, *qr.BatchJobID); err != nil {
		c.log.Warn().Err(err).Str("batch_job_id", qr.BatchJobID.String()).Msg("failed to recompute batch counters")
	}
}

// sanitizeErrorMessage strips anything resembling an API key or secret
// from a user-visible error (spec §7: "sensitive data never appear in
// error_message").
func sanitizeErrorMessage(msg string) string {
	if idx := strings.Index(msg, "api_key"); idx >= 0 {
		return msg[:idx] + "[redacted]"
	}
	return msg
}

// sha256Hex is a small helper kept here (rather than duplicated per
// caller) for the few places the coordinator itself hashes bytes, e.g.
// rehydrating an input image to a File row before an image-analysis call.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PersistInputImage writes an uploaded image to the blob store and
// records a File row whose id can be listed in a QuoteRequest's
// InputImages for IMAGE-typed requests.
func PersistInputImage(ctx context.Context, files *store.FileStore, storageDir string, data []byte, mime string) (uuid.UUID, error) {
	sum := sha256Hex(data)
	path := filepath.Join(storageDir, fmt.Sprintf("input_%s.bin", sum))
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return uuid.Nil, fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return uuid.Nil, fmt.Errorf("write input image: %w", err)
	}
	f := &models.File{Kind: models.FileInputImage, Mime: mime, StoragePath: path, SHA256: sum}
	if err := files.Insert(ctx, f); err != nil {
		return uuid.Nil, err
	}
	return f.ID, nil
}
