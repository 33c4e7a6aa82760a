// Package models holds the plain data entities of spec.md §3. Dynamic
// payloads that the source stores as opaque dicts (claude_payload_json,
// google_shopping_response_json, resume_data) get a narrow parsed form
// here for the fields the core actually reads, plus a raw json.RawMessage
// for audit — never reparsed from the DB once cached on the in-memory
// request (spec §9).
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteRequest is the unit of work driven by the Coordinator.
type QuoteRequest struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	CompletedAt *time.Time

	InputText   string
	InputImages []uuid.UUID // File refs, kind=INPUT_IMAGE
	InputType   InputType

	ProjectID       *uuid.UUID
	ConfigVersionID uuid.UUID
	ParentQuoteID   *uuid.UUID // original_quote_id, always the chain root
	BatchJobID      *uuid.UUID

	Status QuoteStatus

	// Progress contract (spec §4.1).
	CheckpointTag CheckpointTag
	ProgressPct   int
	StepDetail    string

	// Parsed analysis output, cached once computed; AnalysisRaw is the
	// uninterpreted LLM payload kept for audit.
	Analysis    *CanonicalAnalysis
	AnalysisRaw json.RawMessage

	// Cached aggregator response, same pattern.
	ShoppingRaw json.RawMessage

	// Aggregate result, populated at finalization.
	MeanPrice   decimal.Decimal
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	SpreadPct   decimal.Decimal

	ErrorMessage string

	AttemptNumber   int
	OriginalQuoteID *uuid.UUID // redundant alias of ParentQuoteID, kept for spec fidelity

	// Claim/lease fields (spec §4.1, §5).
	WorkerID      string
	LastHeartbeat time.Time
}

// Root returns the chain root id per spec §9 (collapsed, one-hop chain).
func (q *QuoteRequest) Root() uuid.UUID {
	if q.OriginalQuoteID != nil {
		return *q.OriginalQuoteID
	}
	return q.ID
}

// CanonicalAnalysis is the narrow parsed form of the LLM's analysis JSON
// (spec §4.4, §9).
type CanonicalAnalysis struct {
	CanonicalName  string
	Brand          string
	Model          string
	ProcessingType ProcessingType
	Specs          map[string]string

	// Shopping path.
	PrimaryQuery      string
	AlternativeQueries []string
	ExcludeTerms      []string

	// FIPE path.
	Vehicle *VehicleIdentification

	TokenLedger TokenLedger
}

type VehicleIdentification struct {
	BrandTerm string
	ModelTerm string
	Year      int
	FuelHint  string
}

type TokenLedger struct {
	InputTokens  int
	OutputTokens int
}

func (t TokenLedger) Total() int { return t.InputTokens + t.OutputTokens }

// QuoteSource is one accepted price observation.
type QuoteSource struct {
	ID             uuid.UUID
	QuoteRequestID uuid.UUID
	FinalURL       string
	Domain         string // eTLD+1
	PageTitle      string
	Price          decimal.Decimal
	Currency       string
	Method         ExtractionMethod
	ScreenshotFileID *uuid.UUID
	CapturedAt     time.Time
	IsOutlier      bool // reserved, always false (spec §9 Open Question)
	IsAccepted     bool
	FailureReason  *CaptureFailureReason
}

// QuoteSourceFailure records every discarded candidate.
type QuoteSourceFailure struct {
	ID             uuid.UUID
	QuoteRequestID uuid.UUID
	URL            string
	Domain         string
	ProductTitle   string
	AggregatorPrice decimal.Decimal
	Reason         CaptureFailureReason
	Message        string
	CreatedAt      time.Time
}

// File is an immutable blob descriptor.
type File struct {
	ID          uuid.UUID
	Kind        FileKind
	Mime        string
	StoragePath string
	SHA256      string
	CreatedAt   time.Time
}

// ProjectConfigVersion is a frozen parameter snapshot referenced by a QuoteRequest.
type ProjectConfigVersion struct {
	ID                  uuid.UUID
	ProjectID           uuid.UUID
	NumberOfQuotes       int     // N, default 3
	MaxVariationPercent  float64 // ε0, default 25 (as a percent, not a fraction)
	EnablePriceMismatch  bool
	AggregatorLocation  string
	AggregatorLanguage  string
	AggregatorCountry   string

	// v2 feature flags (spec §9 Open Questions; preserved, unimplemented).
	EnableSpecExtraction bool
	EnableSpecValidation bool
	EnableLinearMeter    bool
	SpecDimensionTolerance float64 // default 0.20, from original_source
}

// Epsilon0 returns the initial block tolerance as a fraction (e.g. 25 -> 0.25).
func (p *ProjectConfigVersion) Epsilon0() float64 {
	return p.MaxVariationPercent / 100.0
}

// VehiclePriceBank is deduplicated by (CodigoFipe, YearID).
type VehiclePriceBank struct {
	ID               uuid.UUID
	CodigoFipe       string
	YearID           string
	Brand            string
	Model            string
	Year             int
	Fuel             string
	Price            decimal.Decimal
	ReferenceMonth   string
	ScreenshotFileID *uuid.UUID
	LastAPICall      *time.Time
	UpdatedAt        time.Time
}

// IntegrationLog is an append-only audit row for every external call.
type IntegrationLog struct {
	ID             uuid.UUID
	QuoteRequestID uuid.UUID
	Kind           IntegrationKind
	CalledAt       time.Time
	SanitizedURL   string
	ProductTitle   string
	StoreLink      string
	Tokens         int
}

// FinancialTransaction is an append-only, immutable cost record.
type FinancialTransaction struct {
	ID             uuid.UUID
	QuoteRequestID uuid.UUID
	Kind           IntegrationKind
	Tokens         int
	Calls          int
	UnitCostBRL    decimal.Decimal
	TotalCostBRL   decimal.Decimal
	ClientID       *uuid.UUID
	ProjectID      *uuid.UUID
	CreatedAt      time.Time
}

// BlockedDomain is a blocklist row, loaded at request start per spec §9
// ("both should be loaded from DB ... not compiled into constants").
type BlockedDomain struct {
	ID         uuid.UUID
	Domain     string // eTLD+1
	SourceName string // free-text aggregator "source" field this maps from, e.g. "Mercado Livre"
}

// BatchJob references N child QuoteRequests (spec §4.6).
type BatchJob struct {
	ID        uuid.UUID
	Total     int
	Completed int
	Failed    int
	Status    BatchStatus
	CreatedAt time.Time
}
