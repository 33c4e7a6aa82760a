package models

// QuoteStatus is the terminal-status lattice of a QuoteRequest (spec §3, §4.1).
type QuoteStatus string

const (
	StatusProcessing      QuoteStatus = "PROCESSING"
	StatusDone            QuoteStatus = "DONE"
	StatusError           QuoteStatus = "ERROR"
	StatusCancelled       QuoteStatus = "CANCELLED"
	StatusAwaitingReview  QuoteStatus = "AWAITING_REVIEW"
)

// InputType tags how the quotation was initiated.
type InputType string

const (
	InputText       InputType = "TEXT"
	InputImage      InputType = "IMAGE"
	InputGoogleLens InputType = "GOOGLE_LENS"
	InputTextBatch  InputType = "TEXT_BATCH"
	InputImageBatch InputType = "IMAGE_BATCH"
	InputFileBatch  InputType = "FILE_BATCH"
)

// ExtractionMethod records how a QuoteSource's price was obtained.
//
// The source system labels the regex-based fallback extractor "LLM" — a
// historical misnomer. This port renames it to REGEX (see DESIGN.md,
// Open Question: price-method taxonomy).
type ExtractionMethod string

const (
	MethodJSONLD          ExtractionMethod = "JSONLD"
	MethodMeta            ExtractionMethod = "META"
	MethodDOM             ExtractionMethod = "DOM"
	MethodRegex           ExtractionMethod = "REGEX"
	MethodAPIFipe         ExtractionMethod = "API_FIPE"
	MethodGoogleShopping  ExtractionMethod = "GOOGLE_SHOPPING"
)

// CaptureFailureReason classifies a discarded candidate (spec §3 QuoteSourceFailure).
type CaptureFailureReason string

const (
	ReasonNoStoreLink    CaptureFailureReason = "NO_STORE_LINK"
	ReasonBlockedDomain  CaptureFailureReason = "BLOCKED_DOMAIN"
	ReasonForeignDomain  CaptureFailureReason = "FOREIGN_DOMAIN"
	ReasonListingURL     CaptureFailureReason = "LISTING_URL"
	ReasonDuplicateURL   CaptureFailureReason = "DUPLICATE_URL"
	ReasonPriceMismatch  CaptureFailureReason = "PRICE_MISMATCH"
	ReasonInvalidPrice   CaptureFailureReason = "INVALID_PRICE"
	ReasonScreenshotError CaptureFailureReason = "SCREENSHOT_ERROR"
	ReasonOther          CaptureFailureReason = "OTHER"
)

// FileKind tags a File row's purpose.
type FileKind string

const (
	FileInputImage       FileKind = "INPUT_IMAGE"
	FileScreenshot        FileKind = "SCREENSHOT"
	FileGeneratedDocument FileKind = "GENERATED_DOCUMENT"
)

// ProcessingType is the LLM-chosen route for a QuoteRequest.
type ProcessingType string

const (
	ProcessingFIPE            ProcessingType = "FIPE"
	ProcessingGoogleShopping  ProcessingType = "GOOGLE_SHOPPING"
)

// IntegrationKind classifies an external call for IntegrationLog/FinancialTransaction.
type IntegrationKind string

const (
	IntegrationLLM        IntegrationKind = "LLM"
	IntegrationAggregator IntegrationKind = "AGGREGATOR"
	IntegrationFipe       IntegrationKind = "FIPE"
)

// CheckpointTag is the linear milestone sequence of spec §4.1, consolidating
// the source's scattered current_step/progress_percentage/step_details/
// google_shopping_response_json/claude_payload_json/resume_data/
// processing_checkpoint columns into one tagged value (spec §9).
type CheckpointTag string

const (
	CheckpointInit                 CheckpointTag = "INIT"
	CheckpointAIAnalysisStart      CheckpointTag = "AI_ANALYSIS_START"
	CheckpointAIAnalysisDone       CheckpointTag = "AI_ANALYSIS_DONE"
	CheckpointShoppingSearchStart  CheckpointTag = "SHOPPING_SEARCH_START"
	CheckpointShoppingSearchDone   CheckpointTag = "SHOPPING_SEARCH_DONE"
	CheckpointPriceExtractionStart CheckpointTag = "PRICE_EXTRACTION_START"
	CheckpointFinalization         CheckpointTag = "FINALIZATION"
	CheckpointCompleted            CheckpointTag = "COMPLETED"
	CheckpointFailed               CheckpointTag = "FAILED"
)

// progressAt is the well-known progress percentage for each checkpoint
// tag (spec §4.1 progress contract).
var progressAt = map[CheckpointTag]int{
	CheckpointInit:                 5,
	CheckpointAIAnalysisStart:      10,
	CheckpointAIAnalysisDone:       30,
	CheckpointShoppingSearchStart:  40,
	CheckpointShoppingSearchDone:   50,
	CheckpointPriceExtractionStart: 60,
	CheckpointFinalization:         95,
	CheckpointCompleted:            100,
}

// ProgressFor returns the well-known percentage for a checkpoint tag, or
// the previous value if the tag is unrecognized (keeps progress monotone).
func ProgressFor(tag CheckpointTag, previous int) int {
	if pct, ok := progressAt[tag]; ok && pct > previous {
		return pct
	}
	return previous
}

// BatchStatus is the terminal lattice for a batch job (spec §4.6).
type BatchStatus string

const (
	BatchProcessing        BatchStatus = "PROCESSING"
	BatchCompleted         BatchStatus = "COMPLETED"
	BatchPartiallyCompleted BatchStatus = "PARTIALLY_COMPLETED"
)
