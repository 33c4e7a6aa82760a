/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Orchestration layer around the two Provider backends: one
             retry schedule (the overload ladder) for both rate-limit and
             overload errors, circuit breaker, and a single analysis call
             per request for text-only and image-present input alike.
Root Cause:  Sprint task Q013 — turn a raw provider response into a
             CanonicalAnalysis the coordinator can act on.
Context:     The provider only returns text; this layer is the one place
             that knows the analysis is "one JSON object between { and }"
             (spec §6) and owns backend failover between default/alternative.
Suitability: L3 for the retry/breaker/fallback composition.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cotaai/quotepipe/internal/circuitbreak"
	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/pipelineerr"
	"github.com/cotaai/quotepipe/internal/retrysched"
)

// Client wraps a default and an alternative Provider with a retry ladder
// and a shared circuit breaker, and decodes raw text into a
// CanonicalAnalysis (spec §4.4).
type Client struct {
	primary   Provider
	secondary Provider
	breaker   *circuitbreak.Breaker
}

func NewClient(primary, secondary Provider) *Client {
	return &Client{
		primary:   primary,
		secondary: secondary,
		breaker:   circuitbreak.New("llm", 0.5, 30*time.Second),
	}
}

// rawAnalysisPrompt is the single-call system prompt for text-only input;
// prompt wording itself is out of the port's scope (spec §1 non-goal), this
// is a minimal stand-in instructing the shape the caller depends on.
const rawAnalysisPrompt = `You are a product identification assistant for a public-sector asset
revaluation pipeline. Given the product description, respond with exactly
one JSON object (no surrounding prose) with fields: canonical_name, brand,
model, processing_type ("GOOGLE_SHOPPING" or "FIPE"), specs (object),
primary_query, alternative_queries (array), exclude_terms (array), and,
when processing_type is FIPE, a vehicle object with brand_term, model_term,
year, fuel_hint.`

const imageAnalysisPrompt = `You are a product identification assistant. Describe and identify the
product in the attached image(s), then respond with exactly one JSON
object in the same shape as the text-only flow.`

// Analyze runs the text-only single-call flow (spec §4.4 "Text only: single
// call producing the full analysis JSON").
func (c *Client) Analyze(ctx context.Context, text string) (*models.CanonicalAnalysis, json.RawMessage, error) {
	resp, err := c.complete(ctx, Request{
		SystemPrompt: rawAnalysisPrompt,
		Blocks:       []ContentBlock{TextBlock(text)},
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, nil, err
	}
	return parseAnalysis(resp)
}

// AnalyzeImages runs the image-present flow as one call: every image plus
// any accompanying text goes to the backend in a single request, and the
// canonical analysis is decoded from that one reply. No separate
// per-image description call is made.
func (c *Client) AnalyzeImages(ctx context.Context, text string, images [][]byte, mimeTypes []string) (*models.CanonicalAnalysis, json.RawMessage, error) {
	blocks := make([]ContentBlock, 0, len(images)+1)
	for i, img := range images {
		mime := "image/jpeg"
		if i < len(mimeTypes) && mimeTypes[i] != "" {
			mime = mimeTypes[i]
		}
		blocks = append(blocks, ImageBlock(img, mime))
	}
	if text != "" {
		blocks = append(blocks, TextBlock(text))
	}

	resp, err := c.complete(ctx, Request{
		SystemPrompt: imageAnalysisPrompt,
		Blocks:       blocks,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, nil, err
	}
	return parseAnalysis(resp)
}

// complete runs req on the primary backend through the circuit breaker,
// retrying rate-limit and overload errors on the ladder ladderFor returns,
// and falls back to the secondary backend whenever the primary call ends
// in any error.
func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response

	runOn := func(p Provider, sched Schedule) error {
		return retrysched.Run(ctx, sched, func(ctx context.Context) error {
			r, err := p.Complete(ctx, req)
			if err == nil {
				resp = r
				return nil
			}
			var pe *Error
			if ok := asProviderError(err, &pe); ok {
				switch pe.Kind {
				case ErrRateLimit:
					return retrysched.MarkRetryable(err)
				case ErrOverload:
					return retrysched.MarkRetryable(err)
				}
			}
			return err
		})
	}

	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		return runOn(c.primary, ladderFor(req))
	})
	if err == nil {
		return resp, nil
	}
	if c.secondary == nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindProviderOverload, "primary llm backend exhausted", err)
	}

	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		return runOn(c.secondary, ladderFor(req))
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindProviderOverload, "both llm backends failed", err)
	}
	return resp, nil
}

// ladderFor picks the overload ladder as the default, since it is the
// wider of the two (spec §4.4 names overload as the more persistent
// failure mode); rate-limit responses still retry on the same call since
// MarkRetryable just signals "retry", the schedule consumed is whichever
// Run was invoked with. retrysched.LLMRateLimit is not used by this client.
func ladderFor(_ Request) Schedule {
	return retrysched.LLMOverload
}

func asProviderError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// parseAnalysis extracts the single JSON object the prompt demands (spec
// §6: "Model must return one JSON object between { and }") and maps it
// into the narrow CanonicalAnalysis shape.
func parseAnalysis(resp *Response) (*models.CanonicalAnalysis, json.RawMessage, error) {
	raw, err := extractJSONObject(resp.Text)
	if err != nil {
		return nil, nil, pipelineerr.Wrap(pipelineerr.KindInternal, "llm response had no JSON object", err)
	}

	var payload analysisPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, pipelineerr.Wrap(pipelineerr.KindInternal, "llm response JSON did not match analysis shape", err)
	}

	analysis := &models.CanonicalAnalysis{
		CanonicalName:      payload.CanonicalName,
		Brand:              payload.Brand,
		Model:              payload.Model,
		ProcessingType:     models.ProcessingType(payload.ProcessingType),
		Specs:              payload.Specs,
		PrimaryQuery:       payload.PrimaryQuery,
		AlternativeQueries: payload.AlternativeQueries,
		ExcludeTerms:       payload.ExcludeTerms,
		TokenLedger: models.TokenLedger{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if payload.Vehicle != nil {
		analysis.Vehicle = &models.VehicleIdentification{
			BrandTerm: payload.Vehicle.BrandTerm,
			ModelTerm: payload.Vehicle.ModelTerm,
			Year:      payload.Vehicle.Year,
			FuelHint:  payload.Vehicle.FuelHint,
		}
	}
	return analysis, json.RawMessage(raw), nil
}

type analysisPayload struct {
	CanonicalName      string            `json:"canonical_name"`
	Brand              string            `json:"brand"`
	Model              string            `json:"model"`
	ProcessingType     string            `json:"processing_type"`
	Specs              map[string]string `json:"specs"`
	PrimaryQuery       string            `json:"primary_query"`
	AlternativeQueries []string          `json:"alternative_queries"`
	ExcludeTerms       []string          `json:"exclude_terms"`
	Vehicle            *vehiclePayload   `json:"vehicle"`
}

type vehiclePayload struct {
	BrandTerm string `json:"brand_term"`
	ModelTerm string `json:"model_term"`
	Year      int    `json:"year"`
	FuelHint  string `json:"fuel_hint"`
}

// extractJSONObject returns the first balanced {...} span in s, tolerating
// leading/trailing prose the model may emit despite instructions.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no '{' found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no balanced '}' found in response")
}
