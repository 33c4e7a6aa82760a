/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Shopping aggregator client: one search call returning a
             filtered candidate list, plus lazy per-candidate store
             resolution via the aggregator's immersive-product endpoint.
Root Cause:  Sprint task Q016 — Shopping Search Provider (spec §4.2).
Context:     The aggregator is a SerpAPI-shaped Google Shopping proxy;
             candidates carry a textual "source" store name rather than a
             URL until the per-candidate immersive call resolves one.
Suitability: L3 for the two-stage fetch/filter/resolve pipeline.
──────────────────────────────────────────────────────────────
*/

package shopping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/httppool"
	"github.com/cotaai/quotepipe/internal/pipelineerr"
	"github.com/cotaai/quotepipe/internal/retrysched"
)

const globalCandidateCap = 150

// Candidate is one product before a store URL has been resolved
// (SerpAPI's "ShoppingProduct" shape per the original search_provider.py).
type Candidate struct {
	Title           string
	PriceText       string
	ExtractedPrice  decimal.Decimal
	Source          string // textual store name, e.g. "Mercado Livre"
	ImmersiveAPIURL string
	ProductLink     string
	DirectLink      string
}

// ResolvedStore is the outcome of per-candidate store resolution.
type ResolvedStore struct {
	URL       string
	Price     decimal.Decimal
	StoreName string
}

// SearchLog mirrors the original provider's audit structure (spec §4.2:
// "a structured log: raw counts, drop reasons with counts").
type SearchLog struct {
	TotalRaw         int
	AfterSourceFilter int
	BlockedSources   int
	AfterPriceFilter int
	InvalidPrices    int
	RawResponse      json.RawMessage
}

// BlockedSourceMapper maps the aggregator's free-text "source" field to an
// eTLD+1 domain so it can be checked against the same blocked-domain set
// used for fully-resolved candidate URLs.
type BlockedSourceMapper func(source string) string

type Client struct {
	apiKey   string
	baseURL  string
	location string
	locale   string
	country  string
	client   *http.Client
	isBlocked func(domain string) bool
	mapSource BlockedSourceMapper
}

type Config struct {
	BaseURL  string
	APIKey   string
	Location string
	Locale   string
	Country  string
	Timeout  time.Duration
}

func NewClient(cfg Config, pool *httppool.Pool, isBlocked func(domain string) bool, mapSource BlockedSourceMapper) *Client {
	return &Client{
		apiKey:    cfg.APIKey,
		baseURL:   cfg.BaseURL,
		location:  cfg.Location,
		locale:    cfg.Locale,
		country:   cfg.Country,
		client:    pool.GetClient("aggregator", cfg.Timeout),
		isBlocked: isBlocked,
		mapSource: mapSource,
	}
}

// Search performs the single aggregator call and applies the filter
// pipeline of spec §4.2 (blocked source → valid price → global cap,
// ascending by price).
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, SearchLog, error) {
	raw, err := c.searchRaw(ctx, query)
	if err != nil {
		return nil, SearchLog{}, err
	}

	all, err := parseShoppingResults(raw)
	if err != nil {
		return nil, SearchLog{}, fmt.Errorf("parse aggregator response: %w", err)
	}

	log := SearchLog{TotalRaw: len(all), RawResponse: raw}

	var afterSource []Candidate
	for _, p := range all {
		domain := c.mapSource(p.Source)
		if domain != "" && c.isBlocked(domain) {
			log.BlockedSources++
			continue
		}
		afterSource = append(afterSource, p)
	}
	log.AfterSourceFilter = len(afterSource)

	var afterPrice []Candidate
	for _, p := range afterSource {
		if p.ExtractedPrice.IsZero() || p.ExtractedPrice.IsNegative() {
			log.InvalidPrices++
			continue
		}
		afterPrice = append(afterPrice, p)
	}
	log.AfterPriceFilter = len(afterPrice)

	sort.SliceStable(afterPrice, func(i, j int) bool {
		return afterPrice[i].ExtractedPrice.LessThan(afterPrice[j].ExtractedPrice)
	})
	if len(afterPrice) > globalCandidateCap {
		afterPrice = afterPrice[:globalCandidateCap]
	}

	if len(afterPrice) == 0 {
		return nil, log, pipelineerr.ErrNoCandidates
	}
	return afterPrice, log, nil
}

// ResolveStore calls the per-candidate immersive-product endpoint (or
// falls back to the candidate's own direct link) to obtain a concrete
// store URL and price, applying the ±5% price-sanity check against the
// aggregator's own price per seller (spec §4.2).
func (c *Client) ResolveStore(ctx context.Context, cand Candidate) (*ResolvedStore, error) {
	if cand.ImmersiveAPIURL == "" {
		return c.fallbackDirectLink(cand)
	}

	var resolved *ResolvedStore
	err := retrysched.Run(ctx, retrysched.AggregatorRateLimit, func(ctx context.Context) error {
		body, status, err := c.get(ctx, withAPIKey(cand.ImmersiveAPIURL, c.apiKey))
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests {
			return retrysched.MarkRetryable(fmt.Errorf("aggregator rate limited (429)"))
		}
		if status >= 300 {
			return fmt.Errorf("aggregator immersive call failed: status %d", status)
		}
		r, err := parseImmersiveResponse(body, cand)
		if err != nil {
			return err
		}
		resolved = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	return c.fallbackDirectLink(cand)
}

func (c *Client) fallbackDirectLink(cand Candidate) (*ResolvedStore, error) {
	link := cand.ProductLink
	if link == "" {
		link = cand.DirectLink
	}
	if link == "" {
		return nil, nil
	}
	return &ResolvedStore{URL: CleanTrackingParams(link), Price: cand.ExtractedPrice, StoreName: cand.Source}, nil
}

func (c *Client) searchValues(query string) url.Values {
	q := url.Values{}
	q.Set("engine", "google_shopping")
	q.Set("q", query)
	q.Set("gl", c.country)
	q.Set("hl", c.locale)
	q.Set("location", c.location)
	q.Set("num", "100")
	q.Set("api_key", c.apiKey)
	return q
}

// SanitizedSearchURL returns the search URL the coordinator logs to
// IntegrationLog, with the API key redacted (spec §4.2 "Cost accounting").
func (c *Client) SanitizedSearchURL(query string) string {
	return SanitizedURL(c.baseURL + "/search?" + c.searchValues(query).Encode())
}

func (c *Client) searchRaw(ctx context.Context, query string) (json.RawMessage, error) {
	q := c.searchValues(query)

	var raw json.RawMessage
	err := retrysched.Run(ctx, retrysched.AggregatorRateLimit, func(ctx context.Context) error {
		body, status, err := c.get(ctx, c.baseURL+"/search?"+q.Encode())
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests {
			return retrysched.MarkRetryable(fmt.Errorf("aggregator rate limited (429)"))
		}
		if status >= 300 {
			return fmt.Errorf("aggregator search failed: status %d", status)
		}
		raw = body
		return nil
	})
	return raw, err
}

func (c *Client) get(ctx context.Context, target string) (json.RawMessage, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create aggregator request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("aggregator request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read aggregator response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func withAPIKey(rawURL, apiKey string) string {
	sep := "&"
	if !strings.Contains(rawURL, "?") {
		sep = "?"
	}
	return rawURL + sep + "api_key=" + apiKey
}

// SanitizedURL redacts the api_key query parameter, for IntegrationLog
// rows (spec §4.2: "sanitized URL (API key redacted)").
func SanitizedURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Get("api_key") != "" {
		q.Set("api_key", "***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

var trackingParams = []string{
	"srsltid", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"gclid", "fbclid", "ref", "ref_",
}

// CleanTrackingParams strips known tracking query parameters that can
// cause spurious redirects (spec §4.1.2 step 1).
func CleanTrackingParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, p := range trackingParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
