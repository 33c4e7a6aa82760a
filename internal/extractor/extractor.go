/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Headless-browser price extraction (spec §4.3): navigate,
             screenshot, run the JSONLD→META→DOM→Regex cascade, sanitize
             the BR-locale price, bound concurrency to a small pool of
             browser contexts.
Root Cause:  Sprint task Q017 — Price Extractor.
Context:     chromedp is the only pack-available headless-browser driver
             (flagged out-of-pack/named-not-grounded in DESIGN.md, since no
             example repo does browser automation); its context-per-tab
             model maps directly onto the bounded-pool requirement.
Suitability: L4 — browser automation correctness directly gates whether a
             QuoteSource is ever recorded.
──────────────────────────────────────────────────────────────
*/

package extractor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/concurrency"
	"github.com/cotaai/quotepipe/internal/models"
)

const (
	minPriceBRL = 1.00
	maxPriceBRL = 10_000_000.00
	poolKey     = "browser-contexts"
)

var cssPriceSelectors = []string{
	".price", ".product-price", "[itemprop=price]", "[data-price]", ".current-price", ".sale-price",
}

var currencyRegex = regexp.MustCompile(`R\$\s*\d{1,3}(?:\.\d{3})*,\d{2}`)

// Result is the outcome of a successful extraction.
type Result struct {
	Price          decimal.Decimal
	Method         models.ExtractionMethod
	ScreenshotPath string
	ScreenshotSHA  string
}

// Extractor drives headless Chromium through the extraction cascade,
// bounding concurrent browser contexts via a Semaphore (default 3, spec §4.3).
type Extractor struct {
	allocatorCtx context.Context
	cancelAlloc  context.CancelFunc
	pool         *concurrency.Semaphore
	navTimeout   time.Duration
	storageDir   string
}

func New(poolSize int, navTimeout time.Duration, storageDir string) *Extractor {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"),
		chromedp.WindowSize(1920, 1080),
		chromedp.Lang("pt-BR"),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Extractor{
		allocatorCtx: allocCtx,
		cancelAlloc:  cancel,
		pool:         concurrency.NewSemaphore(poolSize),
		navTimeout:   navTimeout,
		storageDir:   storageDir,
	}
}

func (e *Extractor) Close() { e.cancelAlloc() }

// CaptureGoogleShoppingMode takes a single-attempt screenshot and returns
// the aggregator's own price verbatim (spec §4.3: "Screenshot is
// mandatory in google-only mode; its absence fails the candidate").
func (e *Extractor) CaptureGoogleShoppingMode(ctx context.Context, pageURL string, aggregatorPrice decimal.Decimal, requestID string, index int) (*Result, error) {
	if !e.pool.Acquire(poolKey, e.navTimeout) {
		return nil, fmt.Errorf("extractor pool exhausted")
	}
	defer e.pool.Release(poolKey)

	tctx, cancel := chromedp.NewContext(e.allocatorCtx)
	defer cancel()
	tctx, cancel2 := context.WithTimeout(tctx, e.navTimeout)
	defer cancel2()

	var shot []byte
	err := chromedp.Run(tctx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.FullScreenshot(&shot, 90),
	)
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	path, sum, err := e.saveScreenshot(shot, requestID, index)
	if err != nil {
		return nil, err
	}
	return &Result{Price: aggregatorPrice, Method: models.MethodGoogleShopping, ScreenshotPath: path, ScreenshotSHA: sum}, nil
}

// CaptureValidatedMode runs the full cascade (spec §4.3): JSONLD → META →
// DOM → regex, in the same navigation as the screenshot.
func (e *Extractor) CaptureValidatedMode(ctx context.Context, pageURL string, requestID string, index int) (*Result, error) {
	if !e.pool.Acquire(poolKey, e.navTimeout) {
		return nil, fmt.Errorf("extractor pool exhausted")
	}
	defer e.pool.Release(poolKey)

	tctx, cancel := chromedp.NewContext(e.allocatorCtx)
	defer cancel()
	tctx, cancel2 := context.WithTimeout(tctx, e.navTimeout)
	defer cancel2()

	var html string
	var shot []byte
	err := chromedp.Run(tctx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(800*time.Millisecond),
		chromedp.OuterHTML("html", &html),
		chromedp.FullScreenshot(&shot, 90),
	)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}

	price, method, ok := ExtractPrice(html)
	if !ok {
		return nil, fmt.Errorf("no price found via any extraction method")
	}

	path, sum, err := e.saveScreenshot(shot, requestID, index)
	if err != nil {
		return nil, err
	}
	return &Result{Price: price, Method: method, ScreenshotPath: path, ScreenshotSHA: sum}, nil
}

func (e *Extractor) saveScreenshot(data []byte, requestID string, index int) (string, string, error) {
	sum := sha256.Sum256(data)
	hexSum := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("screenshot_%s_%d.png", requestID, index)
	path := filepath.Join(e.storageDir, name)
	if err := os.MkdirAll(e.storageDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, hexSum, nil
}

// ExtractPrice runs the cascade against already-fetched HTML, so the
// cascade can be exercised without a browser.
func ExtractPrice(html string) (decimal.Decimal, models.ExtractionMethod, bool) {
	if p, ok := extractJSONLD(html); ok {
		if v, ok := SanitizePrice(p); ok {
			return v, models.MethodJSONLD, true
		}
	}
	if p, ok := extractMetaPrice(html); ok {
		if v, ok := SanitizePrice(p); ok {
			return v, models.MethodMeta, true
		}
	}
	if p, ok := extractDOMSelector(html); ok {
		if v, ok := SanitizePrice(p); ok {
			return v, models.MethodDOM, true
		}
	}
	if p, ok := extractRegexPrice(html); ok {
		if v, ok := SanitizePrice(p); ok {
			return v, models.MethodRegex, true
		}
	}
	return decimal.Decimal{}, "", false
}

// SanitizePrice parses a price string from either locale the cascade's
// sources emit — BR-formatted text (dot = thousands, comma = decimal,
// e.g. "R$ 1.234,56") from the regex/DOM-selector branches, or en-locale
// decimals (dot = decimal, e.g. "199.90") from JSON-LD/OpenGraph meta
// fields — and accepts only values in (R$1.00, R$10,000,000.00] (spec
// §4.3). The separator is ambiguous only when both '.' and ',' appear;
// whichever comes last is the decimal point, the other is a thousands
// grouping. A lone '.' (no comma at all) is always the decimal point,
// since that's how every machine-readable source in the cascade emits
// it — never leave it as a stripped-out thousands separator.
func SanitizePrice(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// BR: "1.234,56" — dot(s) are thousands groupings.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// en: "1,234.56" — comma(s) are thousands groupings.
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Only a comma: BR shorthand decimal, e.g. "89,90".
		s = strings.Replace(s, ",", ".", 1)
	}
	// Only a dot, or neither: already the decimal form ParseFloat wants.
	s = strings.TrimSpace(s)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if f <= minPriceBRL || f > maxPriceBRL {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(f), true
}
