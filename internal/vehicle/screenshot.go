/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Evidence screenshot capture for a resolved FIPE code, driving
             the public vehicle-table site's jQuery-Chosen widgets with a
             deterministic script (spec §4.5 "Evidence screenshot").
Root Cause:  Sprint task Q021 — FIPE evidence capture.
Context:     jQuery Chosen replaces a native <select> with a div widget;
             the script sets the FIPE-code input directly and fires
             change/blur on it. It does not fire chosen:updated and does
             not select a year/fuel option.
Suitability: L4 — scripted browser interaction is brittle by nature and
             needs a documented fallback (uncropped full-page screenshot).
──────────────────────────────────────────────────────────────
*/

package vehicle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// fipeTableChosenScript clicks the "by FIPE code" tab if present, writes
// the code into the FIPE-code input and fires change and blur on it. It
// does not expand the vehicle-type accordion.
// %q is the FIPE code, inlined since chromedp.Evaluate takes a bare
// expression string with no argument-binding of its own.
const fipeTableChosenScript = `
(function() {
  var codigo = %q;
  var typeTab = document.querySelector('[data-tab="fipe-code"], #tab-codigo-fipe');
  if (typeTab) typeTab.click();
  var input = document.querySelector('input[name="codigoFipe"], #codigo-fipe-input');
  if (input) {
    input.value = codigo;
    input.dispatchEvent(new Event('change', {bubbles: true}));
    input.dispatchEvent(new Event('blur', {bubbles: true}));
  }
})();
`

type ChromedpCapturer struct {
	allocatorCtx context.Context
	baseURL      string
	navTimeout   time.Duration
	storageDir   string
}

func NewChromedpCapturer(allocatorCtx context.Context, baseURL string, navTimeout time.Duration, storageDir string) *ChromedpCapturer {
	return &ChromedpCapturer{allocatorCtx: allocatorCtx, baseURL: baseURL, navTimeout: navTimeout, storageDir: storageDir}
}

// CaptureFipeEvidence drives the public FIPE table site with
// fipeTableChosenScript and screenshots the result table, falling back to
// an uncropped full-page screenshot if the result table never appears.
// yearLabel is not used.
func (c *ChromedpCapturer) CaptureFipeEvidence(ctx context.Context, codigoFipe, yearLabel, requestID string) (string, string, error) {
	tctx, cancel := chromedp.NewContext(c.allocatorCtx)
	defer cancel()
	tctx, cancel2 := context.WithTimeout(tctx, c.navTimeout)
	defer cancel2()

	var shot []byte
	err := chromedp.Run(tctx,
		chromedp.Navigate(c.baseURL),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Evaluate(fmt.Sprintf(fipeTableChosenScript, codigoFipe), nil),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Click("button.btn-consultar, #consultar", chromedp.NodeNotVisible),
		chromedp.Sleep(1200*time.Millisecond),
	)
	if err == nil {
		var resultShot []byte
		if e := chromedp.Run(tctx, chromedp.Screenshot("#resultado, .resultado-tabela", &resultShot, chromedp.NodeVisible)); e == nil {
			shot = resultShot
		}
	}
	if shot == nil {
		var fullShot []byte
		if e := chromedp.Run(tctx, chromedp.FullScreenshot(&fullShot, 90)); e != nil {
			return "", "", fmt.Errorf("fipe evidence capture failed: %w", e)
		}
		shot = fullShot // fallback: the whole page, not cropped
	}

	sum := sha256.Sum256(shot)
	hexSum := hex.EncodeToString(sum[:])
	name := fmt.Sprintf("screenshot_fipe_%s_%s.png", requestID, codigoFipe)
	path := filepath.Join(c.storageDir, name)
	if err := os.MkdirAll(c.storageDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create storage dir: %w", err)
	}
	if err := os.WriteFile(path, shot, 0o644); err != nil {
		return "", "", fmt.Errorf("write fipe screenshot: %w", err)
	}
	return path, hexSum, nil
}
