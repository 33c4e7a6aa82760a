/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Domain validation gate for candidate URLs: blocked-domain
             set, Brazilian-TLD/whitelist check, and listing-page URL
             pattern rejection, expressed as an in-process Rego policy.
Root Cause:  Sprint task Q015 — per-candidate domain gate before
             extraction is attempted.
Context:     No OPA sidecar is deployed for this pipeline, so the Rego
             module is compiled once and evaluated in-process via the
             opa Go module's rego package.
Suitability: L3 for policy composition and eTLD+1 handling.
──────────────────────────────────────────────────────────────
*/

package policy

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"golang.org/x/net/publicsuffix"

	"github.com/cotaai/quotepipe/internal/models"
)

// domainGateModule compiles once at startup and is re-evaluated per
// candidate URL with a fresh input document (blocked set, whitelist,
// candidate URL).
const domainGateModule = `
package quotepipe.domaingate

import future.keywords.in

deny[reason] {
	input.domain in input.blocked_domains
	reason := sprintf("domain %s is on the blocklist", [input.domain])
}

deny[reason] {
	not input.is_br_domain
	not input.is_whitelisted
	reason := sprintf("domain %s is not a .br domain and is not whitelisted", [input.domain])
}

deny[reason] {
	input.is_listing_url
	reason := sprintf("url matches a listing-page pattern: %s", [input.path])
}
`

// listingPatterns mirrors spec §4.1.2 step 2's named examples verbatim
// ("/busca/", "?q=", "/category/", etc.).
var listingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/busca/`),
	regexp.MustCompile(`(?i)/search`),
	regexp.MustCompile(`(?i)/category/`),
	regexp.MustCompile(`(?i)/categoria/`),
	regexp.MustCompile(`(?i)[?&]q=`),
	regexp.MustCompile(`(?i)[?&]busca=`),
	regexp.MustCompile(`(?i)/c/[^/]+/?$`),
}

// Decision is the validator's verdict on one candidate URL.
type Decision struct {
	Allowed bool
	Reason  models.CaptureFailureReason
	Detail  string
	Domain  string
}

// Engine evaluates the domain gate against a blocklist and a
// manufacturer whitelist, both loaded from the database at request start
// (spec §9: "both should be loaded from DB, not compiled into constants").
type Engine struct {
	blocked     map[string]bool
	whitelisted map[string]bool
	query       rego.PreparedEvalQuery
}

// NewEngine compiles the domain-gate Rego module once; blocked and
// whitelist are supplied through Load since they can change between
// requests without recompiling the policy.
func NewEngine(ctx context.Context) (*Engine, error) {
	query, err := rego.New(
		rego.Query("data.quotepipe.domaingate.deny"),
		rego.Module("domaingate.rego", domainGateModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile domain gate policy: %w", err)
	}
	return &Engine{query: query}, nil
}

// Load refreshes the blocklist and manufacturer whitelist for the engine.
// Manufacturer whitelist entries let a known-good foreign domain (e.g. a
// manufacturer's own .com storefront) bypass the .br requirement.
func (e *Engine) Load(blocked []models.BlockedDomain, whitelist []string) {
	b := make(map[string]bool, len(blocked))
	for _, d := range blocked {
		b[strings.ToLower(d.Domain)] = true
	}
	w := make(map[string]bool, len(whitelist))
	for _, d := range whitelist {
		w[strings.ToLower(d)] = true
	}
	e.blocked = b
	e.whitelisted = w
}

// Validate runs the domain gate against one candidate URL, returning the
// specific CaptureFailureReason spec §4.1.2 step 2 requires on rejection.
func (e *Engine) Validate(ctx context.Context, candidateURL string) (Decision, error) {
	parsed, err := url.Parse(candidateURL)
	if err != nil || parsed.Host == "" {
		return Decision{Allowed: false, Reason: models.ReasonOther, Detail: "unparseable URL"}, nil
	}

	domain, err := effectiveDomain(parsed.Hostname())
	if err != nil {
		return Decision{Allowed: false, Reason: models.ReasonOther, Detail: err.Error()}, nil
	}

	isBR := strings.HasSuffix(domain, ".com.br") || strings.HasSuffix(domain, ".br")
	isListing := matchesListingPattern(parsed)

	input := map[string]any{
		"domain":          domain,
		"is_br_domain":    isBR,
		"is_whitelisted":  e.whitelisted[domain],
		"is_listing_url":  isListing,
		"path":            parsed.Path + "?" + parsed.RawQuery,
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"blocked_domains": setKeys(e.blocked),
		"domain":          input["domain"],
		"is_br_domain":    input["is_br_domain"],
		"is_whitelisted":  input["is_whitelisted"],
		"is_listing_url":  input["is_listing_url"],
		"path":            input["path"],
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluate domain gate: %w", err)
	}

	reasons := denyReasons(rs)
	if len(reasons) == 0 {
		return Decision{Allowed: true, Domain: domain}, nil
	}

	// First deny wins the CaptureFailureReason, checked in priority order:
	// BLOCKED_DOMAIN, FOREIGN_DOMAIN, LISTING_URL.
	switch {
	case e.blocked[domain]:
		return Decision{Allowed: false, Reason: models.ReasonBlockedDomain, Detail: reasons[0], Domain: domain}, nil
	case !isBR && !e.whitelisted[domain]:
		return Decision{Allowed: false, Reason: models.ReasonForeignDomain, Detail: reasons[0], Domain: domain}, nil
	case isListing:
		return Decision{Allowed: false, Reason: models.ReasonListingURL, Detail: reasons[0], Domain: domain}, nil
	default:
		return Decision{Allowed: false, Reason: models.ReasonOther, Detail: reasons[0], Domain: domain}, nil
	}
}

func matchesListingPattern(u *url.URL) bool {
	full := u.Path
	if u.RawQuery != "" {
		full += "?" + u.RawQuery
	}
	for _, p := range listingPatterns {
		if p.MatchString(full) {
			return true
		}
	}
	return false
}

// effectiveDomain computes eTLD+1, falling back to the bare host when the
// public suffix list has no rule for it (e.g. an already-bare second-level
// domain in a test environment).
func effectiveDomain(host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host, nil
	}
	return etld1, nil
}

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func denyReasons(rs rego.ResultSet) []string {
	var reasons []string
	for _, result := range rs {
		for _, expr := range result.Expressions {
			values, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, v := range values {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}
	return reasons
}
