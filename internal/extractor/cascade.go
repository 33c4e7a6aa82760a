package extractor

import (
	"encoding/json"
	"regexp"
	"strconv"
)

var jsonldBlockRegex = regexp.MustCompile(`(?is)<script[^>]+type=["']application/ld\+json["'][^>]*>(.*?)</script>`)

// extractJSONLD reads every <script type="application/ld+json"> block and
// returns the first Product.offers.price (or bare Offer.price) found
// (spec §4.3 step 1).
func extractJSONLD(html string) (string, bool) {
	for _, m := range jsonldBlockRegex.FindAllStringSubmatch(html, -1) {
		if price, ok := priceFromJSONLDBlock(m[1]); ok {
			return price, true
		}
	}
	return "", false
}

func priceFromJSONLDBlock(raw string) (string, bool) {
	var node any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return "", false
	}
	return findPriceField(node)
}

func findPriceField(node any) (string, bool) {
	switch v := node.(type) {
	case map[string]any:
		if offers, ok := v["offers"]; ok {
			if p, ok := findPriceField(offers); ok {
				return p, true
			}
		}
		if p, ok := v["price"]; ok {
			return toPriceString(p), true
		}
		for _, child := range v {
			if p, ok := findPriceField(child); ok {
				return p, true
			}
		}
	case []any:
		for _, item := range v {
			if p, ok := findPriceField(item); ok {
				return p, true
			}
		}
	}
	return "", false
}

func toPriceString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', 2, 64)
	default:
		return ""
	}
}

var metaPriceRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]+property=["']og:price:amount["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]+content=["']([^"']+)["'][^>]+property=["']og:price:amount["']`),
	regexp.MustCompile(`(?i)<meta[^>]+property=["']product:price:amount["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]+content=["']([^"']+)["'][^>]+property=["']product:price:amount["']`),
}

// extractMetaPrice reads OpenGraph/product price meta tags (spec §4.3 step 2).
func extractMetaPrice(html string) (string, bool) {
	for _, re := range metaPriceRegexes {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// domSelectorRegexes approximate the curated CSS selector set (spec §4.3
// step 3) via tag-attribute pattern matching, since no DOM-tree library is
// part of the pack's dependency surface.
var domSelectorRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)class=["'][^"']*\bprice\b[^"']*["'][^>]*>\s*([^<]+)<`),
	regexp.MustCompile(`(?is)class=["'][^"']*\bproduct-price\b[^"']*["'][^>]*>\s*([^<]+)<`),
	regexp.MustCompile(`(?is)itemprop=["']price["'][^>]*content=["']([^"']+)["']`),
	regexp.MustCompile(`(?is)itemprop=["']price["'][^>]*>\s*([^<]+)<`),
	regexp.MustCompile(`(?is)data-price=["']([^"']+)["']`),
	regexp.MustCompile(`(?is)class=["'][^"']*\bcurrent-price\b[^"']*["'][^>]*>\s*([^<]+)<`),
	regexp.MustCompile(`(?is)class=["'][^"']*\bsale-price\b[^"']*["'][^>]*>\s*([^<]+)<`),
}

func extractDOMSelector(html string) (string, bool) {
	for _, re := range domSelectorRegexes {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// extractRegexPrice scans the raw HTML for a Brazilian currency pattern
// (spec §4.3 step 4) and returns the first match in document order; the
// text around a match is not inspected for price-contextual words.
func extractRegexPrice(html string) (string, bool) {
	m := currencyRegex.FindString(html)
	if m == "" {
		return "", false
	}
	return m, true
}
