package shopping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type shoppingSearchResponse struct {
	ShoppingResults       []rawProduct `json:"shopping_results"`
	InlineShoppingResults []rawProduct `json:"inline_shopping_results"`
}

type rawProduct struct {
	Title                     string  `json:"title"`
	Price                     string  `json:"price"`
	ExtractedPrice            float64 `json:"extracted_price"`
	Source                    string  `json:"source"`
	SerpapiImmersiveProductAPI string `json:"serpapi_immersive_product_api"`
	ProductLink               string  `json:"product_link"`
	Link                      string  `json:"link"`
}

// parseShoppingResults unions the primary and inline result arrays (spec
// §4.2: "Union the two result arrays the aggregator returns").
func parseShoppingResults(raw json.RawMessage) ([]Candidate, error) {
	var resp shoppingSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.ShoppingResults)+len(resp.InlineShoppingResults))
	for _, group := range [][]rawProduct{resp.ShoppingResults, resp.InlineShoppingResults} {
		for _, p := range group {
			out = append(out, Candidate{
				Title:           p.Title,
				PriceText:       p.Price,
				ExtractedPrice:  decimal.NewFromFloat(p.ExtractedPrice),
				Source:          p.Source,
				ImmersiveAPIURL: p.SerpapiImmersiveProductAPI,
				ProductLink:     p.ProductLink,
				DirectLink:      p.Link,
			})
		}
	}
	return out, nil
}

type immersiveResponse struct {
	ProductResults struct {
		Stores []rawStore `json:"stores"`
		Link   string     `json:"link"`
	} `json:"product_results"`
	OnlineSellers []rawStore `json:"online_sellers"`
}

type rawStore struct {
	Link           string  `json:"link"`
	DirectLink     string  `json:"direct_link"`
	Name           string  `json:"name"`
	Price          string  `json:"price"`
	BasePrice      any     `json:"base_price"`
	ExtractedPrice float64 `json:"extracted_price"`
	ExtractedBase  float64 `json:"base_price_extracted"`
}

// parseImmersiveResponse walks stores, then online_sellers, then the bare
// product_results link, in that order, applying the ±5% price-sanity
// check against the aggregator's own candidate price (spec §4.2).
func parseImmersiveResponse(raw json.RawMessage, cand Candidate) (*ResolvedStore, error) {
	var resp immersiveResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode immersive response: %w", err)
	}

	for _, s := range resp.ProductResults.Stores {
		if r := acceptStore(s, cand); r != nil {
			return r, nil
		}
	}
	for _, s := range resp.OnlineSellers {
		if r := acceptStore(s, cand); r != nil {
			return r, nil
		}
	}
	if link := resp.ProductResults.Link; link != "" && !strings.Contains(link, "google.com") {
		return &ResolvedStore{
			URL:       CleanTrackingParams(link),
			Price:     cand.ExtractedPrice,
			StoreName: cand.Source,
		}, nil
	}
	return nil, nil
}

func acceptStore(s rawStore, cand Candidate) *ResolvedStore {
	link := s.Link
	if link == "" {
		link = s.DirectLink
	}
	if link == "" || strings.Contains(link, "google.com") {
		return nil
	}

	storePrice := s.ExtractedPrice
	if storePrice == 0 {
		storePrice = s.ExtractedBase
	}
	if base, ok := s.BasePrice.(float64); ok && storePrice == 0 {
		storePrice = base
	}
	if storePrice > 0 && !cand.ExtractedPrice.IsZero() {
		diff := decimal.NewFromFloat(storePrice).Sub(cand.ExtractedPrice).Abs()
		pct := diff.Div(cand.ExtractedPrice).Mul(decimal.NewFromInt(100))
		if pct.GreaterThan(decimal.NewFromInt(5)) {
			return nil // PRICE_MISMATCH against the aggregator's own price for this seller
		}
	}

	price := cand.ExtractedPrice
	if storePrice > 0 {
		price = decimal.NewFromFloat(storePrice)
	}

	return &ResolvedStore{
		URL:       CleanTrackingParams(link),
		Price:     price,
		StoreName: s.Name,
	}
}
