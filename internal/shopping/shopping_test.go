package shopping

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanTrackingParams(t *testing.T) {
	got := CleanTrackingParams("https://loja.com.br/p/123?srsltid=abc&utm_source=google&id=123")
	assert.Equal(t, "https://loja.com.br/p/123?id=123", got)
}

func TestSanitizedURLRedactsAPIKey(t *testing.T) {
	got := SanitizedURL("https://api.example.com/search?q=x&api_key=supersecret")
	assert.Contains(t, got, "api_key=%2A%2A%2A")
	assert.NotContains(t, got, "supersecret")
}

func TestParseShoppingResultsUnionsPrimaryAndInline(t *testing.T) {
	raw := json.RawMessage(`{
		"shopping_results": [{"title":"A","extracted_price":100,"source":"Loja A"}],
		"inline_shopping_results": [{"title":"B","extracted_price":110,"source":"Loja B"}]
	}`)
	candidates, err := parseShoppingResults(raw)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "A", candidates[0].Title)
	assert.Equal(t, "B", candidates[1].Title)
}

func TestParseImmersiveResponsePrefersStoreWithinTolerance(t *testing.T) {
	cand := Candidate{Title: "Prod", ExtractedPrice: decimal.NewFromInt(100), Source: "Google"}
	raw := json.RawMessage(`{"product_results":{"stores":[
		{"link":"https://mismatch.com/p","name":"Mismatch","extracted_price":200},
		{"link":"https://good.com.br/p","name":"Good Store","extracted_price":102}
	]}}`)

	resolved, err := parseImmersiveResponse(raw, cand)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "https://good.com.br/p", resolved.URL)
	assert.Equal(t, "Good Store", resolved.StoreName)
}

func TestParseImmersiveResponseFallsBackToOnlineSellers(t *testing.T) {
	cand := Candidate{Title: "Prod", ExtractedPrice: decimal.NewFromInt(100), Source: "Google"}
	raw := json.RawMessage(`{"online_sellers":[{"link":"https://seller.com.br/p","name":"Seller","base_price":99}]}`)

	resolved, err := parseImmersiveResponse(raw, cand)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "Seller", resolved.StoreName)
}

func TestParseImmersiveResponseReturnsNilWhenNoStorePasses(t *testing.T) {
	cand := Candidate{Title: "Prod", ExtractedPrice: decimal.NewFromInt(100), Source: "Google"}
	raw := json.RawMessage(`{"product_results":{"stores":[{"link":"https://www.google.com/shopping/x"}]}}`)

	resolved, err := parseImmersiveResponse(raw, cand)
	require.NoError(t, err)
	assert.Nil(t, resolved)
}
