package extractor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotaai/quotepipe/internal/models"
)

func TestSanitizePriceParsesBRLocale(t *testing.T) {
	v, ok := SanitizePrice("R$ 1.234,56")
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromFloat(1234.56)))
}

func TestSanitizePriceRejectsOutOfBounds(t *testing.T) {
	_, ok := SanitizePrice("R$ 0,50")
	assert.False(t, ok)

	_, ok = SanitizePrice("R$ 10.000.001,00")
	assert.False(t, ok)
}

func TestExtractPricePrefersJSONLD(t *testing.T) {
	html := `<html><head>
		<script type="application/ld+json">{"@type":"Product","offers":{"@type":"Offer","price":"199.90"}}</script>
		<meta property="og:price:amount" content="250,00">
	</head><body><span class="price">R$ 300,00</span></body></html>`

	price, method, ok := ExtractPrice(html)
	require.True(t, ok)
	assert.Equal(t, models.MethodJSONLD, method)
	assert.True(t, price.Equal(decimal.NewFromFloat(199.90)))
}

func TestExtractPriceFallsBackToMeta(t *testing.T) {
	html := `<html><head><meta property="og:price:amount" content="250,00"></head><body></body></html>`
	price, method, ok := ExtractPrice(html)
	require.True(t, ok)
	assert.Equal(t, models.MethodMeta, method)
	assert.True(t, price.Equal(decimal.NewFromFloat(250.00)))
}

func TestExtractPriceFallsBackToDOMSelector(t *testing.T) {
	html := `<html><body><div class="product-price">R$ 1.099,00</div></body></html>`
	price, method, ok := ExtractPrice(html)
	require.True(t, ok)
	assert.Equal(t, models.MethodDOM, method)
	assert.True(t, price.Equal(decimal.NewFromFloat(1099.00)))
}

func TestExtractPriceFallsBackToRegex(t *testing.T) {
	html := `<html><body><p>Por apenas R$ 89,90 a vista!</p></body></html>`
	price, method, ok := ExtractPrice(html)
	require.True(t, ok)
	assert.Equal(t, models.MethodRegex, method)
	assert.True(t, price.Equal(decimal.NewFromFloat(89.90)))
}

func TestExtractPriceReturnsFalseWhenNothingMatches(t *testing.T) {
	_, _, ok := ExtractPrice(`<html><body>no price here</body></html>`)
	assert.False(t, ok)
}
