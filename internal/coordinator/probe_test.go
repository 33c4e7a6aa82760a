package coordinator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/cotaai/quotepipe/internal/shopping"
)

func TestCandidateKeyIsStableForTitlePrice(t *testing.T) {
	a := shopping.Candidate{Title: "Notebook X1", ExtractedPrice: decimal.NewFromFloat(1999.90)}
	b := shopping.Candidate{Title: "Notebook X1", ExtractedPrice: decimal.NewFromFloat(1999.90)}
	assert.Equal(t, CandidateKey(a), CandidateKey(b))
}

func TestWithinMismatchToleranceBoundary(t *testing.T) {
	assert.True(t, withinMismatchTolerance(decimal.NewFromFloat(105), decimal.NewFromFloat(100)))
	assert.False(t, withinMismatchTolerance(decimal.NewFromFloat(106), decimal.NewFromFloat(100)))
}
