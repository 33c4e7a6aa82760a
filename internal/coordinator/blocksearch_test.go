package coordinator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prices(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestFormBlocksMatchesSpecExample(t *testing.T) {
	// Products: [100, 102, 104, 110, 125, 130, 140, 150], epsilon=0.25
	p := prices(100, 102, 104, 110, 125, 130, 140, 150)
	blocks := FormBlocks(p, 0.25)

	require.Len(t, blocks, 8)
	assert.Equal(t, Block{Start: 0, End: 4}, blocks[0]) // [100..125], ceiling 125
	assert.Equal(t, Block{Start: 1, End: 4}, blocks[1]) // [102..125], ceiling 127.5
}

func TestRankBlocksPrefersLargerThenCheaper(t *testing.T) {
	p := prices(100, 102, 104, 110, 125)
	blocks := []Block{{Start: 1, End: 3}, {Start: 0, End: 4}, {Start: 2, End: 3}}
	ranked := RankBlocks(blocks, p)

	assert.Equal(t, Block{Start: 0, End: 4}, ranked[0]) // size 5, biggest
	assert.Equal(t, Block{Start: 1, End: 3}, ranked[1]) // size 3, next biggest
}

func TestEligibleBlocksDropsBelowPotential(t *testing.T) {
	blocks := []Block{{Start: 0, End: 2}, {Start: 1, End: 1}}
	failed := map[int]bool{0: true}
	validated := map[int]bool{}

	eligible := EligibleBlocks(blocks, 2, validated, failed)
	require.Len(t, eligible, 1)
	assert.Equal(t, Block{Start: 0, End: 2}, eligible[0]) // potential 2 (indices 1,2 not failed)
}

func TestNextEpsilonCapsAtFiveEscalations(t *testing.T) {
	eps := 0.25
	var ok bool
	for i := 0; i < 5; i++ {
		eps, ok = NextEpsilon(eps, i)
		require.True(t, ok)
	}
	_, ok = NextEpsilon(eps, 5)
	assert.False(t, ok)
}
