/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L5
Logic:       Block search algorithm (spec §4.1.1, "the heart"): maximal
             contiguous price-window formation, ranking by (-|block|,
             price[start]), potential-based eligibility, and tolerance
             escalation. Expressed as explicit-parameter pure functions
             (spec §9 design note) rather than closures over mutable
             coordinator state, so the search itself is unit-testable
             without a database or network.
Root Cause:  Sprint task Q022 — block-search core.
Context:     This is the single-block price-coherence invariant's
             enforcement point; every other component only feeds this
             algorithm or consumes its output.
Suitability: L5 — the correctness-critical constraint-satisfaction core
             of the whole pipeline.
──────────────────────────────────────────────────────────────
*/

package coordinator

import (
	"sort"

	"github.com/shopspring/decimal"
)

const (
	toleranceStep       = 0.05
	maxToleranceEscalations = 5
)

// Block is a maximal contiguous price window [Start, End] (inclusive
// indices into a price-ascending candidate slice).
type Block struct {
	Start int
	End   int
}

func (b Block) Size() int { return b.End - b.Start + 1 }

// FormBlocks builds, for every starting index i, the maximal prefix [i,j]
// such that price[j] <= price[i]*(1+epsilon) (spec §4.1.1 "Block formation").
// prices must already be sorted ascending.
func FormBlocks(prices []decimal.Decimal, epsilon float64) []Block {
	n := len(prices)
	blocks := make([]Block, 0, n)
	one := decimal.NewFromInt(1)
	factor := one.Add(decimal.NewFromFloat(epsilon))

	for i := 0; i < n; i++ {
		ceiling := prices[i].Mul(factor)
		j := i
		for j+1 < n && prices[j+1].LessThanOrEqual(ceiling) {
			j++
		}
		blocks = append(blocks, Block{Start: i, End: j})
	}
	return blocks
}

// RankBlocks sorts blocks by (-size, price[start]) — more products first,
// then cheaper start (spec §4.1.1 "Block formation").
func RankBlocks(blocks []Block, prices []decimal.Decimal) []Block {
	ranked := make([]Block, len(blocks))
	copy(ranked, blocks)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].Size(), ranked[j].Size()
		if si != sj {
			return si > sj
		}
		return prices[ranked[i].Start].LessThan(prices[ranked[j].Start])
	})
	return ranked
}

// Potential is validated-in-block + untried-in-block, given which
// candidate keys (by slice index) are already validated or failed (spec
// §4.1.1 "Per-block probing").
func Potential(b Block, validated, failed map[int]bool) int {
	count := 0
	for i := b.Start; i <= b.End; i++ {
		if failed[i] {
			continue
		}
		count++ // either already validated, or untried — both count toward potential
	}
	_ = validated
	return count
}

// EligibleBlocks filters blocks whose potential is at least n and whose
// size is at least n (spec: "A block is eligible iff its size >= N" and
// "blocks with potential < N are dropped").
func EligibleBlocks(blocks []Block, n int, validated, failed map[int]bool) []Block {
	var out []Block
	for _, b := range blocks {
		if b.Size() < n {
			continue
		}
		if Potential(b, validated, failed) < n {
			continue
		}
		out = append(out, b)
	}
	return out
}

// NextEpsilon escalates tolerance by the fixed step, or returns ok=false
// once the escalation budget (5) is exhausted (spec §4.1.1 "Escalation").
func NextEpsilon(current float64, escalations int) (float64, bool) {
	if escalations >= maxToleranceEscalations {
		return current, false
	}
	return current + toleranceStep, true
}
