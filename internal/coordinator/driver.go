/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L5
Logic:       Block search driver: loops block formation → ranking →
             per-candidate probing → tolerance escalation until N sources
             are accepted within one block or the escalation budget is
             exhausted, including the reserve/alternative-block tie-break
             (spec §4.1.1).
Root Cause:  Sprint task Q024 — block-search orchestration over probe().
Context:     FormBlocks/RankBlocks/Potential/Probe are pure; this driver
             is the one place that threads them together with heartbeat
             refresh and the reserve tie-break subtlety.
Suitability: L5 — directly implements the single-block price-coherence
             invariant end to end.
──────────────────────────────────────────────────────────────
*/

package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/pipelineerr"
	"github.com/cotaai/quotepipe/internal/shopping"
)

// SearchOutcome is the result of a full block-search run.
type SearchOutcome struct {
	Accepted           []*models.QuoteSource
	Failures           []*models.QuoteSourceFailure
	FinalEpsilon       float64
	ToleranceIncreases int
}

// Persist writes every probe outcome through as it happens, not batched
// at the end, so a QuoteSource is durable the instant it is accepted
// (spec §5 S6: "QuoteSources already inserted remain" after a mid-search
// cancel).
type Persist struct {
	InsertSource  func(ctx context.Context, src *models.QuoteSource) error
	InsertFailure func(ctx context.Context, f *models.QuoteSourceFailure) error
	SetAccepted   func(ctx context.Context, id uuid.UUID, accepted bool) error
}

// discard flips every source in m to not-accepted, both in memory and in
// storage, because the working set that produced them is being abandoned
// (tie-break reserve path or a losing block).
func discard(ctx context.Context, persist Persist, m map[int]*models.QuoteSource) {
	for _, src := range m {
		if !src.IsAccepted {
			continue
		}
		src.IsAccepted = false
		if persist.SetAccepted != nil {
			_ = persist.SetAccepted(ctx, src.ID, false)
		}
	}
}

// RunBlockSearch drives the escalating block search of spec §4.1.1 to
// completion: either N accepted sources within one block, or a
// best-effort single block with the maximum validated count.
// heartbeat is invoked before every candidate probe; if it returns false
// the run stops promptly (spec §5: cancellation "checked at every
// candidate iteration") and the outcome returned reflects whatever was
// accepted so far.
func RunBlockSearch(ctx context.Context, candidates []shopping.Candidate, n int, epsilon0 float64, deps ProbeDeps, persist Persist, heartbeat func() bool) (SearchOutcome, error) {
	if len(candidates) == 0 {
		return SearchOutcome{}, nil // edge case: empty pool after filters, no escalation helps
	}

	sorted := make([]shopping.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExtractedPrice.LessThan(sorted[j].ExtractedPrice)
	})
	prices := make([]decimal.Decimal, len(sorted))
	for i, c := range sorted {
		prices[i] = c.ExtractedPrice
	}

	state := NewProbeState()
	accepted := make(map[int]*models.QuoteSource)
	var failures []*models.QuoteSourceFailure
	keyToIndex := make(map[string]int, len(sorted))
	for i, c := range sorted {
		keyToIndex[CandidateKey(c)] = i
	}

	var reserve map[int]*models.QuoteSource
	alternativeAttempted := false

	epsilon := epsilon0
	escalations := 0

	for {
		validatedIdx := indexSet(state.ValidatedKeys, keyToIndex)
		failedIdx := indexSet(state.FailedKeys, keyToIndex)

		blocks := FormBlocks(prices, epsilon)
		eligible := EligibleBlocks(blocks, n, validatedIdx, failedIdx)

		if len(eligible) == 0 {
			next, ok := NextEpsilon(epsilon, escalations)
			if !ok {
				break // escalation budget exhausted
			}
			epsilon = next
			escalations++
			continue
		}

		ranked := RankBlocks(eligible, prices)
		best := ranked[0]

		untriedInBlock := untried(best, state, sorted, keyToIndex)

		// Tie-break subtlety: the best block is already exhausted of untried
		// candidates but can't reach N with what's validated in it.
		if len(untriedInBlock) == 0 {
			validatedInBlock := countValidatedInBlock(best, validatedIdx)
			if validatedInBlock < n && !alternativeAttempted && len(ranked) > 0 {
				reserve = cloneSources(accepted)
				alternativeAttempted = true
				// Clear the working set and try fresh against the full remaining
				// pool; anything accepted so far is already durable, so flip it to
				// not-accepted rather than deleting it.
				discard(ctx, persist, accepted)
				state = NewProbeState()
				accepted = make(map[int]*models.QuoteSource)
				continue
			}
			next, ok := NextEpsilon(epsilon, escalations)
			if !ok {
				break
			}
			epsilon = next
			escalations++
			continue
		}

		anyNewFailure := false
		for _, idx := range untriedInBlock {
			if !heartbeat() {
				return SearchOutcome{
					Accepted:           mapValues(accepted),
					Failures:           failures,
					FinalEpsilon:       epsilon,
					ToleranceIncreases: escalations,
				}, pipelineerr.ErrCancelled
			}
			cand := sorted[idx]
			outcome, err := Probe(ctx, cand, state, withScreenshotIndex(deps, idx))
			if err != nil {
				return SearchOutcome{}, fmt.Errorf("probe candidate %q: %w", cand.Title, err)
			}
			if outcome.Source != nil {
				if persist.InsertSource != nil {
					if err := persist.InsertSource(ctx, outcome.Source); err != nil {
						return SearchOutcome{}, fmt.Errorf("insert accepted source: %w", err)
					}
				}
				accepted[idx] = outcome.Source
			} else if outcome.Failure != nil {
				if persist.InsertFailure != nil {
					if err := persist.InsertFailure(ctx, outcome.Failure); err != nil {
						return SearchOutcome{}, fmt.Errorf("insert source failure: %w", err)
					}
				}
				failures = append(failures, outcome.Failure)
				anyNewFailure = true
			}
		}

		validatedIdx = indexSet(state.ValidatedKeys, keyToIndex)
		validatedInBlock := countValidatedInBlock(best, validatedIdx)

		if validatedInBlock >= n {
			// Success: accepted set is exactly the validated sources lying
			// within this block; flip everything else to not-accepted, in
			// storage as well since each was already inserted as accepted.
			outside := make(map[int]*models.QuoteSource)
			for idx, src := range accepted {
				if idx < best.Start || idx > best.End {
					outside[idx] = src
				}
			}
			discard(ctx, persist, outside)
			return SearchOutcome{
				Accepted:           withinBlockSources(accepted, best),
				Failures:           failures,
				FinalEpsilon:       epsilon,
				ToleranceIncreases: escalations,
			}, nil
		}

		if alternativeAttempted && anyNewFailure && reserve != nil {
			// The alternative path itself failed: revert to the reserve and
			// never re-enter the alternative path again this run. The
			// alternative's own accepted sources are already durable; flip
			// them to not-accepted rather than leaving stale true rows.
			discard(ctx, persist, accepted)
			return SearchOutcome{
				Accepted:           mapValues(reserve),
				Failures:           failures,
				FinalEpsilon:       epsilon,
				ToleranceIncreases: escalations,
			}, nil
		}

		// Block failed: its failures already updated state.FailedKeys via
		// Probe. Loop back to the top at the same epsilon first — the
		// just-failed block self-drops out of EligibleBlocks once its
		// candidates are in FailedKeys, so recomputation there picks the
		// next-best still-eligible block from the remaining pool. Epsilon
		// only escalates once that recomputation finds no eligible block
		// at all.
		continue
	}

	// Best-effort: the single block observed to contain the maximum
	// number of validated sources, even if < N.
	bestBlock, bestCount := bestEffortBlock(prices, epsilon0, indexSet(state.ValidatedKeys, keyToIndex))
	result := make(map[int]*models.QuoteSource)
	outside := make(map[int]*models.QuoteSource)
	for idx, src := range accepted {
		if idx >= bestBlock.Start && idx <= bestBlock.End {
			result[idx] = src
		} else {
			outside[idx] = src
		}
	}
	discard(ctx, persist, outside)
	_ = bestCount
	return SearchOutcome{
		Accepted:           mapValues(result),
		Failures:           failures,
		FinalEpsilon:       epsilon,
		ToleranceIncreases: escalations,
	}, nil
}

func withScreenshotIndex(deps ProbeDeps, idx int) ProbeDeps {
	deps.ScreenshotIndex = idx
	return deps
}

func untried(b Block, state *ProbeState, sorted []shopping.Candidate, keyToIndex map[string]int) []int {
	var out []int
	for i := b.Start; i <= b.End; i++ {
		key := CandidateKey(sorted[i])
		if state.ValidatedKeys[key] || state.FailedKeys[key] {
			continue
		}
		out = append(out, i)
	}
	return out
}

func countValidatedInBlock(b Block, validatedIdx map[int]bool) int {
	count := 0
	for i := b.Start; i <= b.End; i++ {
		if validatedIdx[i] {
			count++
		}
	}
	return count
}

func indexSet(keys map[string]bool, keyToIndex map[string]int) map[int]bool {
	out := make(map[int]bool, len(keys))
	for k := range keys {
		if idx, ok := keyToIndex[k]; ok {
			out[idx] = true
		}
	}
	return out
}

func withinBlockSources(accepted map[int]*models.QuoteSource, b Block) []*models.QuoteSource {
	var out []*models.QuoteSource
	for idx, src := range accepted {
		if idx >= b.Start && idx <= b.End && src.IsAccepted {
			out = append(out, src)
		}
	}
	return out
}

func mapValues(m map[int]*models.QuoteSource) []*models.QuoteSource {
	out := make([]*models.QuoteSource, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func cloneSources(m map[int]*models.QuoteSource) map[int]*models.QuoteSource {
	out := make(map[int]*models.QuoteSource, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// bestEffortBlock finds the block (at the initial tolerance) containing
// the most validated sources, for the termination fallback.
func bestEffortBlock(prices []decimal.Decimal, epsilon0 float64, validatedIdx map[int]bool) (Block, int) {
	blocks := FormBlocks(prices, epsilon0)
	best := Block{}
	bestCount := -1
	for _, b := range blocks {
		count := countValidatedInBlock(b, validatedIdx)
		if count > bestCount {
			bestCount = count
			best = b
		}
	}
	return best, bestCount
}
