package coordinator

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotaai/quotepipe/internal/models"
	"github.com/cotaai/quotepipe/internal/shopping"
)

func TestRunBlockSearchEmptyCandidatesReturnsZeroOutcome(t *testing.T) {
	outcome, err := RunBlockSearch(context.Background(), nil, 3, 0.25, ProbeDeps{}, Persist{}, func() bool { return true })
	require.NoError(t, err)
	assert.Empty(t, outcome.Accepted)
	assert.Empty(t, outcome.Failures)
}

func TestDiscardFlipsAcceptedAndCallsSetAccepted(t *testing.T) {
	src := &models.QuoteSource{ID: uuid.New(), IsAccepted: true}
	var sawID uuid.UUID
	var sawAccepted bool
	persist := Persist{
		SetAccepted: func(ctx context.Context, id uuid.UUID, accepted bool) error {
			sawID = id
			sawAccepted = accepted
			return nil
		},
	}
	discard(context.Background(), persist, map[int]*models.QuoteSource{0: src})

	assert.False(t, src.IsAccepted)
	assert.Equal(t, src.ID, sawID)
	assert.False(t, sawAccepted)
}

func TestDiscardSkipsAlreadyNotAccepted(t *testing.T) {
	src := &models.QuoteSource{ID: uuid.New(), IsAccepted: false}
	called := false
	persist := Persist{
		SetAccepted: func(ctx context.Context, id uuid.UUID, accepted bool) error {
			called = true
			return nil
		},
	}
	discard(context.Background(), persist, map[int]*models.QuoteSource{0: src})
	assert.False(t, called)
}

func TestIndexSetMapsKeysToIndices(t *testing.T) {
	keyToIndex := map[string]int{"a": 0, "b": 1, "c": 2}
	keys := map[string]bool{"b": true, "missing": true}
	out := indexSet(keys, keyToIndex)
	assert.Equal(t, map[int]bool{1: true}, out)
}

func TestCountValidatedInBlock(t *testing.T) {
	b := Block{Start: 1, End: 3}
	validated := map[int]bool{0: true, 2: true, 4: true}
	assert.Equal(t, 1, countValidatedInBlock(b, validated))
}

func TestUntriedSkipsValidatedAndFailed(t *testing.T) {
	sorted := []shopping.Candidate{
		{Title: "a", ExtractedPrice: prices(100)[0]},
		{Title: "b", ExtractedPrice: prices(101)[0]},
		{Title: "c", ExtractedPrice: prices(102)[0]},
	}
	keyToIndex := map[string]int{}
	for i, c := range sorted {
		keyToIndex[CandidateKey(c)] = i
	}
	state := NewProbeState()
	state.ValidatedKeys[CandidateKey(sorted[0])] = true
	state.FailedKeys[CandidateKey(sorted[1])] = true

	out := untried(Block{Start: 0, End: 2}, state, sorted, keyToIndex)
	assert.Equal(t, []int{2}, out)
}

func TestBestEffortBlockPicksMaxValidatedCount(t *testing.T) {
	p := prices(100, 102, 104, 200, 202)
	validated := map[int]bool{0: true, 1: true}
	block, count := bestEffortBlock(p, 0.25, validated)
	assert.Equal(t, 2, count)
	assert.True(t, block.Start <= 0 && block.End >= 1)
}

func TestMapValuesAndCloneSourcesRoundTrip(t *testing.T) {
	a := &models.QuoteSource{ID: uuid.New()}
	m := map[int]*models.QuoteSource{0: a}
	clone := cloneSources(m)
	clone[0].IsAccepted = true // cloneSources is a shallow map copy; shared pointer
	assert.True(t, m[0].IsAccepted)
	assert.Len(t, mapValues(m), 1)
}
