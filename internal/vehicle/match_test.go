package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchBrandNormalizesAlias(t *testing.T) {
	brands := []Brand{{Code: "59", Name: "VOLKSWAGEN"}, {Code: "23", Name: "FIAT"}}
	b, ok := MatchBrand("vw", brands)
	require.True(t, ok)
	assert.Equal(t, "59", b.Code)
}

func TestMatchBrandRejectsBelowThreshold(t *testing.T) {
	brands := []Brand{{Code: "1", Name: "TOYOTA"}}
	_, ok := MatchBrand("completely-unrelated-xyz", brands)
	assert.False(t, ok)
}

func TestMatchYearPrefersFuelMatch(t *testing.T) {
	years := []YearOption{
		{Code: "2020-1", Label: "2020 Gasolina"},
		{Code: "2020-2", Label: "2020 Flex"},
	}
	y, ok := MatchYear(2020, "flex", years)
	require.True(t, ok)
	assert.Equal(t, "2020-2", y.Code)
}

func TestMatchYearFallsBackToYearOnly(t *testing.T) {
	years := []YearOption{{Code: "2019-1", Label: "2019 Diesel"}}
	y, ok := MatchYear(2019, "gasolina", years)
	require.True(t, ok)
	assert.Equal(t, "2019-1", y.Code)
}

func TestMatchModelPrefersAllWordsHit(t *testing.T) {
	models := []Model{
		{Code: "1", Name: "GOL 1.0 MI TOTAL FLEX"},
		{Code: "2", Name: "GOLF GTI"},
	}
	m, ok := MatchModel("gol 1.0", models)
	require.True(t, ok)
	assert.Equal(t, "1", m.Code)
}

func TestMatchModelReturnsFalseWhenNoneQualify(t *testing.T) {
	models := []Model{{Code: "1", Name: "COMPLETELY UNRELATED NAME"}}
	_, ok := MatchModel("zzz qqq", models)
	assert.False(t, ok)
}
