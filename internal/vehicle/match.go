/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Fuzzy brand/model matching for the FIPE resolver: alias
             normalization, Levenshtein-based similarity, and the
             keyword/fraction/similarity scoring cascade of spec §4.5
             step 3.
Root Cause:  Sprint task Q018 — Vehicle Sub-pipeline matching logic.
Context:     The FIPE catalog's brand/model strings rarely match the
             LLM's extracted terms verbatim ("vw" vs "Volkswagen"), so
             every lookup step needs a tolerant match, not an exact one.
Suitability: L3 for string-similarity composition.
──────────────────────────────────────────────────────────────
*/

package vehicle

import (
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// brandAliases normalizes common abbreviations (spec §4.5 step 1).
var brandAliases = map[string]string{
	"vw": "volkswagen",
	"gm": "chevrolet",
	"mb": "mercedes-benz",
	"vw/audi": "volkswagen",
}

const brandSimilarityThreshold = 0.6
const modelSimilarityThreshold = 0.5

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeBrandTerm(term string) string {
	n := normalize(term)
	if alias, ok := brandAliases[n]; ok {
		return alias
	}
	return n
}

// similarity returns a [0,1] similarity score via normalized Levenshtein
// distance (1 - distance/maxLen).
func similarity(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

// MatchBrand finds the catalog brand whose name best matches term,
// returning its code, or ok=false if nothing clears the 0.6 threshold.
func MatchBrand(term string, brands []Brand) (Brand, bool) {
	term = normalizeBrandTerm(term)
	best := Brand{}
	bestScore := 0.0
	for _, b := range brands {
		score := similarity(term, b.Name)
		if strings.Contains(normalize(b.Name), term) || strings.Contains(term, normalize(b.Name)) {
			score = 1
		}
		if score > bestScore {
			bestScore = score
			best = b
		}
	}
	if bestScore < brandSimilarityThreshold {
		return Brand{}, false
	}
	return best, true
}

// MatchYear selects the catalog year entry whose label contains both the
// year digits and the fuel text (spec §4.5 step 2: "never trust a
// pre-computed fuel code ... prefer the year string the API actually returns").
func MatchYear(year int, fuelHint string, years []YearOption) (YearOption, bool) {
	yearStr := strconv.Itoa(year)
	fuel := normalize(fuelHint)

	for _, y := range years {
		label := normalize(y.Label)
		if strings.Contains(label, yearStr) && (fuel == "" || strings.Contains(label, fuel)) {
			return y, true
		}
	}
	// Fall back to year-digit match alone if the fuel text doesn't appear
	// verbatim (e.g. "Flex" vs "Gasolina").
	for _, y := range years {
		if strings.Contains(normalize(y.Label), yearStr) {
			return y, true
		}
	}
	return YearOption{}, false
}

// modelScore implements the model-scoring cascade: exact keyword hit (all
// query words present) beats highest fraction-of-words-present, which
// beats string similarity >= 0.5; ties broken by more query words present.
type modelScore struct {
	model          Model
	allWordsHit    bool
	wordsPresent   int
	totalWords     int
	similarity     float64
}

func (s modelScore) fraction() float64 {
	if s.totalWords == 0 {
		return 0
	}
	return float64(s.wordsPresent) / float64(s.totalWords)
}

func (s modelScore) qualifies() bool {
	return s.allWordsHit || s.fraction() > 0 || s.similarity >= modelSimilarityThreshold
}

func (s modelScore) less(other modelScore) bool {
	if s.allWordsHit != other.allWordsHit {
		return !s.allWordsHit
	}
	if s.wordsPresent != other.wordsPresent {
		return s.wordsPresent < other.wordsPresent
	}
	if s.fraction() != other.fraction() {
		return s.fraction() < other.fraction()
	}
	return s.similarity < other.similarity
}

// MatchModel scores every candidate model against query (spec §4.5 step 3).
func MatchModel(query string, models []Model) (Model, bool) {
	words := strings.Fields(normalize(query))
	if len(words) == 0 {
		return Model{}, false
	}

	var best modelScore
	found := false
	for _, m := range models {
		name := normalize(m.Name)
		present := 0
		for _, w := range words {
			if strings.Contains(name, w) {
				present++
			}
		}
		score := modelScore{
			model:        m,
			allWordsHit:  present == len(words),
			wordsPresent: present,
			totalWords:   len(words),
			similarity:   similarity(query, m.Name),
		}
		if !score.qualifies() {
			continue
		}
		if !found || best.less(score) {
			best = score
			found = true
		}
	}
	if !found {
		return Model{}, false
	}
	return best.model, true
}
