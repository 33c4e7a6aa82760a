/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L1
Logic:       Flags carrier for the v2 feature set (spec-sheet extraction,
             spec validation, linear-meter units) that this version of
             the pipeline does not implement.
Root Cause:  Sprint task Q026 — preserve the v2 flag surface without
             building behavior behind it.
Context:     ProjectConfigVersion already carries these fields so the
             config cascade round-trips without loss; this package gives
             the coordinator one place to ask "is this on" without
             scattering bare field reads.
Suitability: L1 — no decision logic, just named accessors over config.
──────────────────────────────────────────────────────────────
*/

// Package specvalidate carries the v2 feature flags (spec §9 Open
// Questions: spec-sheet extraction, cross-field spec validation, linear
// meter units) forward unimplemented. Each flag reports whatever the
// config version holds; no pipeline behavior is gated on any of them.
package specvalidate

import "github.com/cotaai/quotepipe/internal/models"

// Flags is a read-only view over a ProjectConfigVersion's v2 feature
// flags, named rather than read as bare struct fields so call sites read
// as intent ("spec extraction wanted") instead of config trivia.
type Flags struct {
	SpecExtraction     bool
	SpecValidation     bool
	LinearMeter        bool
	DimensionTolerance float64
}

// FromConfig extracts the v2 flag set from a config version. None of
// these flags currently gate any behavior in the coordinator; this
// exists so a future version can wire them in one place.
func FromConfig(cfg *models.ProjectConfigVersion) Flags {
	return Flags{
		SpecExtraction:     cfg.EnableSpecExtraction,
		SpecValidation:     cfg.EnableSpecValidation,
		LinearMeter:        cfg.EnableLinearMeter,
		DimensionTolerance: cfg.SpecDimensionTolerance,
	}
}

// AnyEnabled reports whether any v2 feature is requested by this config.
// Always safe to call even though nothing currently acts on a true
// result — the coordinator can log a warning that a requested v2
// feature has no effect yet.
func (f Flags) AnyEnabled() bool {
	return f.SpecExtraction || f.SpecValidation || f.LinearMeter
}
