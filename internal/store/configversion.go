package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

type ConfigVersionStore struct {
	pool *pgxpool.Pool
}

func NewConfigVersionStore(pool *pgxpool.Pool) *ConfigVersionStore {
	return &ConfigVersionStore{pool: pool}
}

func (s *ConfigVersionStore) Get(ctx context.Context, id uuid.UUID) (*models.ProjectConfigVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, number_of_quotes, max_variation_percent, enable_price_mismatch,
		       aggregator_location, aggregator_language, aggregator_country,
		       enable_spec_extraction, enable_spec_validation, enable_linear_meter, spec_dimension_tolerance
		FROM project_config_versions WHERE id = $1
	`, id)
	var c models.ProjectConfigVersion
	err := row.Scan(&c.ID, &c.ProjectID, &c.NumberOfQuotes, &c.MaxVariationPercent, &c.EnablePriceMismatch,
		&c.AggregatorLocation, &c.AggregatorLanguage, &c.AggregatorCountry,
		&c.EnableSpecExtraction, &c.EnableSpecValidation, &c.EnableLinearMeter, &c.SpecDimensionTolerance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load config version: %w", err)
	}
	return &c, nil
}

// ResolveParameter implements the three-tier cascade recovered from
// original_source's _get_parameter: explicit config-version override,
// then a global parameter table, then a hardcoded default.
func (s *ConfigVersionStore) ResolveParameter(ctx context.Context, configVersionID uuid.UUID, key string, hardDefault string) (string, error) {
	var override string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM project_config_version_overrides
		WHERE config_version_id = $1 AND key = $2
	`, configVersionID, key).Scan(&override)
	if err == nil {
		return override, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("resolve override: %w", err)
	}

	var global string
	err = s.pool.QueryRow(ctx, `SELECT value FROM global_parameters WHERE key = $1`, key).Scan(&global)
	if err == nil {
		return global, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("resolve global parameter: %w", err)
	}

	return hardDefault, nil
}

// ResolveParameterFloat is a convenience wrapper for numeric parameters
// such as spec_dimension_tolerance.
func (s *ConfigVersionStore) ResolveParameterFloat(ctx context.Context, configVersionID uuid.UUID, key string, hardDefault float64) (float64, error) {
	raw, err := s.ResolveParameter(ctx, configVersionID, key, strconv.FormatFloat(hardDefault, 'f', -1, 64))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return hardDefault, nil
	}
	return v, nil
}

// Freeze creates a fresh config version snapshot for a re-quote (spec §4.1
// re-quote rule: "resolves a fresh config version snapshot").
func (s *ConfigVersionStore) Freeze(ctx context.Context, from *models.ProjectConfigVersion) (uuid.UUID, error) {
	newID := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_config_versions
		  (id, project_id, number_of_quotes, max_variation_percent, enable_price_mismatch,
		   aggregator_location, aggregator_language, aggregator_country,
		   enable_spec_extraction, enable_spec_validation, enable_linear_meter, spec_dimension_tolerance)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, newID, from.ProjectID, from.NumberOfQuotes, from.MaxVariationPercent, from.EnablePriceMismatch,
		from.AggregatorLocation, from.AggregatorLanguage, from.AggregatorCountry,
		from.EnableSpecExtraction, from.EnableSpecValidation, from.EnableLinearMeter, from.SpecDimensionTolerance)
	if err != nil {
		return uuid.Nil, fmt.Errorf("freeze config version: %w", err)
	}
	return newID, nil
}
