package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

type VehicleBankStore struct {
	pool *pgxpool.Pool
}

func NewVehicleBankStore(pool *pgxpool.Pool) *VehicleBankStore {
	return &VehicleBankStore{pool: pool}
}

// LookupSimilar implements the cache-lookup-by-similarity of spec §4.5:
// brand ILIKE substring, model ILIKE each keyword >=2 chars, year exact,
// optional fuel match, most-recently-updated wins.
func (s *VehicleBankStore) LookupSimilar(ctx context.Context, brand, modelKeywords string, year int, fuel string) (*models.VehiclePriceBank, error) {
	args := []any{brand, year, fuel}
	var modelConds strings.Builder
	for _, kw := range strings.Fields(modelKeywords) {
		if len([]rune(kw)) < 2 {
			continue
		}
		args = append(args, kw)
		fmt.Fprintf(&modelConds, "\n\t\t  AND model ILIKE '%%' || $%d || '%%'", len(args))
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, codigo_fipe, year_id, brand, model, year, fuel, price, reference_month,
		       screenshot_file_id, last_api_call, updated_at
		FROM vehicle_price_bank
		WHERE brand ILIKE '%' || $1 || '%'
		  AND year = $2
		  AND ($3 = '' OR fuel ILIKE '%' || $3 || '%')`+modelConds.String()+`
		ORDER BY updated_at DESC
		LIMIT 1
	`, args...)

	var v models.VehiclePriceBank
	err := row.Scan(&v.ID, &v.CodigoFipe, &v.YearID, &v.Brand, &v.Model, &v.Year, &v.Fuel, &v.Price,
		&v.ReferenceMonth, &v.ScreenshotFileID, &v.LastAPICall, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup vehicle price bank: %w", err)
	}
	return &v, nil
}

// IsStale reports whether the cached row is outside the vigency window.
func IsStale(v *models.VehiclePriceBank, vigency time.Duration) bool {
	return time.Since(v.UpdatedAt) > vigency
}

// Upsert enforces the (codigo_fipe, year_id) uniqueness invariant (spec §3, §8 property 7).
func (s *VehicleBankStore) Upsert(ctx context.Context, v *models.VehiclePriceBank) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vehicle_price_bank
		  (id, codigo_fipe, year_id, brand, model, year, fuel, price, reference_month,
		   screenshot_file_id, last_api_call, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (codigo_fipe, year_id) DO UPDATE SET
		  price = EXCLUDED.price,
		  reference_month = EXCLUDED.reference_month,
		  screenshot_file_id = COALESCE(EXCLUDED.screenshot_file_id, vehicle_price_bank.screenshot_file_id),
		  last_api_call = EXCLUDED.last_api_call,
		  updated_at = EXCLUDED.updated_at
	`, v.ID, v.CodigoFipe, v.YearID, v.Brand, v.Model, v.Year, v.Fuel, v.Price, v.ReferenceMonth,
		v.ScreenshotFileID, v.LastAPICall, now)
	if err != nil {
		return fmt.Errorf("upsert vehicle price bank: %w", err)
	}
	return nil
}
