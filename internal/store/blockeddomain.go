package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

type BlockedDomainStore struct {
	pool *pgxpool.Pool
}

func NewBlockedDomainStore(pool *pgxpool.Pool) *BlockedDomainStore {
	return &BlockedDomainStore{pool: pool}
}

// LoadAll reads the full blocklist at request start (spec §9: "both should
// be loaded from DB at request start, not compiled into constants"). The
// source-name mapping is kept as the primary configuration, the domain
// list as secondary.
func (s *BlockedDomainStore) LoadAll(ctx context.Context) ([]models.BlockedDomain, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, domain, source_name FROM blocked_domains`)
	if err != nil {
		return nil, fmt.Errorf("load blocked domains: %w", err)
	}
	defer rows.Close()

	var out []models.BlockedDomain
	for rows.Next() {
		var b models.BlockedDomain
		if err := rows.Scan(&b.ID, &b.Domain, &b.SourceName); err != nil {
			return nil, fmt.Errorf("scan blocked domain: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadManufacturerWhitelist reads the foreign-domain allowlist at request
// start, same freshness rule as LoadAll (spec §9).
func (s *BlockedDomainStore) LoadManufacturerWhitelist(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT domain FROM manufacturer_whitelist`)
	if err != nil {
		return nil, fmt.Errorf("load manufacturer whitelist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan whitelist domain: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
