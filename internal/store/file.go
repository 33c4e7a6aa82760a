package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotaai/quotepipe/internal/models"
)

type FileStore struct {
	pool *pgxpool.Pool
}

func NewFileStore(pool *pgxpool.Pool) *FileStore {
	return &FileStore{pool: pool}
}

// Insert persists an immutable blob descriptor (spec §3 File); screenshots
// and input images both flow through here.
func (s *FileStore) Insert(ctx context.Context, f *models.File) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, kind, mime, storage_path, sha256, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, f.ID, string(f.Kind), f.Mime, f.StoragePath, f.SHA256, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// Get loads a File descriptor by id, used to rehydrate input images
// before an image-analysis LLM call.
func (s *FileStore) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, mime, storage_path, sha256, created_at FROM files WHERE id = $1
	`, id)
	var f models.File
	var kind string
	err := row.Scan(&f.ID, &kind, &f.Mime, &f.StoragePath, &f.SHA256, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	f.Kind = models.FileKind(kind)
	return &f, nil
}
