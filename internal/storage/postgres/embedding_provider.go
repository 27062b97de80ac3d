//go:build postgres

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.EmbeddingProvider = (*MemoryStore)(nil)

// StoreEmbedding persists a vector for id in the native pgvector column.
func (s *MemoryStore) StoreEmbedding(ctx context.Context, id types.MemoryID, embedding []float32, model string) error {
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector must not be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: embedding model is required", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()
	if err := storeEmbeddingTx(ctx, tx, id, embedding, model); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func storeEmbeddingTx(ctx context.Context, tx *sql.Tx, id types.MemoryID, vec []float32, model string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, embedding, dimension, model, created_at, updated_at)
		VALUES ($1,$2,$3,$4, now(), now())
		ON CONFLICT (memory_id) DO UPDATE SET
			embedding = excluded.embedding, dimension = excluded.dimension, model = excluded.model, updated_at = now()`,
		string(id), pgvector.NewVector(vec), len(vec), model)
	if err != nil {
		return fmt.Errorf("postgres: store embedding: %w", err)
	}
	return nil
}

func (s *MemoryStore) getEmbedding(ctx context.Context, q rowScanner, id types.MemoryID) ([]float32, string, error) {
	row := q.QueryRowContext(ctx, `SELECT embedding, model FROM memory_embeddings WHERE memory_id = $1`, string(id))
	var vec pgvector.Vector
	var model string
	if err := row.Scan(&vec, &model); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("postgres: get embedding: %w", err)
	}
	return vec.Slice(), model, nil
}

func (s *MemoryStore) GetEmbedding(ctx context.Context, id types.MemoryID) ([]float32, string, error) {
	return s.getEmbedding(ctx, s.db, id)
}

func (s *MemoryStore) DeleteEmbedding(ctx context.Context, id types.MemoryID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("postgres: delete embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetDimension returns the dimension embeddings of model were stored with.
func (s *MemoryStore) GetDimension(ctx context.Context, model string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM memory_embeddings WHERE model = $1 LIMIT 1`, model).Scan(&dim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("postgres: get dimension: %w", err)
	}
	return dim, nil
}
