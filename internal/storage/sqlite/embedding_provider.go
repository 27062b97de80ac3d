package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.EmbeddingProvider = (*MemoryStore)(nil)

// StoreEmbedding persists a vector for id, serialized as little-endian
// 32-bit floats. Dimension/model consistency across the index is enforced
// by the caller validating MemoryNote before Create/Update; this method
// itself accepts whatever dimension it is given since a fresh index may
// not have a declared dimension yet.
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

func (s *MemoryStore) GetEmbedding(ctx context.Context, id types.MemoryID) ([]float32, string, error) {
	return s.getEmbedding(ctx, s.db, id)
}

func (s *MemoryStore) DeleteEmbedding(ctx context.Context, id types.MemoryID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE memory_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("sqlite: delete embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetDimension returns the dimension embeddings of model were stored with,
// inferred from any row that used it. Mixing models within one index is
// forbidden, so any row for model fixes the dimension for all of them.
func (s *MemoryStore) GetDimension(ctx context.Context, model string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM memory_embeddings WHERE model = ? LIMIT 1`, model).Scan(&dim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("sqlite: get dimension: %w", err)
	}
	return dim, nil
}

// serializeEmbedding writes each component as a little-endian uint32 bit
// pattern of the float32.
func serializeEmbedding(vec []float32) ([]byte, error) {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

func deserializeEmbedding(buf []byte, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("sqlite: invalid embedding dimension %d", dim)
	}
	if len(buf) != dim*4 {
		return nil, fmt.Errorf("sqlite: embedding buffer size %d does not match dimension %d", len(buf), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
