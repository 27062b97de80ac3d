package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var _ storage.CooldownStore = (*MemoryStore)(nil)

// orderedPair returns a, b in a stable order so (a, b) and (b, a) map to the
// same evolution_cooldowns row.
func orderedPair(a, b types.MemoryID) (types.MemoryID, types.MemoryID) {
	if a <= b {
		return a, b
	}
	return b, a
}

func (s *MemoryStore) RecordCooldown(ctx context.Context, a, b types.MemoryID, decision string, decidedAt time.Time) error {
	x, y := orderedPair(a, b)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evolution_cooldowns (memory_a, memory_b, decision, decided_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (memory_a, memory_b) DO UPDATE SET decision = excluded.decision, decided_at = excluded.decided_at`,
		string(x), string(y), decision, decidedAt)
	return err
}

func (s *MemoryStore) InCooldown(ctx context.Context, a, b types.MemoryID, windowDays int, now time.Time) (bool, error) {
	x, y := orderedPair(a, b)
	var decidedAt time.Time
	row := s.db.QueryRowContext(ctx, `SELECT decided_at FROM evolution_cooldowns WHERE memory_a = ? AND memory_b = ?`, string(x), string(y))
	if err := row.Scan(&decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	decidedAt = decidedAt.UTC()
	return now.Sub(decidedAt) < time.Duration(windowDays)*24*time.Hour, nil
}
