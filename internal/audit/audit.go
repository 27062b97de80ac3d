// Package audit builds and replays the append-only operation log that
// every mutating core API call writes to, one entry per call, inside the
// same transaction as the mutation it records.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// Logger appends structured audit events through a storage.AuditLog and
// replays them for external observers via Since. It holds no state of its
// own beyond the backend handle; callers pass a Logger into every
// operation that needs one.
type Logger struct {
	log storage.AuditLog
}

// New wraps log as a Logger.
func New(log storage.AuditLog) *Logger {
	return &Logger{log: log}
}

// CreatedDetails/UpdatedDetails/... are the structured payloads serialized
// into AuditEvent.Details as JSON. Keeping one struct per op gives external
// observers (dashboards, the MCP front end) a stable shape to deserialize
// instead of parsing free text.
type CreatedDetails struct {
	Namespace types.Namespace `json:"namespace"`
	Degraded  bool            `json:"degraded,omitempty"`
}

type UpdatedDetails struct {
	FieldsChanged []string `json:"fields_changed,omitempty"`
}

type ArchivedDetails struct {
	Reason string `json:"reason,omitempty"`
}

type SupersededDetails struct {
	NewID types.MemoryID `json:"new_id"`
}

type MergedDetails struct {
	Into    types.MemoryID   `json:"into"`
	Sources []types.MemoryID `json:"sources"`
}

type RecalibratedDetails struct {
	OldImportance int `json:"old_importance"`
	NewImportance int `json:"new_importance"`
}

type DecayedDetails struct {
	LinksDecayed int `json:"links_decayed"`
	LinksDropped int `json:"links_dropped"`
}

type AccessBurstDetails struct {
	AccessCount int `json:"access_count"`
}

// marshalDetails serializes v, falling back to an empty object on a
// marshal failure rather than aborting the audit append: a malformed
// detail payload must never block the causing mutation's commit.
func marshalDetails(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Created appends a Created event for id.
func (l *Logger) Created(ctx context.Context, tx storage.Tx, id types.MemoryID, d CreatedDetails) error {
	return l.append(ctx, tx, storage.AuditCreated, &id, d)
}

// Updated appends an Updated event for id.
func (l *Logger) Updated(ctx context.Context, tx storage.Tx, id types.MemoryID, d UpdatedDetails) error {
	return l.append(ctx, tx, storage.AuditUpdated, &id, d)
}

// Archived appends an Archived event for id.
func (l *Logger) Archived(ctx context.Context, tx storage.Tx, id types.MemoryID, d ArchivedDetails) error {
	return l.append(ctx, tx, storage.AuditArchived, &id, d)
}

// Superseded appends a Superseded event for id.
func (l *Logger) Superseded(ctx context.Context, tx storage.Tx, id types.MemoryID, d SupersededDetails) error {
	return l.append(ctx, tx, storage.AuditSuperseded, &id, d)
}

// Merged appends a Merged event for the new memory id.
func (l *Logger) Merged(ctx context.Context, tx storage.Tx, id types.MemoryID, d MergedDetails) error {
	return l.append(ctx, tx, storage.AuditMerged, &id, d)
}

// Recalibrated appends a Recalibrated event for id.
func (l *Logger) Recalibrated(ctx context.Context, tx storage.Tx, id types.MemoryID, d RecalibratedDetails) error {
	return l.append(ctx, tx, storage.AuditRecalibrated, &id, d)
}

// Decayed appends a Decayed event. id is nil when the event summarizes a
// whole decay run rather than a single memory's links.
func (l *Logger) Decayed(ctx context.Context, tx storage.Tx, id *types.MemoryID, d DecayedDetails) error {
	return l.append(ctx, tx, storage.AuditDecayed, id, d)
}

// AccessBurst appends an AccessBurst event for id.
func (l *Logger) AccessBurst(ctx context.Context, tx storage.Tx, id types.MemoryID, d AccessBurstDetails) error {
	return l.append(ctx, tx, storage.AuditAccessBurst, &id, d)
}

func (l *Logger) append(ctx context.Context, tx storage.Tx, op storage.AuditOp, id *types.MemoryID, details any) error {
	return l.log.Append(ctx, tx, storage.AuditEvent{
		Timestamp: time.Now().UTC(),
		Op:        op,
		MemoryID:  id,
		Details:   marshalDetails(details),
	})
}

// Since returns events after cursor (exclusive), oldest first, along with
// the cursor to pass on the next call. A cursor of 0 reads from the start
// of the log.
func (l *Logger) Since(ctx context.Context, cursor int64, limit int) ([]storage.AuditEvent, int64, error) {
	return l.log.Since(ctx, cursor, limit)
}
