//go:build postgres

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

var (
	_ storage.MemoryStore = (*MemoryStore)(nil)
	_ storage.LinkStore   = (*MemoryStore)(nil)
	_ storage.AuditLog    = (*MemoryStore)(nil)
)

// MemoryStore implements the storage capability sets against PostgreSQL.
// Unlike the sqlite backend it does not cap the connection pool to one
// writer: Postgres natively serializes conflicting row writes, so
// single-writer discipline is enforced per-memory by the database rather
// than by a process-wide connection cap.
type MemoryStore struct {
	db  *sql.DB
	dim int
}

// NewMemoryStore opens a PostgreSQL-backed store and ensures the schema
// exists.
func NewMemoryStore(dsn string, dim int) (*MemoryStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(5) // bounded connection pool
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &MemoryStore{db: db, dim: dim}, nil
}

func (s *MemoryStore) Close() error { return s.db.Close() }
func (s *MemoryStore) DB() *sql.DB  { return s.db }

type pqTx struct{ tx *sql.Tx }

func (t *pqTx) Commit() error   { return t.tx.Commit() }
func (t *pqTx) Rollback() error { return t.tx.Rollback() }

func (s *MemoryStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	return &pqTx{tx: tx}, nil
}

func classifyConnErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "could not serialize access") || strings.Contains(msg, "deadlock detected") || strings.Contains(msg, "too many connections") {
		return fmt.Errorf("%w: %v", storage.ErrRetryable, err)
	}
	return err
}

const memoryColumns = `
	id, namespace_kind, namespace_project, namespace_session_id,
	content, summary, keywords, tags, context,
	memory_type, importance, confidence,
	related_files, related_entities,
	access_count, last_accessed_at, expires_at, is_archived, superseded_by,
	embedding_model, created_at, updated_at`

type rowScanner interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanMemoryRow(row *sql.Row) (*types.MemoryNote, error) {
	var (
		m                                    types.MemoryNote
		idStr, kind, project, sessionID      string
		keywordsJSON, tagsJSON               []byte
		filesJSON, entitiesJSON              []byte
		lastAccessed, expiresAt, supersedeBy sql.NullTime
		supersedeByStr                       sql.NullString
	)
	if err := row.Scan(
		&idStr, &kind, &project, &sessionID,
		&m.Content, &m.Summary, &keywordsJSON, &tagsJSON, &m.Context,
		&m.MemoryType, &m.Importance, &m.Confidence,
		&filesJSON, &entitiesJSON,
		&m.AccessCount, &lastAccessed, &expiresAt, &m.IsArchived, &supersedeByStr,
		&m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ID = types.MemoryID(idStr)
	m.Namespace = types.Namespace{Kind: types.NamespaceKind(kind), Project: project, SessionID: sessionID}
	_ = json.Unmarshal(keywordsJSON, &m.Keywords)
	_ = json.Unmarshal(tagsJSON, &m.Tags)
	_ = json.Unmarshal(filesJSON, &m.RelatedFiles)
	_ = json.Unmarshal(entitiesJSON, &m.RelatedEntities)
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	if supersedeByStr.Valid && supersedeByStr.String != "" {
		id := types.MemoryID(supersedeByStr.String)
		m.SupersededBy = &id
	}
	_ = supersedeBy
	return &m, nil
}

func (s *MemoryStore) scanOne(ctx context.Context, q rowScanner, id types.MemoryID) (*types.MemoryNote, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, string(id))
	m, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

func (s *MemoryStore) Create(ctx context.Context, m *types.MemoryNote) error {
	if err := m.Validate(s.dim); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()

	for _, link := range m.Links {
		if link.Target == m.ID {
			return fmt.Errorf("%w: self-link to %s", storage.ErrInvariant, link.Target)
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = $1`, string(link.Target)).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: link target %s does not exist", storage.ErrNotFound, link.Target)
			}
			return err
		}
	}

	var dupe int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = $1`, string(m.ID)).Scan(&dupe)
	if err == nil {
		return fmt.Errorf("%w: memory id %s already exists", storage.ErrConflict, m.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if err := insertMemoryRow(ctx, tx, m); err != nil {
		return err
	}
	for _, link := range m.Links {
		if err := upsertLinkTx(ctx, tx, link); err != nil {
			return err
		}
	}
	if m.Embedding != nil {
		if err := storeEmbeddingTx(ctx, tx, m.ID, m.Embedding, m.EmbeddingModel); err != nil {
			return err
		}
	}
	if err := appendAuditTx(ctx, tx, storage.AuditCreated, &m.ID, fmt.Sprintf("namespace=%s type=%s", m.Namespace, m.MemoryType)); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func insertMemoryRow(ctx context.Context, tx *sql.Tx, m *types.MemoryNote) error {
	keywords, _ := json.Marshal(nonNil(m.Keywords))
	tags, _ := json.Marshal(nonNil(m.Tags))
	files, _ := json.Marshal(nonNil(m.RelatedFiles))
	entities, _ := json.Marshal(nonNil(m.RelatedEntities))

	_, err := tx.ExecContext(ctx, `
		INSERT INTO memories (
			id, namespace_kind, namespace_project, namespace_session_id,
			content, summary, keywords, tags, context,
			memory_type, importance, confidence,
			related_files, related_entities,
			access_count, last_accessed_at, expires_at, is_archived, superseded_by,
			embedding_model, created_at, updated_at
		) VALUES ($1,$2,$3,$4, $5,$6,$7,$8,$9, $10,$11,$12, $13,$14, $15,$16,$17,$18,$19, $20,$21,$22)`,
		string(m.ID), string(m.Namespace.Kind), m.Namespace.Project, m.Namespace.SessionID,
		m.Content, m.Summary, keywords, tags, m.Context,
		string(m.MemoryType), m.Importance, m.Confidence,
		files, entities,
		m.AccessCount, nullTime(m.LastAccessedAt), nullTime(m.ExpiresAt), m.IsArchived, nullMemoryID(m.SupersededBy),
		m.EmbeddingModel, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert memory: %w", err)
	}
	return nil
}

func updateMemoryRow(ctx context.Context, tx *sql.Tx, m *types.MemoryNote) error {
	keywords, _ := json.Marshal(nonNil(m.Keywords))
	tags, _ := json.Marshal(nonNil(m.Tags))
	files, _ := json.Marshal(nonNil(m.RelatedFiles))
	entities, _ := json.Marshal(nonNil(m.RelatedEntities))

	res, err := tx.ExecContext(ctx, `
		UPDATE memories SET
			content=$1, summary=$2, keywords=$3, tags=$4, context=$5,
			memory_type=$6, importance=$7, confidence=$8,
			related_files=$9, related_entities=$10, expires_at=$11,
			updated_at=$12
		WHERE id=$13`,
		m.Content, m.Summary, keywords, tags, m.Context,
		string(m.MemoryType), m.Importance, m.Confidence,
		files, entities, nullTime(m.ExpiresAt),
		m.UpdatedAt, string(m.ID),
	)
	if err != nil {
		return fmt.Errorf("postgres: update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func upsertLinkTx(ctx context.Context, tx *sql.Tx, l types.MemoryLink) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_links (source, target, link_type, strength, reason, created_at, last_traversed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (source, target, link_type) DO UPDATE SET
			strength = excluded.strength, reason = excluded.reason, last_traversed_at = excluded.last_traversed_at`,
		string(l.Source), string(l.Target), string(l.LinkType), l.Strength, l.Reason, l.CreatedAt, nullTime(l.LastTraversedAt))
	if err != nil {
		return fmt.Errorf("postgres: upsert link: %w", err)
	}
	return nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, op storage.AuditOp, id *types.MemoryID, details string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log (timestamp, op, memory_id, details) VALUES ($1,$2,$3,$4)`,
		time.Now().UTC(), string(op), nullMemoryID(id), details)
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id types.MemoryID) (*types.MemoryNote, error) {
	m, err := s.scanOne(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	links, err := s.ListLinks(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Links = links
	embedding, model, err := s.getEmbedding(ctx, s.db, id)
	if err == nil {
		m.Embedding = embedding
		m.EmbeddingModel = model
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m, nil
}

func (s *MemoryStore) Update(ctx context.Context, id types.MemoryID, patch storage.Patch) (*types.MemoryNote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	defer tx.Rollback()

	current, err := s.scanOne(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	applyPatch(current, patch)
	current.UpdatedAt = time.Now().UTC()
	if err := current.Validate(s.dim); err != nil {
		return nil, err
	}
	if err := updateMemoryRow(ctx, tx, current); err != nil {
		return nil, err
	}
	if patch.Links != nil {
		for _, l := range patch.Links {
			if err := upsertLinkTx(ctx, tx, l); err != nil {
				return nil, err
			}
		}
	}
	if err := appendAuditTx(ctx, tx, storage.AuditUpdated, &id, "patch applied"); err != nil {
		return nil, err
	}
	if err := classifyConnErr(tx.Commit()); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func applyPatch(m *types.MemoryNote, p storage.Patch) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Summary != nil {
		m.Summary = *p.Summary
	}
	if p.Keywords != nil || p.FieldsSet["keywords"] {
		m.Keywords = p.Keywords
	}
	if p.Tags != nil || p.FieldsSet["tags"] {
		m.Tags = p.Tags
	}
	if p.Context != nil {
		m.Context = *p.Context
	}
	if p.MemoryType != nil {
		m.MemoryType = types.NormalizeMemoryType(*p.MemoryType)
	}
	if p.Importance != nil {
		m.Importance = *p.Importance
	}
	if p.Confidence != nil {
		m.Confidence = *p.Confidence
	}
	if p.RelatedFiles != nil || p.FieldsSet["related_files"] {
		m.RelatedFiles = p.RelatedFiles
	}
	if p.RelatedEntities != nil || p.FieldsSet["related_entities"] {
		m.RelatedEntities = p.RelatedEntities
	}
	if p.ExpiresAt != nil {
		m.ExpiresAt = p.ExpiresAt
	}
}

func (s *MemoryStore) Archive(ctx context.Context, id types.MemoryID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE memories SET is_archived = TRUE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	if err := appendAuditTx(ctx, tx, storage.AuditArchived, &id, ""); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func (s *MemoryStore) Restore(ctx context.Context, id types.MemoryID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET is_archived = FALSE, updated_at = $1 WHERE id = $2`, time.Now().UTC(), string(id))
	return err
}

func (s *MemoryStore) Supersede(ctx context.Context, oldID, newID types.MemoryID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()

	old, err := s.scanOne(ctx, tx, oldID)
	if err != nil {
		return err
	}
	newMem, err := s.scanOne(ctx, tx, newID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: supersede target %s does not exist", storage.ErrInvariant, newID)
		}
		return err
	}
	if newMem.IsArchived {
		return fmt.Errorf("%w: supersede target %s is archived", storage.ErrInvariant, newID)
	}
	if newMem.UpdatedAt.Before(old.UpdatedAt) {
		return fmt.Errorf("%w: supersede target %s is not newer than %s", storage.ErrInvariant, newID, oldID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE memories SET superseded_by=$1, is_archived=TRUE, updated_at=$2 WHERE id=$3`,
		string(newID), time.Now().UTC(), string(oldID)); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, storage.AuditSuperseded, &oldID, fmt.Sprintf("superseded_by=%s", newID)); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func (s *MemoryStore) Unsupersede(ctx context.Context, id types.MemoryID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET superseded_by = NULL, updated_at = $1 WHERE id = $2`, time.Now().UTC(), string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) Access(ctx context.Context, id types.MemoryID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2`, now, string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.MemoryNote], error) {
	opts.Normalize()

	where := []string{"1=1"}
	args := []any{}
	place := func() string { return fmt.Sprintf("$%d", len(args)) }

	if !opts.IncludeArchived {
		where = append(where, "is_archived = FALSE")
	}
	if opts.Namespace != nil {
		args = append(args, string(opts.Namespace.Kind))
		a := place()
		args = append(args, opts.Namespace.Project)
		b := place()
		args = append(args, opts.Namespace.SessionID)
		c := place()
		where = append(where, fmt.Sprintf("namespace_kind = %s AND namespace_project = %s AND namespace_session_id = %s", a, b, c))
	}
	if opts.MinImportance > 0 {
		args = append(args, opts.MinImportance)
		where = append(where, fmt.Sprintf("importance >= %s", place()))
	}
	orderBy := opts.SortBy
	if orderBy == "decayed_importance" {
		orderBy = "importance"
	}

	args = append(args, opts.Limit)
	limitPlace := place()
	args = append(args, opts.Offset())
	offsetPlace := place()

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY %s %s LIMIT %s OFFSET %s`,
		memoryColumns, strings.Join(where, " AND "), orderBy, strings.ToUpper(opts.SortOrder), limitPlace, offsetPlace)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()

	var items []types.MemoryNote
	for rows.Next() {
		m, err := scanMemoryRowRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM memories WHERE %s`, strings.Join(where, " AND "))
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.MemoryNote]{
		Items: items, Total: total, Page: opts.Page, PageSize: opts.Limit,
		HasMore: opts.Offset()+len(items) < total,
	}, nil
}

func scanMemoryRowRows(rows *sql.Rows) (*types.MemoryNote, error) {
	var (
		m                                    types.MemoryNote
		idStr, kind, project, sessionID      string
		keywordsJSON, tagsJSON               []byte
		filesJSON, entitiesJSON              []byte
		lastAccessed, expiresAt              sql.NullTime
		supersedeByStr                       sql.NullString
	)
	if err := rows.Scan(
		&idStr, &kind, &project, &sessionID,
		&m.Content, &m.Summary, &keywordsJSON, &tagsJSON, &m.Context,
		&m.MemoryType, &m.Importance, &m.Confidence,
		&filesJSON, &entitiesJSON,
		&m.AccessCount, &lastAccessed, &expiresAt, &m.IsArchived, &supersedeByStr,
		&m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ID = types.MemoryID(idStr)
	m.Namespace = types.Namespace{Kind: types.NamespaceKind(kind), Project: project, SessionID: sessionID}
	_ = json.Unmarshal(keywordsJSON, &m.Keywords)
	_ = json.Unmarshal(tagsJSON, &m.Tags)
	_ = json.Unmarshal(filesJSON, &m.RelatedFiles)
	_ = json.Unmarshal(entitiesJSON, &m.RelatedEntities)
	if lastAccessed.Valid {
		m.LastAccessedAt = &lastAccessed.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	if supersedeByStr.Valid && supersedeByStr.String != "" {
		id := types.MemoryID(supersedeByStr.String)
		m.SupersededBy = &id
	}
	return &m, nil
}

// Reindex is a no-op on Postgres: the search_vector column is derived by a
// BEFORE UPDATE trigger on every write, so there is no separate shadow
// index to desync in the first place. It still exists to satisfy the
// capability interface uniformly across backends.
func (s *MemoryStore) Reindex(ctx context.Context, id types.MemoryID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET updated_at = updated_at WHERE id = $1`, string(id))
	return err
}

// --- LinkStore ---

func (s *MemoryStore) ListLinks(ctx context.Context, id types.MemoryID) ([]types.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, link_type, strength, reason, created_at, last_traversed_at FROM memory_links WHERE source = $1`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *MemoryStore) ListAllLinks(ctx context.Context) ([]types.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, link_type, strength, reason, created_at, last_traversed_at FROM memory_links`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]types.MemoryLink, error) {
	var out []types.MemoryLink
	for rows.Next() {
		var l types.MemoryLink
		var source, target, linkType string
		var lastTraversed sql.NullTime
		if err := rows.Scan(&source, &target, &linkType, &l.Strength, &l.Reason, &l.CreatedAt, &lastTraversed); err != nil {
			return nil, err
		}
		l.Source = types.MemoryID(source)
		l.Target = types.MemoryID(target)
		l.LinkType = types.LinkType(linkType)
		if lastTraversed.Valid {
			l.LastTraversedAt = &lastTraversed.Time
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *MemoryStore) UpsertLink(ctx context.Context, link types.MemoryLink) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()
	if err := upsertLinkTx(ctx, tx, link); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func (s *MemoryStore) DeleteLink(ctx context.Context, source, target types.MemoryID, linkType types.LinkType) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE source=$1 AND target=$2 AND link_type=$3`, string(source), string(target), string(linkType))
	return err
}

func (s *MemoryStore) CountIncoming(ctx context.Context, id types.MemoryID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_links l JOIN memories m ON m.id = l.source
		WHERE l.target = $1 AND m.is_archived = FALSE`, string(id)).Scan(&n)
	return n, err
}

// --- AuditLog ---

func (s *MemoryStore) Append(ctx context.Context, tx storage.Tx, event storage.AuditEvent) error {
	t, ok := tx.(*pqTx)
	if !ok {
		return fmt.Errorf("postgres: Append requires a *pqTx from this backend's BeginTx")
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO audit_log (timestamp, op, memory_id, details) VALUES ($1,$2,$3,$4)`,
		event.Timestamp, string(event.Op), nullMemoryID(event.MemoryID), event.Details)
	return err
}

func (s *MemoryStore) Since(ctx context.Context, cursor int64, limit int) ([]storage.AuditEvent, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT cursor, timestamp, op, memory_id, details FROM audit_log WHERE cursor > $1 ORDER BY cursor ASC LIMIT $2`, cursor, limit)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()
	var events []storage.AuditEvent
	next := cursor
	for rows.Next() {
		var e storage.AuditEvent
		var memID sql.NullString
		if err := rows.Scan(&e.Cursor, &e.Timestamp, &e.Op, &memID, &e.Details); err != nil {
			return nil, cursor, err
		}
		if memID.Valid {
			id := types.MemoryID(memID.String)
			e.MemoryID = &id
		}
		events = append(events, e)
		next = e.Cursor
	}
	return events, next, rows.Err()
}

// --- helpers ---

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullMemoryID(id *types.MemoryID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}
