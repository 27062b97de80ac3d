// Package sqlite implements the storage capability-set interfaces on top of
// a CGO-free SQLite driver (modernc.org/sqlite), keeping the default build
// pure-Go. It is the default backend; internal/storage/postgres implements
// the same interfaces for deployments that want a networked
// multi-writer-capable store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite driver

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// Ensure *MemoryStore implements the storage capability sets it claims.
var (
	_ storage.MemoryStore = (*MemoryStore)(nil)
	_ storage.LinkStore   = (*MemoryStore)(nil)
	_ storage.AuditLog    = (*MemoryStore)(nil)
)

// MemoryStore implements storage.MemoryStore, storage.LinkStore, and
// storage.AuditLog using SQLite. A single *sql.DB with MaxOpenConns(1)
// serializes writers. Readers in this process share that one connection, so
// a read waits for any in-flight statement or transaction on it; WAL mode
// only lets readers in other processes proceed alongside the writer.
type MemoryStore struct {
	db  *sql.DB
	dim int // declared embedding dimension; 0 means "not yet fixed"
}

// NewMemoryStore opens a SQLite memory store with WAL self-healing. If the
// initial open fails because of stale WAL files left behind by a crashed
// process, it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewMemoryStore(dsn string, dim int) (*MemoryStore, error) {
	store, err := openMemoryStore(dsn, dim)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}
	if !isWALStale(dbPath) {
		return nil, err
	}
	removeStaleWAL(dbPath)

	store, retryErr := openMemoryStore(dsn, dim)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}
	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// openMemoryStore opens the database, applies pragmas for single-writer/
// multi-reader concurrency, and ensures the schema exists.
func openMemoryStore(dsn string, dim int) (*MemoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// SQLite allows only one concurrent writer; capping the pool at one
	// connection serializes writes at the database/sql level rather than
	// fighting SQLITE_BUSY. Reads through this pool wait for the same
	// connection; WAL mode lets readers in other processes run concurrently
	// against the same file.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	store := &MemoryStore{db: db, dim: dim}

	// A crash between the row commit and the trigger-maintained FTS write
	// leaves the shadow table behind the authoritative rows. Detect that on
	// open and rebuild before serving any read, so a stale index never
	// silently returns partial results.
	if err := store.VerifyIndexes(context.Background()); err != nil {
		if !errors.Is(err, storage.ErrIndexStale) {
			db.Close()
			return nil, err
		}
		if rerr := store.ReindexAll(context.Background()); rerr != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: rebuild stale index: %w", rerr)
		}
		log.Printf("sqlite: rebuilt stale full-text index on open")
	}

	return store, nil
}

// RunMigrations applies pending migrations from dir instead of the embedded
// Schema constant. Preferred for production opens so schema evolution is
// auditable and forward-only.
func (s *MemoryStore) RunMigrations(dir string) error {
	mgr, err := storage.NewMigrationManager(s.db, dir)
	if err != nil {
		if errors.Is(err, storage.ErrSchemaTooNew) {
			return fmt.Errorf("%w: %v", storage.ErrFatal, err)
		}
		return fmt.Errorf("sqlite: migration manager: %w", err)
	}
	defer mgr.Close()
	if err := mgr.Up(); err != nil {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	return nil
}

// ReadOnly reopens dsn in a sub-mode that never requires write access to
// auxiliary index files (-wal/-shm).
func ReadOnly(dsn string) (*MemoryStore, error) {
	roDSN := dsn
	if !strings.Contains(roDSN, "?") {
		roDSN += "?mode=ro&_pragma=query_only(1)"
	} else {
		roDSN += "&mode=ro&_pragma=query_only(1)"
	}
	db, err := sql.Open("sqlite", roDSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open read-only: %w", err)
	}
	db.SetMaxOpenConns(4) // read-only mode has no single-writer constraint
	return &MemoryStore{db: db}, nil
}

// InMemory opens an ephemeral in-process store, primarily for tests and the
// degraded-mode/heuristic code paths that must not touch disk.
func InMemory() (*MemoryStore, error) {
	return NewMemoryStore("file::memory:?cache=shared", 0)
}

func (s *MemoryStore) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for callers that need to construct the
// sibling SearchProvider/GraphProvider/EmbeddingProvider against the same
// connection (they all share one *sql.DB so writes and index updates stay
// within the single-writer discipline).
func (s *MemoryStore) DB() *sql.DB { return s.db }

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (s *MemoryStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	return &sqlTx{tx: tx}, nil
}

// Create atomically inserts a memory row, its outgoing links, the FTS
// shadow (kept in sync via triggers), and the embedding row if present,
// plus the causing audit event, all within one transaction.
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
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, string(link.Target)).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: link target %s does not exist", storage.ErrNotFound, link.Target)
			}
			return fmt.Errorf("sqlite: Create link target check: %w", err)
		}
	}

	var dupe int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, string(m.ID)).Scan(&dupe)
	if err == nil {
		return fmt.Errorf("%w: memory id %s already exists", storage.ErrConflict, m.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: Create dup check: %w", err)
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
		) VALUES (?,?,?,?, ?,?,?,?,?, ?,?,?, ?,?, ?,?,?,?,?, ?,?,?)`,
		string(m.ID), string(m.Namespace.Kind), m.Namespace.Project, m.Namespace.SessionID,
		m.Content, m.Summary, string(keywords), string(tags), m.Context,
		string(m.MemoryType), m.Importance, m.Confidence,
		string(files), string(entities),
		m.AccessCount, nullTime(m.LastAccessedAt), nullTime(m.ExpiresAt), boolToInt(m.IsArchived), nullMemoryID(m.SupersededBy),
		m.EmbeddingModel, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert memory: %w", err)
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
			content = ?, summary = ?, keywords = ?, tags = ?, context = ?,
			memory_type = ?, importance = ?, confidence = ?,
			related_files = ?, related_entities = ?, expires_at = ?,
			updated_at = ?
		WHERE id = ?`,
		m.Content, m.Summary, string(keywords), string(tags), m.Context,
		string(m.MemoryType), m.Importance, m.Confidence,
		string(files), string(entities), nullTime(m.ExpiresAt),
		m.UpdatedAt, string(m.ID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func upsertLinkTx(ctx context.Context, tx *sql.Tx, l types.MemoryLink) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memory_links (source, target, link_type, strength, reason, created_at, last_traversed_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(source, target, link_type) DO UPDATE SET
			strength = excluded.strength,
			reason = excluded.reason,
			last_traversed_at = excluded.last_traversed_at`,
		string(l.Source), string(l.Target), string(l.LinkType), l.Strength, l.Reason, l.CreatedAt, nullTime(l.LastTraversedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert link: %w", err)
	}
	return nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, op storage.AuditOp, id *types.MemoryID, details string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log (timestamp, op, memory_id, details) VALUES (?,?,?,?)`,
		time.Now().UTC(), string(op), nullMemoryID(id), details)
	if err != nil {
		return fmt.Errorf("sqlite: append audit: %w", err)
	}
	return nil
}

// Get returns the full memory or storage.ErrNotFound.
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

type rowScanner interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const memoryColumns = `
	id, namespace_kind, namespace_project, namespace_session_id,
	content, summary, keywords, tags, context,
	memory_type, importance, confidence,
	related_files, related_entities,
	access_count, last_accessed_at, expires_at, is_archived, superseded_by,
	embedding_model, created_at, updated_at`

func (s *MemoryStore) scanOne(ctx context.Context, q rowScanner, id types.MemoryID) (*types.MemoryNote, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, string(id))
	m, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return m, err
}

func scanMemoryRow(row *sql.Row) (*types.MemoryNote, error) {
	var (
		m                                    types.MemoryNote
		idStr, kind, project, sessionID      string
		keywordsJSON, tagsJSON               string
		filesJSON, entitiesJSON              string
		lastAccessed, expiresAt, supersedeBy sql.NullString
		isArchivedInt                        int
	)
	if err := row.Scan(
		&idStr, &kind, &project, &sessionID,
		&m.Content, &m.Summary, &keywordsJSON, &tagsJSON, &m.Context,
		&m.MemoryType, &m.Importance, &m.Confidence,
		&filesJSON, &entitiesJSON,
		&m.AccessCount, &lastAccessed, &expiresAt, &isArchivedInt, &supersedeBy,
		&m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ID = types.MemoryID(idStr)
	m.Namespace = types.Namespace{Kind: types.NamespaceKind(kind), Project: project, SessionID: sessionID}
	m.IsArchived = isArchivedInt != 0
	_ = json.Unmarshal([]byte(keywordsJSON), &m.Keywords)
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(filesJSON), &m.RelatedFiles)
	_ = json.Unmarshal([]byte(entitiesJSON), &m.RelatedEntities)
	if lastAccessed.Valid {
		t, err := parseSQLiteTime(lastAccessed.String)
		if err == nil {
			m.LastAccessedAt = &t
		}
	}
	if expiresAt.Valid {
		t, err := parseSQLiteTime(expiresAt.String)
		if err == nil {
			m.ExpiresAt = &t
		}
	}
	if supersedeBy.Valid && supersedeBy.String != "" {
		id := types.MemoryID(supersedeBy.String)
		m.SupersededBy = &id
	}
	return &m, nil
}

// parseSQLiteTime parses the formats modernc.org/sqlite round-trips
// time.Time through when the driver gives back a string instead of scanning
// directly into time.Time (happens for some pragma/driver configurations).
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("sqlite: unrecognized time format %q", s)
}

// Update applies a partial update of mutable fields. Content changes force
// re-embedding to be requested by the caller (the pipeline re-embeds and
// passes the new vector via patch.Links is not the mechanism; embedding is
// refreshed by a subsequent StoreEmbedding call) — Update itself just
// persists whatever fields the patch specifies and refreshes the FTS row by
// virtue of the UPDATE trigger.
func (s *MemoryStore) Update(ctx context.Context, id types.MemoryID, patch storage.Patch) (*types.MemoryNote, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, string(id))
	current, err := scanMemoryRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("sqlite: Update scan: %w", err)
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

	res, err := tx.ExecContext(ctx, `UPDATE memories SET is_archived = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("sqlite: archive: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	if err := appendAuditTx(ctx, tx, storage.AuditArchived, &id, ""); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

func (s *MemoryStore) Restore(ctx context.Context, id types.MemoryID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET is_archived = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("sqlite: restore: %w", err)
	}
	return nil
}

// Supersede sets old.superseded_by = newID and archives old, atomically.
// The new memory must exist, be non-archived, and have a newer updated_at
// than old.
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

	if _, err := tx.ExecContext(ctx, `UPDATE memories SET superseded_by = ?, is_archived = 1, updated_at = ? WHERE id = ?`,
		string(newID), time.Now().UTC(), string(oldID)); err != nil {
		return fmt.Errorf("sqlite: supersede: %w", err)
	}
	if err := appendAuditTx(ctx, tx, storage.AuditSuperseded, &oldID, fmt.Sprintf("superseded_by=%s", newID)); err != nil {
		return err
	}
	return classifyConnErr(tx.Commit())
}

// Unsupersede clears superseded_by without reversing archival; restoring
// visibility is a separate, explicit Restore call.
func (s *MemoryStore) Unsupersede(ctx context.Context, id types.MemoryID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET superseded_by = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("sqlite: unsupersede: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Access increments access_count and last_accessed_at without touching the
// FTS shadow: it is a plain UPDATE on memories, and the AFTER UPDATE
// trigger re-derives the FTS row from unchanged content/summary/keywords/
// tags columns, so no indexed column actually changes value.
func (s *MemoryStore) Access(ctx context.Context, id types.MemoryID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`, now, string(id))
	if err != nil {
		return fmt.Errorf("sqlite: access: %w", err)
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

	if !opts.IncludeArchived {
		where = append(where, "is_archived = 0")
	}
	if opts.Namespace != nil {
		where = append(where, "namespace_kind = ? AND namespace_project = ? AND namespace_session_id = ?")
		args = append(args, string(opts.Namespace.Kind), opts.Namespace.Project, opts.Namespace.SessionID)
	}
	if len(opts.MemoryTypes) > 0 {
		placeholders := make([]string, len(opts.MemoryTypes))
		for i, t := range opts.MemoryTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, fmt.Sprintf("memory_type IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, opts.MinImportance)
	}
	if !opts.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, opts.CreatedBefore)
	}

	orderBy := opts.SortBy
	if orderBy == "decayed_importance" {
		orderBy = "importance" // decayed_importance is computed in Go; the SQL orders by stored importance and List returns that order.
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		memoryColumns, strings.Join(where, " AND "), orderBy, strings.ToUpper(opts.SortOrder))
	args = append(args, opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var items []types.MemoryNote
	for rows.Next() {
		m, err := scanMemoryRowRows(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list scan: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM memories WHERE %s`, strings.Join(where, " AND "))
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args[:len(args)-2]...).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: list count: %w", err)
	}

	return &storage.PaginatedResult[types.MemoryNote]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// scanMemoryRowRows mirrors scanMemoryRow for *sql.Rows (QueryRowContext and
// QueryContext return distinct row types in database/sql).
func scanMemoryRowRows(rows *sql.Rows) (*types.MemoryNote, error) {
	var (
		m                                    types.MemoryNote
		idStr, kind, project, sessionID      string
		keywordsJSON, tagsJSON               string
		filesJSON, entitiesJSON              string
		lastAccessed, expiresAt, supersedeBy sql.NullString
		isArchivedInt                        int
	)
	if err := rows.Scan(
		&idStr, &kind, &project, &sessionID,
		&m.Content, &m.Summary, &keywordsJSON, &tagsJSON, &m.Context,
		&m.MemoryType, &m.Importance, &m.Confidence,
		&filesJSON, &entitiesJSON,
		&m.AccessCount, &lastAccessed, &expiresAt, &isArchivedInt, &supersedeBy,
		&m.EmbeddingModel, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.ID = types.MemoryID(idStr)
	m.Namespace = types.Namespace{Kind: types.NamespaceKind(kind), Project: project, SessionID: sessionID}
	m.IsArchived = isArchivedInt != 0
	_ = json.Unmarshal([]byte(keywordsJSON), &m.Keywords)
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	_ = json.Unmarshal([]byte(filesJSON), &m.RelatedFiles)
	_ = json.Unmarshal([]byte(entitiesJSON), &m.RelatedEntities)
	if lastAccessed.Valid {
		if t, err := parseSQLiteTime(lastAccessed.String); err == nil {
			m.LastAccessedAt = &t
		}
	}
	if expiresAt.Valid {
		if t, err := parseSQLiteTime(expiresAt.String); err == nil {
			m.ExpiresAt = &t
		}
	}
	if supersedeBy.Valid && supersedeBy.String != "" {
		id := types.MemoryID(supersedeBy.String)
		m.SupersededBy = &id
	}
	return &m, nil
}

// VerifyIndexes checks that the FTS shadow table holds exactly one row per
// memory row, returning storage.ErrIndexStale on a mismatch. A stale index
// must never serve reads; callers repair with ReindexAll before continuing.
func (s *MemoryStore) VerifyIndexes(ctx context.Context) error {
	var memories, indexed int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&memories); err != nil {
		return fmt.Errorf("sqlite: verify indexes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories_fts`).Scan(&indexed); err != nil {
		return fmt.Errorf("%w: fts shadow unreadable: %v", storage.ErrIndexStale, err)
	}
	if memories != indexed {
		return fmt.Errorf("%w: %d memories but %d fts rows", storage.ErrIndexStale, memories, indexed)
	}
	return nil
}

// ReindexAll rebuilds the entire FTS shadow from the memories table using
// FTS5's rebuild command, which deletes and re-derives every row. Running it
// twice in a row leaves the index in the same state as running it once.
func (s *MemoryStore) ReindexAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("sqlite: fts rebuild: %w", err)
	}
	return nil
}

// Reindex rebuilds the FTS row for id by deleting and re-inserting it:
// calling Reindex twice in a row leaves the index in the same state as
// calling it once.
func (s *MemoryStore) Reindex(ctx context.Context, id types.MemoryID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyConnErr(err)
	}
	defer tx.Rollback()

	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM memories WHERE id = ?`, string(id)).Scan(&rowid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("sqlite: reindex rowid lookup: %w", err)
	}

	var content, summary, keywords, tags string
	if err := tx.QueryRowContext(ctx, `SELECT content, summary, keywords, tags FROM memories WHERE rowid = ?`, rowid).
		Scan(&content, &summary, &keywords, &tags); err != nil {
		return fmt.Errorf("sqlite: reindex row fetch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(memories_fts, rowid, content, summary, keywords, tags) VALUES ('delete', ?, ?, ?, ?, ?)`,
		rowid, content, summary, keywords, tags); err != nil {
		// Row may not exist in the shadow table yet; that's fine, proceed to insert.
		_ = err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts(rowid, content, summary, keywords, tags) VALUES (?,?,?,?,?)`,
		rowid, content, summary, keywords, tags); err != nil {
		return fmt.Errorf("sqlite: reindex insert: %w", err)
	}

	return classifyConnErr(tx.Commit())
}

// --- LinkStore ---

func (s *MemoryStore) ListLinks(ctx context.Context, id types.MemoryID) ([]types.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, link_type, strength, reason, created_at, last_traversed_at FROM memory_links WHERE source = ?`, string(id))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func (s *MemoryStore) ListAllLinks(ctx context.Context) ([]types.MemoryLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, target, link_type, strength, reason, created_at, last_traversed_at FROM memory_links`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list all links: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]types.MemoryLink, error) {
	var out []types.MemoryLink
	for rows.Next() {
		var l types.MemoryLink
		var source, target, linkType string
		var lastTraversed sql.NullString
		if err := rows.Scan(&source, &target, &linkType, &l.Strength, &l.Reason, &l.CreatedAt, &lastTraversed); err != nil {
			return nil, err
		}
		l.Source = types.MemoryID(source)
		l.Target = types.MemoryID(target)
		l.LinkType = types.LinkType(linkType)
		if lastTraversed.Valid {
			if t, err := parseSQLiteTime(lastTraversed.String); err == nil {
				l.LastTraversedAt = &t
			}
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_links WHERE source = ? AND target = ? AND link_type = ?`,
		string(source), string(target), string(linkType))
	if err != nil {
		return fmt.Errorf("sqlite: delete link: %w", err)
	}
	return nil
}

func (s *MemoryStore) CountIncoming(ctx context.Context, id types.MemoryID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_links l
		JOIN memories m ON m.id = l.source
		WHERE l.target = ? AND m.is_archived = 0`, string(id)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count incoming: %w", err)
	}
	return n, nil
}

// --- AuditLog ---

func (s *MemoryStore) Append(ctx context.Context, tx storage.Tx, event storage.AuditEvent) error {
	t, ok := tx.(*sqlTx)
	if !ok {
		return fmt.Errorf("sqlite: Append requires a *sqlTx from this backend's BeginTx")
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO audit_log (timestamp, op, memory_id, details) VALUES (?,?,?,?)`,
		event.Timestamp, string(event.Op), nullMemoryID(event.MemoryID), event.Details)
	if err != nil {
		return fmt.Errorf("sqlite: append audit: %w", err)
	}
	return nil
}

func (s *MemoryStore) Since(ctx context.Context, cursor int64, limit int) ([]storage.AuditEvent, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT cursor, timestamp, op, memory_id, details FROM audit_log WHERE cursor > ? ORDER BY cursor ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, cursor, fmt.Errorf("sqlite: audit since: %w", err)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// classifyConnErr maps low-level sqlite driver/connection errors onto the
// shared error-kind sentinels so callers can retry/backoff uniformly
// across backends.
func classifyConnErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", storage.ErrRetryable, err)
	}
	return err
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database disk image is malformed")
}

func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") {
		return ":memory:"
	}
	path := dsn
	if strings.Contains(path, "?") {
		path = strings.SplitN(path, "?", 2)[0]
	}
	path = strings.TrimPrefix(path, "file:")
	if u, err := url.Parse(dsn); err == nil && u.Path != "" {
		path = u.Path
	}
	return path
}

func isWALStale(dbPath string) bool {
	walPath := dbPath + "-wal"
	shmPath := dbPath + "-shm"
	_, walErr := os.Stat(walPath)
	_, shmErr := os.Stat(shmPath)
	return walErr == nil || shmErr == nil
}

func removeStaleWAL(dbPath string) {
	os.Remove(dbPath + "-wal")
	os.Remove(dbPath + "-shm")
}

func (s *MemoryStore) getEmbedding(ctx context.Context, q rowScanner, id types.MemoryID) ([]float32, string, error) {
	row := q.QueryRowContext(ctx, `SELECT embedding, dimension, model FROM memory_embeddings WHERE memory_id = ?`, string(id))
	var blob []byte
	var dim int
	var model string
	if err := row.Scan(&blob, &dim, &model); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("sqlite: get embedding: %w", err)
	}
	vec, err := deserializeEmbedding(blob, dim)
	if err != nil {
		return nil, "", err
	}
	return vec, model, nil
}

func storeEmbeddingTx(ctx context.Context, tx *sql.Tx, id types.MemoryID, vec []float32, model string) error {
	blob, err := serializeEmbedding(vec)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_id, embedding, dimension, model, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(memory_id) DO UPDATE SET
			embedding = excluded.embedding, dimension = excluded.dimension, model = excluded.model, updated_at = excluded.updated_at`,
		string(id), blob, len(vec), model, now, now)
	if err != nil {
		return fmt.Errorf("sqlite: store embedding: %w", err)
	}
	return nil
}
