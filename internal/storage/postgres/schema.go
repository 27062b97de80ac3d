//go:build postgres

package postgres

// Schema is the PostgreSQL DDL, mirroring the sqlite backend's tables with
// native types where Postgres has a better fit: JSONB for bounded lists,
// a pgvector `vector(dim)` column for embeddings (enabling an indexed ANN
// search via ivfflat/hnsw instead of the sqlite backend's in-process cosine
// scan), and a GIN tsvector index standing in for FTS5.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	namespace_kind TEXT NOT NULL,
	namespace_project TEXT NOT NULL DEFAULT '',
	namespace_session_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	keywords JSONB NOT NULL DEFAULT '[]',
	tags JSONB NOT NULL DEFAULT '[]',
	context TEXT NOT NULL DEFAULT '',
	memory_type TEXT NOT NULL,
	importance INTEGER NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	related_files JSONB NOT NULL DEFAULT '[]',
	related_entities JSONB NOT NULL DEFAULT '[]',
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	superseded_by TEXT,
	embedding_model TEXT NOT NULL DEFAULT '',
	search_vector tsvector,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace_kind, namespace_project, namespace_session_id);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_search_vector ON memories USING GIN(search_vector);

CREATE OR REPLACE FUNCTION memories_search_vector_update() RETURNS trigger AS $$
BEGIN
	NEW.search_vector :=
		setweight(to_tsvector('english', coalesce(NEW.content, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(NEW.summary, '')), 'B') ||
		setweight(to_tsvector('english', coalesce(NEW.keywords::text, '')), 'C') ||
		setweight(to_tsvector('english', coalesce(NEW.tags::text, '')), 'C');
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_search_vector_trigger ON memories;
CREATE TRIGGER memories_search_vector_trigger
	BEFORE INSERT OR UPDATE OF content, summary, keywords, tags ON memories
	FOR EACH ROW EXECUTE FUNCTION memories_search_vector_update();

CREATE TABLE IF NOT EXISTS memory_links (
	source TEXT NOT NULL REFERENCES memories(id),
	target TEXT NOT NULL REFERENCES memories(id),
	link_type TEXT NOT NULL,
	strength DOUBLE PRECISION NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	last_traversed_at TIMESTAMPTZ,
	PRIMARY KEY (source, target, link_type)
);

CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target);

CREATE TABLE IF NOT EXISTS memory_embeddings (
	memory_id TEXT PRIMARY KEY REFERENCES memories(id),
	embedding vector NOT NULL,
	dimension INTEGER NOT NULL,
	model TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_embeddings_model ON memory_embeddings(model);

CREATE TABLE IF NOT EXISTS audit_log (
	cursor BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	op TEXT NOT NULL,
	memory_id TEXT,
	details TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS evolution_cooldowns (
	memory_a TEXT NOT NULL,
	memory_b TEXT NOT NULL,
	decision TEXT NOT NULL,
	decided_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (memory_a, memory_b)
);
`
