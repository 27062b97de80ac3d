package sqlite

// Schema is the authoritative SQLite DDL for a fresh database. It mirrors
// migrations/0001_init.up.sql; RunMigrations is the path used when a
// migrations directory is supplied, and this constant is used for
// in-memory/test stores that want a schema without touching the
// filesystem.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	namespace_kind TEXT NOT NULL,
	namespace_project TEXT NOT NULL DEFAULT '',
	namespace_session_id TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	context TEXT NOT NULL DEFAULT '',
	memory_type TEXT NOT NULL,
	importance INTEGER NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	related_files TEXT NOT NULL DEFAULT '[]',
	related_entities TEXT NOT NULL DEFAULT '[]',
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed_at DATETIME,
	expires_at DATETIME,
	is_archived INTEGER NOT NULL DEFAULT 0,
	superseded_by TEXT,
	embedding_model TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace_kind, namespace_project, namespace_session_id);
CREATE INDEX IF NOT EXISTS idx_memories_archived ON memories(is_archived);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_superseded_by ON memories(superseded_by);

CREATE TABLE IF NOT EXISTS memory_links (
	source TEXT NOT NULL REFERENCES memories(id),
	target TEXT NOT NULL REFERENCES memories(id),
	link_type TEXT NOT NULL,
	strength REAL NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	last_traversed_at DATETIME,
	PRIMARY KEY (source, target, link_type)
);

CREATE INDEX IF NOT EXISTS idx_memory_links_target ON memory_links(target);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content, summary, keywords, tags,
	content='memories',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content, summary, keywords, tags)
	VALUES (new.rowid, new.content, new.summary, new.keywords, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, summary, keywords, tags)
	VALUES ('delete', old.rowid, old.content, old.summary, old.keywords, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content, summary, keywords, tags)
	VALUES ('delete', old.rowid, old.content, old.summary, old.keywords, old.tags);
	INSERT INTO memories_fts(rowid, content, summary, keywords, tags)
	VALUES (new.rowid, new.content, new.summary, new.keywords, new.tags);
END;

CREATE TABLE IF NOT EXISTS memory_embeddings (
	memory_id TEXT PRIMARY KEY REFERENCES memories(id),
	embedding BLOB NOT NULL,
	dimension INTEGER NOT NULL,
	model TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memory_embeddings_model ON memory_embeddings(model);

CREATE TABLE IF NOT EXISTS audit_log (
	cursor INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	op TEXT NOT NULL,
	memory_id TEXT,
	details TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS evolution_cooldowns (
	memory_a TEXT NOT NULL,
	memory_b TEXT NOT NULL,
	decision TEXT NOT NULL,
	decided_at DATETIME NOT NULL,
	PRIMARY KEY (memory_a, memory_b)
);
`
