package store

// schemaDDL is the full snapshot applied to a fresh database: sessions,
// turns, entries, chunks, mentions, access patterns, and PR links, plus
// vec0 virtual tables for chunk and session-centroid vectors and an FTS5
// virtual table for full-text turn search.
const schemaDDL = `
CREATE TABLE sessions (
	id                       INTEGER PRIMARY KEY,
	session_id               TEXT NOT NULL UNIQUE,
	transcript_path          TEXT NOT NULL,
	project_dir              TEXT NOT NULL,
	project_root             TEXT NOT NULL DEFAULT '',
	started_at               TEXT,
	last_line_index          INTEGER NOT NULL DEFAULT 0,
	provisional_turn_start   INTEGER,
	last_compact_line_index  INTEGER,
	created_at               TEXT NOT NULL DEFAULT (datetime('now')),
	updated_at               TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE subagent_cursors (
	session_id              TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	agent_id                TEXT NOT NULL,
	last_line_index         INTEGER NOT NULL DEFAULT 0,
	provisional_turn_start  INTEGER,
	PRIMARY KEY (session_id, agent_id)
);

CREATE TABLE entries (
	id            INTEGER PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	line_index    INTEGER NOT NULL,
	agent_id      TEXT NOT NULL DEFAULT '',
	entry_type    TEXT NOT NULL,
	content       TEXT NOT NULL DEFAULT '',
	tool_summary  TEXT NOT NULL DEFAULT '',
	is_sidechain  INTEGER NOT NULL DEFAULT 0,
	timestamp     TEXT,
	UNIQUE (session_id, line_index, agent_id)
);
CREATE INDEX idx_entries_session ON entries(session_id);

CREATE TABLE turns (
	id            INTEGER PRIMARY KEY,
	session_id    TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	agent_id      TEXT NOT NULL DEFAULT '',
	start_line    INTEGER NOT NULL,
	end_line      INTEGER NOT NULL,
	provisional   INTEGER NOT NULL DEFAULT 0,
	is_sidechain  INTEGER NOT NULL DEFAULT 0,
	full_text     TEXT NOT NULL,
	UNIQUE (session_id, start_line, agent_id)
);
CREATE INDEX idx_turns_session ON turns(session_id);

CREATE VIRTUAL TABLE turns_fts USING fts5(
	full_text,
	content = 'turns',
	content_rowid = 'id'
);

CREATE TRIGGER turns_ai AFTER INSERT ON turns BEGIN
	INSERT INTO turns_fts(rowid, full_text) VALUES (new.id, new.full_text);
END;
CREATE TRIGGER turns_ad AFTER DELETE ON turns BEGIN
	INSERT INTO turns_fts(turns_fts, rowid, full_text) VALUES ('delete', old.id, old.full_text);
END;
CREATE TRIGGER turns_au AFTER UPDATE ON turns BEGIN
	INSERT INTO turns_fts(turns_fts, rowid, full_text) VALUES ('delete', old.id, old.full_text);
	INSERT INTO turns_fts(rowid, full_text) VALUES (new.id, new.full_text);
END;

CREATE TABLE chunks (
	id           INTEGER PRIMARY KEY,
	turn_id      INTEGER NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
	chunk_index  INTEGER NOT NULL,
	UNIQUE (turn_id, chunk_index)
);

CREATE VIRTUAL TABLE chunk_vectors USING vec0(
	embedding float[768] distance_metric=cosine
);

-- chunks has no FK onto chunk_vectors (a vec0 table can't be a FK target),
-- so a chunk's vector row is cleaned up explicitly: once on a real delete
-- (including one cascaded from a turn delete) and once on the implicit
-- delete-then-reinsert INSERT OR REPLACE performs when chunk_index already
-- exists for a turn, which otherwise leaves the old rowid's vector behind
-- under a chunk_vectors rowid nothing references anymore.
CREATE TRIGGER chunks_ad AFTER DELETE ON chunks BEGIN
	DELETE FROM chunk_vectors WHERE rowid = old.id;
END;

CREATE TABLE file_mentions (
	id         INTEGER PRIMARY KEY,
	turn_id    INTEGER NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
	file_path  TEXT NOT NULL,
	tool_name  TEXT NOT NULL,
	UNIQUE (turn_id, file_path, tool_name)
);
CREATE INDEX idx_file_mentions_path ON file_mentions(file_path);

CREATE TABLE pr_links (
	id             INTEGER PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	pr_number      INTEGER NOT NULL,
	pr_url         TEXT NOT NULL,
	pr_repository  TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	UNIQUE (session_id, pr_number)
);

CREATE TABLE resource_embeddings (
	resource   TEXT PRIMARY KEY,
	embedding  BLOB NOT NULL
);

CREATE TABLE session_access_patterns (
	session_id      TEXT PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
	centroid        BLOB NOT NULL,
	resource_count  INTEGER NOT NULL
);

-- Session centroids are few enough, and change often enough, that a k-NN
-- index never outperforms a linear scan in principle, but find-related-
-- sessions still has to return its matches ranked by distance over however
-- many sessions the store accumulates, so it goes through the same vec0
-- k-NN path chunk search does rather than an in-memory sort. Keyed by
-- sessions.id (an integer, unlike session_access_patterns' text primary
-- key) since vec0 rowids must be integers.
CREATE VIRTUAL TABLE session_access_vectors USING vec0(
	embedding float[768] distance_metric=cosine
);

CREATE TRIGGER sessions_ad AFTER DELETE ON sessions BEGIN
	DELETE FROM session_access_vectors WHERE rowid = old.id;
END;

CREATE TABLE turn_access_patterns (
	turn_id         INTEGER PRIMARY KEY REFERENCES turns(id) ON DELETE CASCADE,
	centroid        BLOB NOT NULL,
	resource_count  INTEGER NOT NULL
);
`
