package store

import (
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/fenv-org/mementor/internal/core/merr"
)

// Session tracks one transcript's ingest cursor and compaction state.
type Session struct {
	SessionID             string
	TranscriptPath         string
	ProjectDir             string
	ProjectRoot            string
	StartedAt              sql.NullString
	LastLineIndex          int
	ProvisionalTurnStart   sql.NullInt64
	LastCompactLineIndex   sql.NullInt64
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the session/cursor
// upserts below can run standalone or inside the caller's transaction —
// Ingest needs the latter for the turn access pattern it writes inside
// each per-turn transaction, since this process holds a single SQLite
// connection and a second Exec against s.db while a *sql.Tx is open on it
// would deadlock.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// UpsertSession inserts or updates a session row. started_at and
// last_compact_line_index are preserved on a NULL update value via
// COALESCE(excluded.x, sessions.x): a re-ingest of the same session must
// not erase a previously observed start time or compaction boundary.
func (s *Store) UpsertSession(sess Session) error {
	return UpsertSessionTx(s.db, sess)
}

// UpsertSessionTx is UpsertSession against an explicit executor (a *sql.Tx
// from an in-flight ingest transaction, typically).
func UpsertSessionTx(x execer, sess Session) error {
	_, err := x.Exec(`
		INSERT INTO sessions
			(session_id, transcript_path, project_dir, project_root, started_at,
			 last_line_index, provisional_turn_start, last_compact_line_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(session_id) DO UPDATE SET
			transcript_path = excluded.transcript_path,
			project_dir = excluded.project_dir,
			project_root = excluded.project_root,
			started_at = COALESCE(excluded.started_at, sessions.started_at),
			last_line_index = excluded.last_line_index,
			provisional_turn_start = excluded.provisional_turn_start,
			last_compact_line_index = COALESCE(excluded.last_compact_line_index, sessions.last_compact_line_index),
			updated_at = datetime('now')
	`,
		sess.SessionID, sess.TranscriptPath, sess.ProjectDir, sess.ProjectRoot, sess.StartedAt,
		sess.LastLineIndex, sess.ProvisionalTurnStart, sess.LastCompactLineIndex,
	)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "upsert session", err)
	}
	return nil
}

// GetSession returns nil, nil if sessionID doesn't exist.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRow(`
		SELECT session_id, transcript_path, project_dir, project_root, started_at,
		       last_line_index, provisional_turn_start, last_compact_line_index
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(
		&sess.SessionID, &sess.TranscriptPath, &sess.ProjectDir, &sess.ProjectRoot, &sess.StartedAt,
		&sess.LastLineIndex, &sess.ProvisionalTurnStart, &sess.LastCompactLineIndex,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "get session", err)
	}
	return &sess, nil
}

// UpdateCompactLine sets last_compact_line_index to the session's current
// last_line_index, marking everything up to that point as pre-compaction.
// Used directly by an external pre-compact hook call.
func (s *Store) UpdateCompactLine(sessionID string) error {
	return UpdateCompactLineTx(s.db, sessionID)
}

// UpdateCompactLineTx is UpdateCompactLine against an explicit executor.
// Ingest calls the non-tx form once the whole batch has already advanced
// last_line_index to EOF, so a compact_boundary line anywhere in the batch
// ends up recording the batch's true end line rather than some
// mid-batch value.
func UpdateCompactLineTx(x execer, sessionID string) error {
	_, err := x.Exec(`
		UPDATE sessions SET last_compact_line_index = last_line_index, updated_at = datetime('now')
		WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "update compact line", err)
	}
	return nil
}

// SubagentCursor mirrors the Session's cursor state for one subagent file.
type SubagentCursor struct {
	SessionID            string
	AgentID              string
	LastLineIndex        int
	ProvisionalTurnStart sql.NullInt64
}

func (s *Store) UpsertSubagentCursor(c SubagentCursor) error {
	return UpsertSubagentCursorTx(s.db, c)
}

// UpsertSubagentCursorTx is UpsertSubagentCursor against an explicit
// executor; see UpsertSessionTx.
func UpsertSubagentCursorTx(x execer, c SubagentCursor) error {
	_, err := x.Exec(`
		INSERT INTO subagent_cursors (session_id, agent_id, last_line_index, provisional_turn_start)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, agent_id) DO UPDATE SET
			last_line_index = excluded.last_line_index,
			provisional_turn_start = excluded.provisional_turn_start
	`, c.SessionID, c.AgentID, c.LastLineIndex, c.ProvisionalTurnStart)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "upsert subagent cursor", err)
	}
	return nil
}

func (s *Store) GetSubagentCursor(sessionID, agentID string) (*SubagentCursor, error) {
	var c SubagentCursor
	err := s.db.QueryRow(`
		SELECT session_id, agent_id, last_line_index, provisional_turn_start
		FROM subagent_cursors WHERE session_id = ? AND agent_id = ?
	`, sessionID, agentID).Scan(&c.SessionID, &c.AgentID, &c.LastLineIndex, &c.ProvisionalTurnStart)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "get subagent cursor", err)
	}
	return &c, nil
}

// Entry is one kept transcript line, storage-shaped. Execed against a
// *sql.Tx so per-turn transactions can batch entries with their turn.
type Entry struct {
	SessionID   string
	LineIndex   int
	AgentID     string
	EntryType   string
	Content     string
	ToolSummary string
	IsSidechain bool
	Timestamp   sql.NullString
}

// InsertEntry is INSERT OR IGNORE: idempotent under the (session, line,
// agent) unique key, so re-ingesting an already-stored line is a no-op.
func InsertEntry(tx *sql.Tx, e Entry) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO entries
			(session_id, line_index, agent_id, entry_type, content, tool_summary, is_sidechain, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.LineIndex, e.AgentID, e.EntryType, e.Content, e.ToolSummary, e.IsSidechain, e.Timestamp)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "insert entry", err)
	}
	return nil
}

// DeleteEntriesFrom removes entries for (sessionID, agentID) at or after
// fromLine, used by the provisional-rebuild protocol.
func DeleteEntriesFrom(tx *sql.Tx, sessionID, agentID string, fromLine int) (int64, error) {
	res, err := tx.Exec(`
		DELETE FROM entries WHERE session_id = ? AND agent_id = ? AND line_index >= ?
	`, sessionID, agentID, fromLine)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "delete entries", err)
	}
	return res.RowsAffected()
}

// Turn is one grouped user/assistant exchange, with its full text ready for
// chunking.
type Turn struct {
	ID          int64
	SessionID   string
	AgentID     string
	StartLine   int
	EndLine     int
	Provisional bool
	IsSidechain bool
	FullText    string
}

// UpsertTurn inserts or updates a turn keyed on (session, start_line,
// agent_id) and returns its row id, so rebuilding a provisional turn in
// place reuses the same id and keeps FTS/mentions/chunks consistent.
func UpsertTurn(tx *sql.Tx, t Turn) (int64, error) {
	_, err := tx.Exec(`
		INSERT INTO turns (session_id, agent_id, start_line, end_line, provisional, is_sidechain, full_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, start_line, agent_id) DO UPDATE SET
			end_line = excluded.end_line,
			provisional = excluded.provisional,
			is_sidechain = excluded.is_sidechain,
			full_text = excluded.full_text
	`, t.SessionID, t.AgentID, t.StartLine, t.EndLine, t.Provisional, t.IsSidechain, t.FullText)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "upsert turn", err)
	}
	var id int64
	err = tx.QueryRow(`
		SELECT id FROM turns WHERE session_id = ? AND start_line = ? AND agent_id = ?
	`, t.SessionID, t.StartLine, t.AgentID).Scan(&id)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "read turn id", err)
	}
	return id, nil
}

// DeleteTurnAt removes the turn at (sessionID, agentID, startLine); CASCADE
// (and the FTS delete trigger) clean up its chunks, mentions, vectors, and
// access pattern row.
func DeleteTurnAt(tx *sql.Tx, sessionID, agentID string, startLine int) (int64, error) {
	res, err := tx.Exec(`
		DELETE FROM turns WHERE session_id = ? AND agent_id = ? AND start_line = ?
	`, sessionID, agentID, startLine)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "delete turn", err)
	}
	return res.RowsAffected()
}

// InsertChunk inserts a chunk row and its embedding into the vec0 table.
// No chunk exists without an embedding.
func InsertChunk(tx *sql.Tx, turnID int64, chunkIndex int, embedding []float32) (int64, error) {
	res, err := tx.Exec(`
		INSERT OR REPLACE INTO chunks (turn_id, chunk_index) VALUES (?, ?)
	`, turnID, chunkIndex)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "insert chunk", err)
	}
	chunkID, err := res.LastInsertId()
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "read chunk id", err)
	}

	blob := encodeVector(embedding)
	_, err = tx.Exec(`
		INSERT OR REPLACE INTO chunk_vectors (rowid, embedding) VALUES (?, ?)
	`, chunkID, blob)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "insert chunk vector", err)
	}
	return chunkID, nil
}

// FileMention is one (turn, file path) pair a tool call or @-mention
// touched.
type FileMention struct {
	TurnID   int64
	FilePath string
	ToolName string
}

func InsertFileMention(tx *sql.Tx, m FileMention) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO file_mentions (turn_id, file_path, tool_name) VALUES (?, ?, ?)
	`, m.TurnID, m.FilePath, m.ToolName)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "insert file mention", err)
	}
	return nil
}

// PrLink is one GitHub PR linked from a session, independent of any turn.
type PrLink struct {
	SessionID    string
	PrNumber     int
	PrURL        string
	PrRepository string
	Timestamp    string
}

func InsertPrLink(tx *sql.Tx, p PrLink) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO pr_links (session_id, pr_number, pr_url, pr_repository, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, p.SessionID, p.PrNumber, p.PrURL, p.PrRepository, p.Timestamp)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "insert pr link", err)
	}
	return nil
}

func (s *Store) PrLinksForSession(sessionID string) ([]PrLink, error) {
	rows, err := s.db.Query(`
		SELECT session_id, pr_number, pr_url, pr_repository, timestamp
		FROM pr_links WHERE session_id = ? ORDER BY pr_number ASC
	`, sessionID)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "query pr links", err)
	}
	defer rows.Close()

	var out []PrLink
	for rows.Next() {
		var p PrLink
		if err := rows.Scan(&p.SessionID, &p.PrNumber, &p.PrURL, &p.PrRepository, &p.Timestamp); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan pr link", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetResourceEmbedding returns nil, nil on a cache miss.
func (s *Store) GetResourceEmbedding(resource string) ([]float32, error) {
	return GetResourceEmbeddingTx(s.db, resource)
}

// GetResourceEmbeddingTx is GetResourceEmbedding against an explicit
// executor; see UpsertSessionTx.
func GetResourceEmbeddingTx(x execer, resource string) ([]float32, error) {
	var blob []byte
	err := x.QueryRow(`SELECT embedding FROM resource_embeddings WHERE resource = ?`, resource).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "get resource embedding", err)
	}
	return decodeVector(blob), nil
}

// PutResourceEmbedding caches a resource's embedding. The cache is never
// deleted and is shared by every process via INSERT OR IGNORE on the
// resource key.
func (s *Store) PutResourceEmbedding(resource string, embedding []float32) error {
	return PutResourceEmbeddingTx(s.db, resource, embedding)
}

// PutResourceEmbeddingTx is PutResourceEmbedding against an explicit
// executor; see UpsertSessionTx.
func PutResourceEmbeddingTx(x execer, resource string, embedding []float32) error {
	_, err := x.Exec(`
		INSERT OR IGNORE INTO resource_embeddings (resource, embedding) VALUES (?, ?)
	`, resource, encodeVector(embedding))
	if err != nil {
		return merr.Wrap(merr.KindStorage, "put resource embedding", err)
	}
	return nil
}

// PutSessionAccessPattern upserts a session's centroid.
func (s *Store) PutSessionAccessPattern(sessionID string, centroid []float32, resourceCount int) error {
	return PutSessionAccessPatternTx(s.db, sessionID, centroid, resourceCount)
}

// PutSessionAccessPatternTx is PutSessionAccessPattern against an explicit
// executor; see UpsertSessionTx. Besides the BLOB row, this also upserts
// session_access_vectors so find-related-sessions can reach this session's
// centroid through a k-NN scan rather than reading every row into memory.
func PutSessionAccessPatternTx(x execer, sessionID string, centroid []float32, resourceCount int) error {
	_, err := x.Exec(`
		INSERT INTO session_access_patterns (session_id, centroid, resource_count) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET centroid = excluded.centroid, resource_count = excluded.resource_count
	`, sessionID, encodeVector(centroid), resourceCount)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "put session access pattern", err)
	}

	var rowID int64
	if err := x.QueryRow(`SELECT id FROM sessions WHERE session_id = ?`, sessionID).Scan(&rowID); err != nil {
		return merr.Wrap(merr.KindStorage, "resolve session row id", err)
	}
	if _, err := x.Exec(`
		INSERT OR REPLACE INTO session_access_vectors (rowid, embedding) VALUES (?, ?)
	`, rowID, encodeVector(centroid)); err != nil {
		return merr.Wrap(merr.KindStorage, "index session access vector", err)
	}
	return nil
}

func (s *Store) GetSessionAccessPattern(sessionID string) ([]float32, int, error) {
	return GetSessionAccessPatternTx(s.db, sessionID)
}

// GetSessionAccessPatternTx is GetSessionAccessPattern against an explicit
// executor; see UpsertSessionTx.
func GetSessionAccessPatternTx(x execer, sessionID string) ([]float32, int, error) {
	var blob []byte
	var count int
	err := x.QueryRow(`
		SELECT centroid, resource_count FROM session_access_patterns WHERE session_id = ?
	`, sessionID).Scan(&blob, &count)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, merr.Wrap(merr.KindStorage, "get session access pattern", err)
	}
	return decodeVector(blob), count, nil
}

// SessionIDByRowID resolves a sessions.id (the session_access_vectors
// rowid a k-NN scan returns) back to its session_id.
func (s *Store) SessionIDByRowID(rowID int64) (string, error) {
	var sessionID string
	err := s.db.QueryRow(`SELECT session_id FROM sessions WHERE id = ?`, rowID).Scan(&sessionID)
	if err != nil {
		return "", merr.Wrap(merr.KindStorage, "resolve session id by row id", err)
	}
	return sessionID, nil
}

// CountSessionAccessPatterns returns how many sessions other than
// excludeSessionID have a recorded access pattern, the total behind
// find-related-sessions' paging.
func (s *Store) CountSessionAccessPatterns(excludeSessionID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT count(*) FROM session_access_patterns WHERE session_id != ?
	`, excludeSessionID).Scan(&count)
	if err != nil {
		return 0, merr.Wrap(merr.KindStorage, "count session access patterns", err)
	}
	return count, nil
}

// PutTurnAccessPattern upserts a turn's centroid.
func (s *Store) PutTurnAccessPattern(turnID int64, centroid []float32, resourceCount int) error {
	return PutTurnAccessPatternTx(s.db, turnID, centroid, resourceCount)
}

// PutTurnAccessPatternTx is PutTurnAccessPattern against an explicit
// executor; see UpsertSessionTx.
func PutTurnAccessPatternTx(x execer, turnID int64, centroid []float32, resourceCount int) error {
	_, err := x.Exec(`
		INSERT INTO turn_access_patterns (turn_id, centroid, resource_count) VALUES (?, ?, ?)
		ON CONFLICT(turn_id) DO UPDATE SET centroid = excluded.centroid, resource_count = excluded.resource_count
	`, turnID, encodeVector(centroid), resourceCount)
	if err != nil {
		return merr.Wrap(merr.KindStorage, "put turn access pattern", err)
	}
	return nil
}

// TurnAccessPatternRow is read in bulk and compared in memory — turn
// centroids are never registered in the vector index.
type TurnAccessPatternRow struct {
	TurnID        int64
	StartLine     int
	Centroid      []float32
	ResourceCount int
}

// TurnAccessPatternsForSession returns every turn centroid for a session,
// ordered by start_line ascending, for the query engine's windowed
// find-related-turns lookup.
func (s *Store) TurnAccessPatternsForSession(sessionID string) ([]TurnAccessPatternRow, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.start_line, tap.centroid, tap.resource_count
		FROM turn_access_patterns tap
		JOIN turns t ON t.id = tap.turn_id
		WHERE t.session_id = ?
		ORDER BY t.start_line ASC
	`, sessionID)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "scan turn access patterns", err)
	}
	defer rows.Close()

	var out []TurnAccessPatternRow
	for rows.Next() {
		var r TurnAccessPatternRow
		var blob []byte
		if err := rows.Scan(&r.TurnID, &r.StartLine, &blob, &r.ResourceCount); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan turn access pattern row", err)
		}
		r.Centroid = decodeVector(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}

// encodeVector serializes a []float32 as little-endian bytes, the same
// format sqlite-vec's float[N] columns store natively, so this one
// encoding serves both the plain BLOB columns (resource_embeddings,
// *_access_patterns) and every vec0 table's embedding column.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
