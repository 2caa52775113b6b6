// Package query is the five families of recall the CLI and the hook
// surface draw on — hybrid vector+file search across a session's full
// history, a file-only lookup for fast PreToolUse context injection,
// full-text search, and the two centroid-based "what else is like this"
// families (related sessions, related turns).
package query

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/metadata"
	"github.com/fenv-org/mementor/internal/core/merr"
	"github.com/fenv-org/mementor/internal/core/runtime"
	"github.com/fenv-org/mementor/internal/core/vectorindex"
)

// turnKey identifies a turn by the pair search_context groups on: its
// session and its start line.
type turnKey struct {
	sessionID string
	startLine int
}

// candidate is one turn-level result before the distance threshold,
// in-context filter, and merge are applied.
type candidate struct {
	key      turnKey
	distance float64
}

// SearchMemories embeds queryText, over-fetches chunk matches by vector
// distance, merges in any file-path hits the query text hints at, filters
// out same-session results still inside the live context window, and
// renders the survivors as the "## Relevant past context" block the CLI/hook
// prints verbatim. sessionID is the querying session, used for in-context
// filtering; pass "" to search with no session context (every result is
// then treated as cross-session). offset/limit page the merged, ranked
// result set; total is the count of matches before paging.
func SearchMemories(rt *runtime.Runtime, queryText string, offset, limit int, sessionID string) (string, int, error) {
	st := rt.Store

	queryEmbedding, err := rt.Embedder.EmbedOne(embedding.ModeQuery, queryText)
	if err != nil {
		return "", 0, fmt.Errorf("embed query: %w", err)
	}

	fileHints := metadata.ExtractFileHints(queryText)

	boundary, err := compactBoundaryFor(st.DB(), sessionID)
	if err != nil {
		return "", 0, err
	}

	kInternal := (offset + limit) * rt.Config.OverFetchMultiplier
	candidates, err := searchByVector(st.DB(), queryEmbedding, kInternal, sessionID, boundary)
	if err != nil {
		return "", 0, err
	}

	var fileResults []turnKey
	if len(fileHints) > 0 {
		fileResults, err = searchByFilePath(st.DB(), fileHints, sessionID, boundary, kInternal)
		if err != nil {
			return "", 0, err
		}
	}

	merged := map[turnKey]float64{}
	for _, c := range candidates {
		if c.distance > rt.Config.MaxCosineDistance {
			continue
		}
		if existing, ok := merged[c.key]; !ok || c.distance < existing {
			merged[c.key] = c.distance
		}
	}
	for _, key := range fileResults {
		if existing, ok := merged[key]; ok {
			if rt.Config.FileMatchDistance < existing {
				merged[key] = rt.Config.FileMatchDistance
			}
		} else {
			merged[key] = rt.Config.FileMatchDistance
		}
	}

	total := len(merged)
	if total == 0 {
		return "", 0, nil
	}

	type ranked struct {
		key      turnKey
		distance float64
	}
	sorted := make([]ranked, 0, len(merged))
	for key, d := range merged {
		sorted = append(sorted, ranked{key, d})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].distance < sorted[j].distance })
	sorted = page(sorted, offset, limit)

	keys := make([]turnKey, len(sorted))
	for i, r := range sorted {
		keys[i] = r.key
	}
	texts, err := turnTexts(st.DB(), keys)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	b.WriteString("## Relevant past context\n\n")
	wrote := false
	for i, r := range sorted {
		text := texts[r.key]
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "### Memory %d (distance: %.4f)\n%s\n\n", i+1, r.distance, text)
		wrote = true
	}
	if !wrote {
		return "", total, nil
	}
	return b.String(), total, nil
}

// SearchFileContext is the pure file-path lookup used for fast PreToolUse
// context injection: no embedding call, just file_mentions plus the same
// in-context filter as SearchMemories. offset/limit page the matched turns;
// total is the count of matches before paging.
func SearchFileContext(rt *runtime.Runtime, filePath, projectDir, projectRoot string, offset, limit int, sessionID string) (string, int, error) {
	normalized, ok := metadata.NormalizePath(filePath, projectDir, projectRoot)
	if !ok {
		return "", 0, nil
	}

	st := rt.Store
	boundary, err := compactBoundaryFor(st.DB(), sessionID)
	if err != nil {
		return "", 0, err
	}

	all, err := searchByFilePath(st.DB(), []string{normalized}, sessionID, boundary, -1)
	if err != nil {
		return "", 0, err
	}
	total := len(all)
	if total == 0 {
		return "", 0, nil
	}
	results := page(all, offset, limit)

	texts, err := turnTexts(st.DB(), results)
	if err != nil {
		return "", 0, err
	}

	header := fmt.Sprintf("## Past context for %s\n\n", normalized)
	var b strings.Builder
	b.WriteString(header)
	wrote := false
	for i, key := range results {
		text := texts[key]
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "### Memory %d\n%s\n\n", i+1, text)
		wrote = true
	}
	if !wrote {
		return "", total, nil
	}
	return b.String(), total, nil
}

// page slices s to the [offset, offset+limit) window, clamped to s's
// bounds. The search, related-* and FindByCommit families apply this after
// ranking their candidate set, so offset/limit only chooses which page of
// those rows comes back; SearchFullText and FindByFile page in SQL instead.
func page[T any](s []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(s) {
		return nil
	}
	end := offset + limit
	if limit < 0 || end > len(s) {
		end = len(s)
	}
	return s[offset:end]
}

// searchByVector runs the vector over-fetch and groups chunk matches down
// to one best distance per turn, then applies the in-context filter.
func searchByVector(db *sql.DB, queryEmbedding []float32, kInternal int, sessionID string, boundary sql.NullInt64) ([]candidate, error) {
	matches, err := vectorindex.FullScan(db, vectorindex.ChunkVectorsTable, queryEmbedding, kInternal)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(matches))
	distanceByChunk := make(map[int64]float64, len(matches))
	for i, m := range matches {
		ids[i] = m.RowID
		distanceByChunk[m.RowID] = m.Distance
	}

	rows, err := db.Query(
		`SELECT c.id, t.session_id, t.start_line
		 FROM chunks c JOIN turns t ON t.id = c.turn_id
		 WHERE c.id IN (`+placeholders(len(ids))+`)`,
		toArgs(ids)...,
	)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "resolve chunk turns", err)
	}
	defer rows.Close()

	best := map[turnKey]float64{}
	for rows.Next() {
		var chunkID int64
		var key turnKey
		if err := rows.Scan(&chunkID, &key.sessionID, &key.startLine); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan chunk turn", err)
		}
		if !inContext(key.sessionID, key.startLine, sessionID, boundary) {
			continue
		}
		d := distanceByChunk[chunkID]
		if existing, ok := best[key]; !ok || d < existing {
			best[key] = d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, merr.Wrap(merr.KindStorage, "iterate chunk turns", err)
	}

	out := make([]candidate, 0, len(best))
	for key, d := range best {
		out = append(out, candidate{key: key, distance: d})
	}
	return out, nil
}

// searchByFilePath finds turns that mentioned any of hints, applying the
// same in-context filter as the vector path, capped at limit results (a
// negative limit means no cap).
func searchByFilePath(db *sql.DB, hints []string, sessionID string, boundary sql.NullInt64, limit int) ([]turnKey, error) {
	if len(hints) == 0 {
		return nil, nil
	}
	rows, err := db.Query(
		`SELECT DISTINCT t.session_id, t.start_line
		 FROM file_mentions fm JOIN turns t ON t.id = fm.turn_id
		 WHERE fm.file_path IN (`+placeholders(len(hints))+`)
		 ORDER BY t.start_line DESC
		 LIMIT ?`,
		append(toArgs(hints), limit)...,
	)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "search by file path", err)
	}
	defer rows.Close()

	var out []turnKey
	for rows.Next() {
		var key turnKey
		if err := rows.Scan(&key.sessionID, &key.startLine); err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan file mention turn", err)
		}
		if inContext(key.sessionID, key.startLine, sessionID, boundary) {
			out = append(out, key)
		}
	}
	return out, rows.Err()
}

// inContext reports whether a candidate turn is worth surfacing: turns from
// a different session are always eligible, since a different session's
// history is never in the querying assistant's live context window. A turn
// from the SAME session is only eligible if it predates that session's
// compaction boundary — anything after the boundary is still in context and
// recalling it would be redundant. With no boundary recorded, the entire
// same-session history is assumed still in context.
func inContext(turnSessionID string, startLine int, querySessionID string, boundary sql.NullInt64) bool {
	if querySessionID == "" || turnSessionID != querySessionID {
		return true
	}
	if !boundary.Valid {
		return false
	}
	return startLine <= int(boundary.Int64)
}

func compactBoundaryFor(db *sql.DB, sessionID string) (sql.NullInt64, error) {
	if sessionID == "" {
		return sql.NullInt64{}, nil
	}
	var boundary sql.NullInt64
	err := db.QueryRow(`SELECT last_compact_line_index FROM sessions WHERE session_id = ?`, sessionID).Scan(&boundary)
	if err == sql.ErrNoRows {
		return sql.NullInt64{}, nil
	}
	if err != nil {
		return sql.NullInt64{}, merr.Wrap(merr.KindStorage, "read compaction boundary", err)
	}
	return boundary, nil
}

// turnTexts reconstructs each key's full turn text. The store persists a
// turn's full_text once and derives chunks from it on demand, so
// reconstruction is a direct lookup rather than a chunk-index join.
func turnTexts(db *sql.DB, keys []turnKey) (map[turnKey]string, error) {
	out := make(map[turnKey]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	stmt, err := db.Prepare(`SELECT full_text FROM turns WHERE session_id = ? AND start_line = ?`)
	if err != nil {
		return nil, merr.Wrap(merr.KindStorage, "prepare turn text lookup", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		var text string
		err := stmt.QueryRow(key.sessionID, key.startLine).Scan(&text)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, merr.Wrap(merr.KindStorage, "scan turn text", err)
		}
		out[key] = text
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs[T any](vs []T) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}
