// Package ingest is the incremental, idempotent walk from a transcript
// file to stored turns, chunks, and embeddings.
//
// The per-session/per-subagent cursor (last_line_index,
// provisional_turn_start) makes re-running Ingest against an unchanged
// transcript a no-op, and re-running it against an appended transcript
// only re-chunks/re-embeds the turn that was left provisional plus
// whatever is new.
package ingest

import (
	"database/sql"
	"fmt"

	"github.com/fenv-org/mementor/internal/core/centroid"
	"github.com/fenv-org/mementor/internal/core/chunker"
	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/metadata"
	"github.com/fenv-org/mementor/internal/core/runtime"
	"github.com/fenv-org/mementor/internal/core/store"
	"github.com/fenv-org/mementor/internal/core/transcript"
	"github.com/fenv-org/mementor/internal/core/turns"
)

// Result summarizes one Ingest call for logging and the CLI's human output.
type Result struct {
	TurnsProcessed    int
	TurnsProvisional  int
	PRLinksInserted   int
	EntriesInserted   int
	FileMentionsAdded int
}

// preparedTurn holds everything about a turn that must be computed before
// any transaction opens: chunking is pure, and embedding calls (both the
// turn's chunks and any new resource strings) must never run while a
// database transaction is held open.
type preparedTurn struct {
	turn         turns.Turn
	entryLo      int
	entryHi      int
	chunks       []chunker.Chunk
	embeddings   [][]float32
	fileMentions []metadata.FileMention
	atMentions   []string
	resources    []string
	resourceVecs [][]float32
}

// Run ingests new transcript content for (sessionID, agentID) from
// transcriptPath. agentID is empty for the main transcript and the
// subagent's own id for a Task-spawned subagent transcript.
func Run(rt *runtime.Runtime, sessionID, agentID, transcriptPath, projectDir, projectRoot string) (Result, error) {
	st := rt.Store

	startLine, provisionalStart, sessionExists, err := loadCursor(st, sessionID, agentID)
	if err != nil {
		return Result{}, err
	}

	readFrom := startLine
	if provisionalStart >= 0 {
		readFrom = provisionalStart
	}

	parsed, err := transcript.Parse(transcriptPath, readFrom)
	if err != nil {
		return Result{}, err
	}

	// The session row must exist after the very first Ingest call even if
	// the transcript has nothing in it yet (a freshly created transcript
	// file, or one PreToolUse ingest runs against before the assistant's
	// first turn lands) — last_line_index stays at whatever readFrom is
	// this call, and later calls pick the cursor back up from there. This
	// has to happen before the empty-transcript early return below, not
	// after it.
	if agentID == "" && !sessionExists {
		if err := st.UpsertSession(store.Session{
			SessionID:      sessionID,
			TranscriptPath: transcriptPath,
			ProjectDir:     projectDir,
			ProjectRoot:    projectRoot,
			LastLineIndex:  readFrom,
		}); err != nil {
			return Result{}, err
		}
	}

	if len(parsed.Messages) == 0 && len(parsed.PRLinks) == 0 && len(parsed.Entries) == 0 {
		rt.Log.Debug().Str("session_id", sessionID).Msg("no new messages found in transcript")
		return Result{}, nil
	}

	turnList := turns.GroupIntoTurns(parsed.Messages)

	var result Result
	countedLines := map[int]bool{}
	countEntry := func(e transcript.Entry) {
		if !countedLines[e.LineIndex] {
			countedLines[e.LineIndex] = true
			result.EntriesInserted++
		}
	}

	// PR links live outside turns entirely; they must be persisted even
	// for a PR-link-only transcript with no turns at all.
	if len(parsed.PRLinks) > 0 {
		if err := withTx(st, func(tx *sql.Tx) error {
			for _, pr := range parsed.PRLinks {
				if err := store.InsertPrLink(tx, store.PrLink{
					SessionID:    sessionID,
					PrNumber:     pr.PRNumber,
					PrURL:        pr.PRURL,
					PrRepository: pr.PRRepository,
					Timestamp:    pr.Timestamp,
				}); err != nil {
					return err
				}
				result.PRLinksInserted++
			}
			return nil
		}); err != nil {
			return result, err
		}
	}

	if provisionalStart >= 0 && len(turnList) > 0 {
		if err := withTx(st, func(tx *sql.Tx) error {
			_, err := store.DeleteTurnAt(tx, sessionID, agentID, provisionalStart)
			return err
		}); err != nil {
			return result, err
		}
	}

	if len(turnList) == 0 {
		// Nothing paired into a turn (a summary/compact_boundary-only
		// batch, say). Those entries still belong to no turn, so persist
		// them directly and advance the cursor straight to EOF.
		if len(parsed.Entries) > 0 {
			if err := withTx(st, func(tx *sql.Tx) error {
				for _, e := range parsed.Entries {
					if err := insertEntry(tx, sessionID, agentID, e); err != nil {
						return err
					}
					countEntry(e)
				}
				return nil
			}); err != nil {
				return result, err
			}
		}
		if err := finalize(st, sessionID, agentID, transcriptPath, projectDir, projectRoot, parsed, -1); err != nil {
			return result, err
		}
		return result, nil
	}

	// Chunk and embed every turn up front, entirely outside any open
	// transaction. Resource embeddings for the centroid engine go through
	// the store's non-tx cache accessors for the same reason.
	prepared := make([]preparedTurn, 0, len(turnList))
	for i, turn := range turnList {
		lo, hi := turn.StartLine, turn.EndLine
		if i == 0 {
			lo = readFrom
		}
		if i == len(turnList)-1 {
			hi = parsed.EOFLineIndex
		}

		chunks := chunker.ChunkTurn(turn, rt.Embedder.Tokenizer(), rt.Config.ChunkTargetTokens, rt.Config.ChunkOverlapTokens)

		var embeddings [][]float32
		if len(chunks) > 0 {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Text
			}
			embeddings, err = rt.Embedder.Embed(embedding.ModePassage, texts)
			if err != nil {
				return result, fmt.Errorf("embed chunks for turn at line %d: %w", turn.StartLine, err)
			}
		}

		fileMentions := metadata.ExtractFileMentions(turn.ToolSummary, projectDir, projectRoot)
		fileMentions = append(fileMentions, fileHistoryMentions(parsed.Entries, lo, hi, projectDir, projectRoot)...)
		atMentions := metadata.ExtractAtMentions(turn.Text, projectDir, projectRoot)

		resources := distinctResources(fileMentions, atMentions)
		var resourceVecs [][]float32
		if len(resources) > 0 {
			resourceVecs, err = resourceEmbeddings(st, rt.Embedder, resources)
			if err != nil {
				return result, err
			}
		}

		prepared = append(prepared, preparedTurn{
			turn:         turn,
			entryLo:      lo,
			entryHi:      hi,
			chunks:       chunks,
			embeddings:   embeddings,
			fileMentions: fileMentions,
			atMentions:   atMentions,
			resources:    resources,
			resourceVecs: resourceVecs,
		})
	}

	// Per turn, in a single transaction: a failure here short-circuits the
	// remaining turns but leaves every turn already committed in this loop
	// intact. The cursor itself only advances once,
	// in finalize below, after every turn in the batch has succeeded — so a
	// mid-batch failure leaves last_line_index exactly where it was before
	// this call, and the next ingest simply re-walks the same turns. Every
	// write here is idempotent (INSERT OR IGNORE, ON CONFLICT UPDATE, or a
	// chunk INSERT OR REPLACE to the same values), so replaying
	// already-committed turns is harmless.
	for _, pt := range prepared {
		turn := pt.turn

		err := withTx(st, func(tx *sql.Tx) error {
			for _, e := range entriesInRange(parsed.Entries, pt.entryLo, pt.entryHi) {
				if err := insertEntry(tx, sessionID, agentID, e); err != nil {
					return err
				}
				countEntry(e)
			}

			turnID, err := store.UpsertTurn(tx, store.Turn{
				SessionID:   sessionID,
				AgentID:     agentID,
				StartLine:   turn.StartLine,
				EndLine:     turn.EndLine,
				Provisional: turn.Provisional,
				IsSidechain: agentID != "",
				FullText:    turn.Text,
			})
			if err != nil {
				return err
			}

			for i, chunk := range pt.chunks {
				if _, err := store.InsertChunk(tx, turnID, chunk.ChunkIndex, pt.embeddings[i]); err != nil {
					return err
				}
			}

			for _, fm := range pt.fileMentions {
				if err := store.InsertFileMention(tx, store.FileMention{TurnID: turnID, FilePath: fm.FilePath, ToolName: fm.ToolName}); err != nil {
					return err
				}
				result.FileMentionsAdded++
			}
			for _, path := range pt.atMentions {
				if err := store.InsertFileMention(tx, store.FileMention{TurnID: turnID, FilePath: path, ToolName: "mention"}); err != nil {
					return err
				}
				result.FileMentionsAdded++
			}

			if len(pt.resources) > 0 {
				turnCentroid := centroid.Mean(pt.resourceVecs)
				if err := store.PutTurnAccessPatternTx(tx, turnID, turnCentroid, len(pt.resources)); err != nil {
					return err
				}
			}

			return nil
		})
		if err != nil {
			return result, err
		}
		result.TurnsProcessed++
	}

	lastTurn := turnList[len(turnList)-1]
	newProvisionalStart := -1
	if lastTurn.Provisional {
		newProvisionalStart = lastTurn.StartLine
		result.TurnsProvisional = 1
	}

	if err := finalize(st, sessionID, agentID, transcriptPath, projectDir, projectRoot, parsed, newProvisionalStart); err != nil {
		return result, err
	}

	rt.Log.Info().
		Str("session_id", sessionID).
		Int("turns", result.TurnsProcessed).
		Int("provisional", result.TurnsProvisional).
		Int("entries", result.EntriesInserted).
		Msg("ingested transcript")

	return result, nil
}

// finalize advances the cursor to EOF and stamps the new provisional
// marker, then, separately, recomputes the session's access pattern and
// rolls the compaction boundary forward if this batch crossed one. None of
// this runs per turn, so a turn failure earlier in Run never reaches here
// and the cursor never moves past where it started.
func finalize(st *store.Store, sessionID, agentID, transcriptPath, projectDir, projectRoot string, parsed *transcript.Result, provisionalStart int) error {
	lastLineIndex := parsed.EOFLineIndex + 1

	if err := saveCursor(st, sessionID, agentID, transcriptPath, projectDir, projectRoot, lastLineIndex, provisionalStart); err != nil {
		return err
	}

	if agentID == "" {
		if err := recomputeSessionAccessPattern(st, sessionID); err != nil {
			return err
		}
		if hasCompactBoundary(parsed.Entries) {
			if err := st.UpdateCompactLine(sessionID); err != nil {
				return err
			}
		}
	}

	return nil
}

func insertEntry(tx *sql.Tx, sessionID, agentID string, e transcript.Entry) error {
	return store.InsertEntry(tx, store.Entry{
		SessionID:   sessionID,
		LineIndex:   e.LineIndex,
		AgentID:     agentID,
		EntryType:   string(e.Type),
		Content:     e.Content,
		ToolSummary: e.ToolSummary,
		IsSidechain: agentID != "",
		Timestamp:   nullString(e.Timestamp),
	})
}

// withTx runs fn inside a fresh transaction, committing on success and
// rolling back on any error or panic.
func withTx(st *store.Store, fn func(tx *sql.Tx) error) error {
	tx, err := st.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func loadCursor(st *store.Store, sessionID, agentID string) (startLine, provisionalStart int, exists bool, err error) {
	provisionalStart = -1

	if agentID == "" {
		sess, err := st.GetSession(sessionID)
		if err != nil {
			return 0, -1, false, err
		}
		if sess == nil {
			return 0, -1, false, nil
		}
		if sess.ProvisionalTurnStart.Valid {
			provisionalStart = int(sess.ProvisionalTurnStart.Int64)
		}
		return sess.LastLineIndex, provisionalStart, true, nil
	}

	cur, err := st.GetSubagentCursor(sessionID, agentID)
	if err != nil {
		return 0, -1, false, err
	}
	if cur == nil {
		return 0, -1, false, nil
	}
	if cur.ProvisionalTurnStart.Valid {
		provisionalStart = int(cur.ProvisionalTurnStart.Int64)
	}
	return cur.LastLineIndex, provisionalStart, true, nil
}

func saveCursor(st *store.Store, sessionID, agentID, transcriptPath, projectDir, projectRoot string, lastLineIndex, provisionalStart int) error {
	provisional := nullInt64FromCursor(provisionalStart)

	if agentID == "" {
		return st.UpsertSession(store.Session{
			SessionID:            sessionID,
			TranscriptPath:       transcriptPath,
			ProjectDir:           projectDir,
			ProjectRoot:          projectRoot,
			LastLineIndex:        lastLineIndex,
			ProvisionalTurnStart: provisional,
		})
	}

	return st.UpsertSubagentCursor(store.SubagentCursor{
		SessionID:            sessionID,
		AgentID:              agentID,
		LastLineIndex:        lastLineIndex,
		ProvisionalTurnStart: provisional,
	})
}

// nullInt64FromCursor converts the -1-means-absent sentinel this package
// uses internally into the sql.NullInt64 the store layer expects.
func nullInt64FromCursor(v int) sql.NullInt64 {
	if v < 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(v), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// entriesInRange returns the parsed entries whose line falls within
// [lo, hi], the window Run assigns to one turn.
func entriesInRange(entries []transcript.Entry, lo, hi int) []transcript.Entry {
	var out []transcript.Entry
	for _, e := range entries {
		if e.LineIndex >= lo && e.LineIndex <= hi {
			out = append(out, e)
		}
	}
	return out
}

// fileHistoryMentions extracts FileMentions from any file_history_snapshot
// entries inside a turn's line window.
func fileHistoryMentions(entries []transcript.Entry, lo, hi int, projectDir, projectRoot string) []metadata.FileMention {
	var out []metadata.FileMention
	for _, e := range entriesInRange(entries, lo, hi) {
		if e.Type != transcript.EntryFileHistorySnapshot {
			continue
		}
		out = append(out, metadata.ExtractFileHistoryMentions(e.TrackedFiles, projectDir, projectRoot)...)
	}
	return out
}

// hasCompactBoundary reports whether any entry in this batch marks a
// compaction boundary, the trigger for rolling last_compact_line_index
// forward to the cursor finalize just set.
func hasCompactBoundary(entries []transcript.Entry) bool {
	for _, e := range entries {
		if e.Type == transcript.EntryCompactBoundary {
			return true
		}
	}
	return false
}

// distinctResources collects the unique file paths a turn touched, feeding
// the centroid engine: a turn's access pattern is the mean embedding of
// the resources it mentioned.
func distinctResources(fileMentions []metadata.FileMention, atMentions []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range fileMentions {
		if !seen[m.FilePath] {
			seen[m.FilePath] = true
			out = append(out, m.FilePath)
		}
	}
	for _, p := range atMentions {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// resourceEmbeddings resolves each resource's embedding from the
// resource_embeddings cache, embedding and caching it on a miss. Runs
// against the store's non-transactional accessors so it can execute before
// any per-turn transaction opens.
func resourceEmbeddings(st *store.Store, emb *embedding.Embedder, resources []string) ([][]float32, error) {
	out := make([][]float32, 0, len(resources))
	for _, r := range resources {
		cached, err := st.GetResourceEmbedding(r)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			out = append(out, cached)
			continue
		}
		vec, err := emb.EmbedOne(embedding.ModePassage, r)
		if err != nil {
			return nil, fmt.Errorf("embed resource %q: %w", r, err)
		}
		if err := st.PutResourceEmbedding(r, vec); err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

// recomputeSessionAccessPattern derives a session's centroid fresh from
// every turn's already-committed access pattern, rather than threading a
// running sum through the ingest loop: deriving it from the database this
// way is naturally idempotent across retries of a partially-failed batch,
// where some turns' resources were already folded in by an earlier run.
func recomputeSessionAccessPattern(st *store.Store, sessionID string) error {
	rows, err := st.TurnAccessPatternsForSession(sessionID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	totalCount := 0
	for _, r := range rows {
		totalCount += r.ResourceCount
	}
	if totalCount == 0 {
		return nil
	}

	sum := make([]float64, embedding.Dimension)
	for _, r := range rows {
		weight := float64(r.ResourceCount)
		for i, f := range r.Centroid {
			sum[i] += float64(f) * weight
		}
	}
	mean := make([]float32, len(sum))
	for i, s := range sum {
		mean[i] = float32(s / float64(totalCount))
	}

	return st.PutSessionAccessPattern(sessionID, mean, totalCount)
}
