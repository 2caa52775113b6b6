package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fenv-org/mementor/internal/core/config"
	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/runtime"
	"github.com/fenv-org/mementor/internal/core/store"
)

func newTestRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "mementor-ingest-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	_ = tmpfile.Close()
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	st, err := store.Open(tmpfile.Name())
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedding.New("", 512)
	if err != nil {
		t.Fatalf("embedding.New() error = %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	return &runtime.Runtime{Store: st, Embedder: emb, Config: cfg, Log: zerolog.Nop()}
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_FirstIngestCreatesSessionAndProvisionalTurn(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"fix the retry backoff"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done, see the change"},{"type":"tool_use","name":"Edit","input":{"file_path":"/proj/internal/retry.go"}}]}}`,
	)

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TurnsProcessed != 1 {
		t.Errorf("TurnsProcessed = %d, want 1", result.TurnsProcessed)
	}
	if result.TurnsProvisional != 1 {
		t.Errorf("TurnsProvisional = %d, want 1 (no follow-up user message yet)", result.TurnsProvisional)
	}
	if result.FileMentionsAdded != 1 {
		t.Errorf("FileMentionsAdded = %d, want 1", result.FileMentionsAdded)
	}

	sess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil {
		t.Fatal("GetSession() = nil, want a stored session")
	}
	if !sess.ProvisionalTurnStart.Valid || sess.ProvisionalTurnStart.Int64 != 0 {
		t.Errorf("ProvisionalTurnStart = %+v, want {0, true}", sess.ProvisionalTurnStart)
	}
}

func TestRun_SecondIngestClosesOutProvisionalTurn(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"fix the retry backoff"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
	)
	if _, err := Run(rt, "sess-1", "", path, "/proj", "/proj"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	path = writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"fix the retry backoff"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
		`{"type":"user","message":{"role":"user","content":"thanks, now add a test"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"added a test"}]}}`,
	)
	// Rebuild the cursor against the now-longer transcript; GetSession
	// still reports the old transcript path from the first Run, so pass
	// the appended file at the same logical session. The new user message
	// at line 2 closes the first turn (it no longer needs its own
	// assistant reply to do that) and simultaneously opens the second,
	// which this transcript does pair off with an assistant reply.
	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.TurnsProcessed != 2 {
		t.Errorf("TurnsProcessed = %d, want 2 (the rebuilt first turn plus the newly opened second turn)", result.TurnsProcessed)
	}
	if result.TurnsProvisional != 1 {
		t.Errorf("TurnsProvisional = %d, want 1 (the second turn, now left open)", result.TurnsProvisional)
	}

	sess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !sess.ProvisionalTurnStart.Valid || sess.ProvisionalTurnStart.Int64 != 2 {
		t.Errorf("ProvisionalTurnStart = %+v, want {2, true}", sess.ProvisionalTurnStart)
	}
}

// A transcript's last turn is always left provisional (there's no further
// pair yet to close it), so re-ingesting unchanged content still reprocesses
// that one open turn; UpsertTurn's replace-by-key semantics keep it at the
// same row rather than accumulating duplicates, which is the no-op that
// matters here.
func TestRun_UnchangedTranscriptIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"fix the retry backoff"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"},{"type":"tool_use","name":"Edit","input":{"file_path":"/proj/retry.go"}}]}}`,
	)
	if _, err := Run(rt, "sess-1", "", path, "/proj", "/proj"); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	firstSess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	_, firstCount, err := rt.Store.GetSessionAccessPattern("sess-1")
	if err != nil {
		t.Fatal(err)
	}

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if result.TurnsProcessed != 1 {
		t.Errorf("TurnsProcessed = %d, want 1 (the still-open provisional turn reprocessed)", result.TurnsProcessed)
	}

	secondSess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if secondSess.LastLineIndex != firstSess.LastLineIndex {
		t.Errorf("LastLineIndex changed across an unchanged re-ingest: %d -> %d", firstSess.LastLineIndex, secondSess.LastLineIndex)
	}

	_, secondCount, err := rt.Store.GetSessionAccessPattern("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if secondCount != firstCount {
		t.Errorf("session resource_count changed across a reprocessed-but-unchanged turn: %d -> %d (the centroid is recomputed from turn_access_patterns, not accumulated, so this must stay put)", firstCount, secondCount)
	}
}

func TestRun_PRLinkInserted(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"pr-link","sessionId":"sess-1","prNumber":7,"prUrl":"https://github.com/o/r/pull/7","prRepository":"o/r","timestamp":"2026-01-01T00:00:00Z"}`,
	)

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PRLinksInserted != 1 {
		t.Errorf("PRLinksInserted = %d, want 1", result.PRLinksInserted)
	}

	links, err := rt.Store.PrLinksForSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].PrNumber != 7 {
		t.Errorf("PrLinksForSession() = %+v, want one link with PrNumber=7", links)
	}
}

func TestRun_SubagentTranscriptUsesOwnCursor(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-1", TranscriptPath: "p", ProjectDir: "/proj", ProjectRoot: "/proj"}); err != nil {
		t.Fatal(err)
	}
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"subagent task"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"subagent result"}]}}`,
	)

	result, err := Run(rt, "sess-1", "agent-42", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TurnsProcessed != 1 {
		t.Errorf("TurnsProcessed = %d, want 1", result.TurnsProcessed)
	}

	cur, err := rt.Store.GetSubagentCursor("sess-1", "agent-42")
	if err != nil {
		t.Fatal(err)
	}
	if cur == nil {
		t.Fatal("GetSubagentCursor() = nil, want a stored cursor for the subagent")
	}
}

func TestRun_NoNewContentIsNoOp(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t, ``)

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TurnsProcessed != 0 || result.PRLinksInserted != 0 {
		t.Errorf("result = %+v, want all zero", result)
	}
}

func TestRun_EmptyTranscriptStillCreatesSession(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t, ``)

	if _, err := Run(rt, "sess-1", "", path, "/proj", "/proj"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if sess == nil {
		t.Fatal("GetSession() = nil, want a session row created on the first ingest even with nothing in the transcript yet")
	}
	if sess.LastLineIndex != 0 {
		t.Errorf("sess.LastLineIndex = %d, want 0", sess.LastLineIndex)
	}
}

func TestRun_EntriesStoredForEveryKeptLine(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"fix the retry backoff"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
		`{"type":"user","message":{"role":"user","content":"thanks"}}`,
	)

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.EntriesInserted != 3 {
		t.Errorf("EntriesInserted = %d, want 3", result.EntriesInserted)
	}

	var count int
	if err := rt.Store.DB().QueryRow(`SELECT COUNT(*) FROM entries WHERE session_id = ?`, "sess-1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("entries row count = %d, want 3", count)
	}
}

func TestRun_FileHistorySnapshotProducesFileMention(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"edit config.go"}}`,
		`{"type":"file_history_snapshot","snapshot":{"trackedFileBackups":{"/proj/config.go":{}}}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}`,
	)

	result, err := Run(rt, "sess-1", "", path, "/proj", "/proj")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var mentionCount int
	if err := rt.Store.DB().QueryRow(`
		SELECT COUNT(*) FROM file_mentions fm
		JOIN turns t ON t.id = fm.turn_id
		WHERE t.session_id = ? AND fm.tool_name = 'file_history_snapshot' AND fm.file_path = 'config.go'
	`, "sess-1").Scan(&mentionCount); err != nil {
		t.Fatal(err)
	}
	if mentionCount != 1 {
		t.Errorf("file_history_snapshot mention count = %d, want 1", mentionCount)
	}
	if result.FileMentionsAdded == 0 {
		t.Error("FileMentionsAdded = 0, want at least the file_history_snapshot mention")
	}
}

func TestRun_CompactBoundaryAdvancesLastCompactLineIndex(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"start"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ok"}]}}`,
		`{"type":"compact_boundary","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"type":"user","message":{"role":"user","content":"continue after compaction"}}`,
	)

	if _, err := Run(rt, "sess-1", "", path, "/proj", "/proj"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sess, err := rt.Store.GetSession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !sess.LastCompactLineIndex.Valid {
		t.Fatal("LastCompactLineIndex not set after a compact_boundary entry was ingested")
	}
	if sess.LastCompactLineIndex.Int64 != int64(sess.LastLineIndex) {
		t.Errorf("LastCompactLineIndex = %d, want it to match LastLineIndex (%d)", sess.LastCompactLineIndex.Int64, sess.LastLineIndex)
	}
}

func TestRun_SessionAccessPatternRecordsCentroid(t *testing.T) {
	rt := newTestRuntime(t)
	path := writeTranscript(t,
		`{"type":"user","message":{"role":"user","content":"edit the file"}}`,
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"ok"},{"type":"tool_use","name":"Edit","input":{"file_path":"/proj/a.go"}}]}}`,
	)
	if _, err := Run(rt, "sess-1", "", path, "/proj", "/proj"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	centroidVec, count, err := rt.Store.GetSessionAccessPattern("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if centroidVec == nil {
		t.Error("centroidVec = nil, want a recorded centroid")
	}
}
