package query

import (
	"testing"

	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/store"
)

func vec(hot int, val float32) []float32 {
	v := make([]float32, embedding.Dimension)
	v[hot] = val
	return v
}

func TestFindRelatedSessions_RanksBySimilarity(t *testing.T) {
	rt := newTestRuntime(t)
	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		if err := rt.Store.UpsertSession(store.Session{SessionID: id, TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.Store.PutSessionAccessPattern("sess-a", vec(0, 1), 2); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutSessionAccessPattern("sess-b", vec(0, 0.9), 2); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutSessionAccessPattern("sess-c", vec(1, 1), 2); err != nil {
		t.Fatal(err)
	}

	matches, total, err := FindRelatedSessions(rt, "sess-a", 0, 5, 5)
	if err != nil {
		t.Fatalf("FindRelatedSessions() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2 (excluding the querying session)", total)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2 (excluding the querying session)", len(matches))
	}
	if matches[0].SessionID != "sess-b" {
		t.Errorf("matches[0].SessionID = %v, want sess-b (closer to sess-a)", matches[0].SessionID)
	}
}

func TestFindRelatedSessions_Paging(t *testing.T) {
	rt := newTestRuntime(t)
	for _, id := range []string{"sess-a", "sess-b", "sess-c"} {
		if err := rt.Store.UpsertSession(store.Session{SessionID: id, TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.Store.PutSessionAccessPattern("sess-a", vec(0, 1), 2); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutSessionAccessPattern("sess-b", vec(0, 0.9), 2); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutSessionAccessPattern("sess-c", vec(1, 1), 2); err != nil {
		t.Fatal(err)
	}

	matches, total, err := FindRelatedSessions(rt, "sess-a", 1, 1, 10)
	if err != nil {
		t.Fatalf("FindRelatedSessions() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1 (one page of one)", len(matches))
	}
	if matches[0].SessionID != "sess-c" {
		t.Errorf("matches[0].SessionID = %v, want sess-c (second closest, at offset 1)", matches[0].SessionID)
	}
}

func TestFindRelatedSessions_NoAccessPattern(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-a", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}
	matches, total, err := FindRelatedSessions(rt, "sess-a", 0, 5, 5)
	if err != nil {
		t.Fatalf("FindRelatedSessions() error = %v", err)
	}
	if matches != nil {
		t.Errorf("FindRelatedSessions() = %v, want nil", matches)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}

func TestFindRelatedTurns_WindowsAroundAnchor(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-a", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-b", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}

	tx, err := rt.Store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	anchorID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-a", StartLine: 10, EndLine: 11, FullText: "anchor"})
	if err != nil {
		t.Fatal(err)
	}
	otherTurnID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-b", StartLine: 1, EndLine: 2, FullText: "similar"})
	if err != nil {
		t.Fatal(err)
	}
	farTurnID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-b", StartLine: 5, EndLine: 6, FullText: "different"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := rt.Store.PutTurnAccessPattern(anchorID, vec(0, 1), 1); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutTurnAccessPattern(otherTurnID, vec(0, 0.95), 1); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutTurnAccessPattern(farTurnID, vec(1, 1), 1); err != nil {
		t.Fatal(err)
	}

	matches, total, err := FindRelatedTurns(rt, "sess-a", 10, 5, 0, 5, 5)
	if err != nil {
		t.Fatalf("FindRelatedTurns() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].TurnID != otherTurnID {
		t.Errorf("matches[0].TurnID = %d, want the closer turn %d", matches[0].TurnID, otherTurnID)
	}
}

func TestFindRelatedTurns_Paging(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-a", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-b", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}

	tx, err := rt.Store.Begin()
	if err != nil {
		t.Fatal(err)
	}
	anchorID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-a", StartLine: 10, EndLine: 11, FullText: "anchor"})
	if err != nil {
		t.Fatal(err)
	}
	closeID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-b", StartLine: 1, EndLine: 2, FullText: "close"})
	if err != nil {
		t.Fatal(err)
	}
	farID, err := store.UpsertTurn(tx, store.Turn{SessionID: "sess-b", StartLine: 5, EndLine: 6, FullText: "far"})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := rt.Store.PutTurnAccessPattern(anchorID, vec(0, 1), 1); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutTurnAccessPattern(closeID, vec(0, 0.95), 1); err != nil {
		t.Fatal(err)
	}
	if err := rt.Store.PutTurnAccessPattern(farID, vec(1, 1), 1); err != nil {
		t.Fatal(err)
	}

	matches, total, err := FindRelatedTurns(rt, "sess-a", 10, 5, 1, 1, 10)
	if err != nil {
		t.Fatalf("FindRelatedTurns() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	if matches[0].TurnID != farID {
		t.Errorf("matches[0].TurnID = %d, want %d (second closest, at offset 1)", matches[0].TurnID, farID)
	}
}

func TestFindRelatedTurns_AnchorNotFound(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.Store.UpsertSession(store.Session{SessionID: "sess-a", TranscriptPath: "p", ProjectDir: "d", ProjectRoot: "r"}); err != nil {
		t.Fatal(err)
	}
	matches, total, err := FindRelatedTurns(rt, "sess-a", 999, 5, 0, 5, 5)
	if err != nil {
		t.Fatalf("FindRelatedTurns() error = %v", err)
	}
	if matches != nil {
		t.Errorf("FindRelatedTurns() = %v, want nil", matches)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
}
