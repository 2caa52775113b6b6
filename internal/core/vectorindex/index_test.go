package vectorindex

import (
	"os"
	"testing"

	"github.com/fenv-org/mementor/internal/core/embedding"
	"github.com/fenv-org/mementor/internal/core/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "mementor-vectorindex-test-*.db")
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
	return st
}

func unitVector(hot int) []float32 {
	v := make([]float32, embedding.Dimension)
	v[hot] = 1
	return v
}

func insertChunkForTurn(t *testing.T, st *store.Store, sessionID string, startLine int, vec []float32) int64 {
	t.Helper()
	if err := st.UpsertSession(store.Session{
		SessionID:      sessionID,
		TranscriptPath: "p",
		ProjectDir:     "d",
		ProjectRoot:    "r",
	}); err != nil {
		t.Fatal(err)
	}
	tx, err := st.Begin()
	if err != nil {
		t.Fatal(err)
	}
	turnID, err := store.UpsertTurn(tx, store.Turn{SessionID: sessionID, StartLine: startLine, EndLine: startLine + 1, FullText: "x"})
	if err != nil {
		t.Fatal(err)
	}
	chunkID, err := store.InsertChunk(tx, turnID, 0, vec)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return chunkID
}

func TestFullScan_FindsExactMatchFirst(t *testing.T) {
	st := openTestStore(t)
	near := insertChunkForTurn(t, st, "sess-1", 1, unitVector(0))
	insertChunkForTurn(t, st, "sess-1", 2, unitVector(1))
	insertChunkForTurn(t, st, "sess-1", 3, unitVector(2))

	matches, err := FullScan(st.DB(), ChunkVectorsTable, unitVector(0), 2)
	if err != nil {
		t.Fatalf("FullScan() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].RowID != near {
		t.Errorf("matches[0].RowID = %d, want %d (the exact match)", matches[0].RowID, near)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Errorf("matches not ordered by ascending distance: %+v", matches)
	}
}

func TestFullScan_WrongDimensionErrors(t *testing.T) {
	st := openTestStore(t)
	_, err := FullScan(st.DB(), ChunkVectorsTable, []float32{1, 2, 3}, 5)
	if err == nil {
		t.Error("FullScan() with a wrong-dimension query vector should error")
	}
}

func TestFullScan_EmptyIndex(t *testing.T) {
	st := openTestStore(t)
	matches, err := FullScan(st.DB(), ChunkVectorsTable, unitVector(0), 5)
	if err != nil {
		t.Fatalf("FullScan() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("len(matches) = %d, want 0 on an empty index", len(matches))
	}
}

func TestEncodeVector_RoundTripsThroughMatch(t *testing.T) {
	st := openTestStore(t)
	id := insertChunkForTurn(t, st, "sess-1", 1, unitVector(5))

	matches, err := FullScan(st.DB(), ChunkVectorsTable, unitVector(5), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].RowID != id {
		t.Errorf("matches = %+v, want a single match on chunk %d", matches, id)
	}
	if matches[0].Distance > 1e-4 {
		t.Errorf("matches[0].Distance = %v, want ~0 for an exact match", matches[0].Distance)
	}
}
