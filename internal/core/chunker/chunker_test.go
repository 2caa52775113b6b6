package chunker

import (
	"strings"
	"testing"

	"github.com/pkoukk/tiktoken-go"

	"github.com/fenv-org/mementor/internal/core/turns"
)

func testTokenizer(t *testing.T) *tiktoken.Tiktoken {
	t.Helper()
	tok, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		t.Fatalf("tiktoken.GetEncoding() error = %v", err)
	}
	return tok
}

func TestChunkTurn_ShortTextIsSingleChunk(t *testing.T) {
	tok := testTokenizer(t)
	turn := turns.Turn{Text: "[User] hello\n\n[Assistant] hi there"}

	chunks := ChunkTurn(turn, tok, 256, 40)
	if len(chunks) != 1 {
		t.Fatalf("len(chunks) = %d, want 1", len(chunks))
	}
	if chunks[0].ChunkIndex != 0 {
		t.Errorf("chunks[0].ChunkIndex = %d, want 0", chunks[0].ChunkIndex)
	}
	if chunks[0].Text != turn.Text {
		t.Errorf("chunks[0].Text = %q, want unchanged turn text", chunks[0].Text)
	}
}

func TestChunkTurn_EmptyText(t *testing.T) {
	tok := testTokenizer(t)
	chunks := ChunkTurn(turns.Turn{Text: ""}, tok, 256, 40)
	if chunks != nil {
		t.Errorf("ChunkTurn() on empty text = %v, want nil", chunks)
	}
}

func TestChunkTurn_SplitsOnMarkdownBlockBoundaries(t *testing.T) {
	tok := testTokenizer(t)
	block := strings.Repeat("word ", 60)
	text := "# Heading one\n\n" + block + "\n\n# Heading two\n\n" + block

	chunks := ChunkTurn(turns.Turn{Text: text}, tok, 50, 0)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want at least 2 for oversized text", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunks[%d].ChunkIndex = %d, want %d", i, c.ChunkIndex, i)
		}
	}
}

func TestChunkTurn_OverlapPrependsTailOfPreviousChunk(t *testing.T) {
	tok := testTokenizer(t)
	blockA := strings.Repeat("alpha ", 60)
	blockB := strings.Repeat("beta ", 60)
	text := blockA + "\n\n" + blockB

	chunks := ChunkTurn(turns.Turn{Text: text}, tok, 50, 10)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want at least 2", len(chunks))
	}
	if !strings.Contains(chunks[1].Text, "alpha") {
		t.Errorf("chunks[1].Text = %q, want it to start with overlap from chunk 0", chunks[1].Text)
	}
}

func TestChunkTurn_NoOverlapWhenZero(t *testing.T) {
	tok := testTokenizer(t)
	blockA := strings.Repeat("alpha ", 40)
	blockB := strings.Repeat("beta ", 40)
	text := blockA + "\n\n" + blockB

	chunks := ChunkTurn(turns.Turn{Text: text}, tok, 50, 0)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want at least 2", len(chunks))
	}
	if strings.Contains(chunks[1].Text, "alpha") {
		t.Errorf("chunks[1].Text = %q, should not contain overlap when overlapTokens=0", chunks[1].Text)
	}
}

func TestChunkTurn_SingleOversizedBlockSlicedOnTokenWindows(t *testing.T) {
	tok := testTokenizer(t)
	text := strings.Repeat("token ", 300)

	chunks := ChunkTurn(turns.Turn{Text: text}, tok, 50, 0)
	if len(chunks) < 2 {
		t.Fatalf("len(chunks) = %d, want multiple windows for a single oversized block", len(chunks))
	}
	for _, c := range chunks {
		n := len(tok.Encode(c.Text, nil, nil))
		if n > 50 {
			t.Errorf("chunk has %d tokens, want <= 50", n)
		}
	}
}

func TestMarkdownBlocks_TopLevelChildren(t *testing.T) {
	blocks := markdownBlocks("# Title\n\nSome paragraph text.\n\n- item one\n- item two")
	if len(blocks) != 3 {
		t.Fatalf("len(blocks) = %d, want 3, got %v", len(blocks), blocks)
	}
	if !strings.Contains(blocks[0], "Title") {
		t.Errorf("blocks[0] = %q, want it to contain the heading", blocks[0])
	}
	if !strings.Contains(blocks[2], "item one") || !strings.Contains(blocks[2], "item two") {
		t.Errorf("blocks[2] = %q, want both list items attached", blocks[2])
	}
}

func TestMarkdownBlocks_EmptySource(t *testing.T) {
	if got := markdownBlocks(""); got != nil {
		t.Errorf("markdownBlocks(\"\") = %v, want nil", got)
	}
}

func TestTailTokens_ZeroOrNegativeReturnsEmpty(t *testing.T) {
	tok := testTokenizer(t)
	if got := tailTokens("some text", tok, 0); got != "" {
		t.Errorf("tailTokens(n=0) = %q, want empty", got)
	}
	if got := tailTokens("some text", tok, -1); got != "" {
		t.Errorf("tailTokens(n=-1) = %q, want empty", got)
	}
}

func TestTailTokens_MoreThanAvailableReturnsWholeText(t *testing.T) {
	tok := testTokenizer(t)
	text := "short phrase"
	got := tailTokens(text, tok, 1000)
	if got != text {
		t.Errorf("tailTokens() = %q, want the whole text back when n exceeds token count", got)
	}
}
