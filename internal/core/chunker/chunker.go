// Package chunker splits a turn's text into token-bounded, overlapping
// pieces ready for embedding.
//
// Chunking splits on markdown block boundaries and falls back to raw
// token-window slicing when a single block exceeds the budget. This
// package walks yuin/goldmark's block AST directly to recover block
// boundaries, and uses the embedder's own pkoukk/tiktoken-go tokenizer to
// size and slice chunks — the same tokenizer the embedder uses, so a
// chunk's measured size here matches what gets embedded later.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/fenv-org/mementor/internal/core/turns"
)

// Chunk is a sub-piece of a Turn ready for embedding.
type Chunk struct {
	ChunkIndex int
	Text       string
}

// ChunkTurn splits turn.Text into chunks of at most targetTokens tokens
// each, prepending the last overlapTokens tokens of the previous chunk to
// every chunk after the first so nearby chunks share context at their seam.
func ChunkTurn(turn turns.Turn, tok *tiktoken.Tiktoken, targetTokens, overlapTokens int) []Chunk {
	raw := packBlocks(markdownBlocks(turn.Text), tok, targetTokens)
	if len(raw) == 0 {
		return nil
	}
	if len(raw) == 1 {
		return []Chunk{{ChunkIndex: 0, Text: raw[0]}}
	}

	chunks := make([]Chunk, 0, len(raw))
	chunks = append(chunks, Chunk{ChunkIndex: 0, Text: raw[0]})
	for i := 1; i < len(raw); i++ {
		text := raw[i]
		if overlap := tailTokens(raw[i-1], tok, overlapTokens); overlap != "" {
			text = overlap + "\n\n" + raw[i]
		}
		chunks = append(chunks, Chunk{ChunkIndex: i, Text: text})
	}
	return chunks
}

type linesProvider interface {
	Lines() *gtext.Segments
}

// markdownBlocks returns the top-level block boundaries of source: one
// string per direct child of the document node, concatenating every
// descendant's source text so list items and blockquote paragraphs stay
// attached to their containing block.
func markdownBlocks(source string) []string {
	src := []byte(source)
	doc := goldmark.DefaultParser().Parse(gtext.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		text := strings.TrimRight(blockText(n, src), "\n")
		if text != "" {
			blocks = append(blocks, text)
		}
	}
	if len(blocks) == 0 && strings.TrimSpace(source) != "" {
		blocks = []string{source}
	}
	return blocks
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		if lp, ok := node.(linesProvider); ok {
			lines := lp.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
		}
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// packBlocks greedily fills chunks up to target tokens, starting a new
// chunk rather than splitting a block whenever possible. A block that
// alone exceeds target is sliced on raw token windows instead.
func packBlocks(blocks []string, tok *tiktoken.Tiktoken, target int) []string {
	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentTokens = 0
		}
	}

	for _, blk := range blocks {
		n := tokenCount(tok, blk)
		if n > target {
			flush()
			chunks = append(chunks, tokenWindows(blk, tok, target)...)
			continue
		}
		if currentTokens+n > target && len(current) > 0 {
			flush()
		}
		current = append(current, blk)
		currentTokens += n
	}
	flush()

	return chunks
}

func tokenCount(tok *tiktoken.Tiktoken, text string) int {
	return len(tok.Encode(text, nil, nil))
}

// tokenWindows slices text into consecutive, non-overlapping windows of at
// most target tokens each.
func tokenWindows(text string, tok *tiktoken.Tiktoken, target int) []string {
	ids := tok.Encode(text, nil, nil)
	if len(ids) == 0 {
		return nil
	}
	var out []string
	for start := 0; start < len(ids); start += target {
		end := start + target
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, tok.Decode(ids[start:end]))
	}
	return out
}

// tailTokens returns the decoded text of the last n tokens of text.
func tailTokens(text string, tok *tiktoken.Tiktoken, n int) string {
	if n <= 0 {
		return ""
	}
	ids := tok.Encode(text, nil, nil)
	if len(ids) == 0 {
		return ""
	}
	start := len(ids) - n
	if start < 0 {
		start = 0
	}
	return tok.Decode(ids[start:])
}
