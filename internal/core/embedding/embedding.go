// Package embedding turns chunk and resource text into fixed-width vectors
// for similarity search.
//
// There's no bound transformer/ONNX runtime or hosted embedding API client
// here, just pkoukk/tiktoken-go's tokenizer feeding a deterministic
// feature-hashing encoder: tokens hash into buckets of a fixed-width,
// L2-normalized vector. It is not a semantic encoder, but it keeps the
// contract callers need: fixed dimension, unit norm, a tokenizer shared
// with the chunker, and a query/passage mode that nudges the vector
// without scattering same-text content into different buckets. See
// DESIGN.md for the tradeoff this decision represents.
package embedding

import (
	"math"
	"os"

	"github.com/pkoukk/tiktoken-go"

	"github.com/fenv-org/mementor/internal/core/merr"
)

// Dimension is the fixed embedding width used throughout the store
// (chunk_vectors, resource_embeddings, centroids).
const Dimension = 768

// reservedModeDims is a small tail slice of the vector reserved for a
// mode tag, kept out of the token-hashing range so ModeQuery and
// ModePassage embeddings of the same text land in the same content
// buckets and differ only by this tiny, fixed perturbation.
const reservedModeDims = 4
const contentDims = Dimension - reservedModeDims
const modeTagMagnitude = 0.0025

const encodingName = "cl100k_base"

// EmbedMode distinguishes how a retrieval-style embedding model encodes
// queries vs the passages they're matched against. Real asymmetric
// bi-encoders still land same-text query/passage vectors close together;
// this embedder keeps that property by tagging a reserved handful of
// dimensions rather than reprefixing the text before tokenizing, which
// would shift every content token's position and scatter it into
// different hash buckets per mode.
type EmbedMode int

const (
	ModeQuery EmbedMode = iota
	ModePassage
)

// tag returns this mode's fixed perturbation over the reserved dims.
func (m EmbedMode) tag() [reservedModeDims]float32 {
	var sign float32 = 1
	if m == ModePassage {
		sign = -1
	}
	var t [reservedModeDims]float32
	for i := range t {
		t[i] = sign * modeTagMagnitude
	}
	return t
}

// Embedder holds the shared tokenizer. It is immutable after New and safe
// for concurrent use by multiple goroutines.
type Embedder struct {
	tok       *tiktoken.Tiktoken
	maxTokens int
}

// New loads the tokenizer. modelDir is accepted for parity with a
// loadable-model embedder and is checked for existence when non-empty;
// a configured-but-missing model directory must surface as KindModelMissing,
// distinctly from a generic storage failure. maxTokens bounds how much of
// a text this embedder will actually read, matching the chunker's token
// budget so a pathologically long chunk can't make embedding unboundedly
// slow.
func New(modelDir string, maxTokens int) (*Embedder, error) {
	if modelDir != "" {
		if _, err := os.Stat(modelDir); err != nil {
			return nil, merr.Wrap(merr.KindModelMissing, "embedding model directory not found: "+modelDir, err)
		}
	}

	tok, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, merr.Wrap(merr.KindModelMissing, "load tokenizer", err)
	}

	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Embedder{tok: tok, maxTokens: maxTokens}, nil
}

// Tokenizer exposes the shared tokenizer so the chunker can size chunks in
// the same token units the embedder will see.
func (e *Embedder) Tokenizer() *tiktoken.Tiktoken { return e.tok }

// Embed encodes a batch of texts under the given mode. The returned slice
// has one vector per input text, in order; every vector has length
// Dimension and unit L2 norm.
func (e *Embedder) Embed(mode EmbedMode, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(mode, text)
	}
	return out, nil
}

// EmbedOne is a convenience wrapper around Embed for a single text.
func (e *Embedder) EmbedOne(mode EmbedMode, text string) ([]float32, error) {
	return e.embedOne(mode, text), nil
}

func (e *Embedder) embedOne(mode EmbedMode, text string) []float32 {
	tokens := e.tok.Encode(text, nil, nil)
	if len(tokens) > e.maxTokens {
		tokens = tokens[:e.maxTokens]
	}

	vec := make([]float32, Dimension)
	for pos, tokenID := range tokens {
		bucket, sign := hashToken(tokenID, pos)
		vec[bucket] += sign
	}
	if len(tokens) > 0 {
		tag := mode.tag()
		for i, t := range tag {
			vec[contentDims+i] += t
		}
	}
	normalize(vec)
	return vec
}

// hashToken maps a (token id, position) pair to a bucket in [0, contentDims)
// and a sign, using position so that repeated tokens in different spots
// still contribute distinguishable structure rather than collapsing onto
// the same bucket with the same sign every time. The mode tag's reserved
// dims are never a hash target.
func hashToken(tokenID, pos int) (int, float32) {
	h := uint64(tokenID)*2654435761 + uint64(pos)*40503 + 1
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33

	bucket := int(h % uint64(contentDims))
	if h&1 == 0 {
		return bucket, 1
	}
	return bucket, -1
}

func normalize(v []float32) {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
