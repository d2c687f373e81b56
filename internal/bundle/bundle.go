// Package bundle encodes and decodes the two blobs persisted per manual
// version: the content bundle (full text plus passages and their embeddings)
// and the vector bundle (embeddings plus passage positions only).
//
// Both are JSON documents whose layout matches blobs already published by
// earlier deployments:
//
//	{"content": "...", "chunks": [{"text": "...", "position": 0, "embedding": [...]}]}
//	{"embeddings": [[...]], "chunk_positions": [0]}
//
// The bundles are index-aligned: chunk i of the content bundle corresponds to
// embedding i and position i of the vector bundle.
package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// Chunk is one passage of a content bundle.
type Chunk struct {
	// Text is the passage text.
	Text string
	// Position is the passage offset in the reconstructed joined text.
	Position int
	// Embedding is the passage vector.
	Embedding []float32
}

// Content is a decoded content bundle.
type Content struct {
	// Text is the full manual as uploaded.
	Text string
	// Chunks are the passages in chunker order.
	Chunks []Chunk
}

// Vectors is a decoded vector bundle.
type Vectors struct {
	// Embeddings are the passage vectors in chunker order.
	Embeddings [][]float32
	// Positions are the passage offsets, parallel to Embeddings.
	Positions []int
}

type wireChunk struct {
	Text      *string    `json:"text"`
	Position  *int       `json:"position"`
	Embedding *[]float32 `json:"embedding"`
}

type wireContent struct {
	Content *string      `json:"content"`
	Chunks  *[]wireChunk `json:"chunks"`
}

type wireVectors struct {
	Embeddings *[][]float32 `json:"embeddings"`
	Positions  *[]int       `json:"chunk_positions"`
}

// EncodeContent serializes the content bundle for text and its passages.
// passages and embeddings must be parallel.
func EncodeContent(text string, passages []rag.Passage, embeddings [][]float32) ([]byte, error) {
	if len(passages) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d passages, %d embeddings", rag.ErrSchemaMismatch, len(passages), len(embeddings))
	}
	if err := checkDimensions(embeddings); err != nil {
		return nil, err
	}

	chunks := make([]wireChunk, len(passages))
	for i := range passages {
		chunks[i] = wireChunk{
			Text:      &passages[i].Text,
			Position:  &passages[i].Offset,
			Embedding: &embeddings[i],
		}
	}
	return marshal(wireContent{Content: &text, Chunks: &chunks})
}

// EncodeVectors serializes the vector bundle. embeddings and positions must
// be parallel.
func EncodeVectors(embeddings [][]float32, positions []int) ([]byte, error) {
	if len(embeddings) != len(positions) {
		return nil, fmt.Errorf("%w: %d embeddings, %d positions", rag.ErrSchemaMismatch, len(embeddings), len(positions))
	}
	if err := checkDimensions(embeddings); err != nil {
		return nil, err
	}
	// An empty manual still encodes both arrays.
	if embeddings == nil {
		embeddings = [][]float32{}
	}
	if positions == nil {
		positions = []int{}
	}
	return marshal(wireVectors{Embeddings: &embeddings, Positions: &positions})
}

// DecodeContent parses a content bundle. Malformed input fails with
// rag.ErrBundleFormat; inconsistent embedding dimensions fail with
// rag.ErrSchemaMismatch.
func DecodeContent(data []byte) (*Content, error) {
	var w wireContent
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Content == nil {
		return nil, fmt.Errorf("%w: content bundle: missing \"content\"", rag.ErrBundleFormat)
	}
	if w.Chunks == nil {
		return nil, fmt.Errorf("%w: content bundle: missing \"chunks\"", rag.ErrBundleFormat)
	}

	c := &Content{Text: *w.Content, Chunks: make([]Chunk, len(*w.Chunks))}
	embeddings := make([][]float32, len(*w.Chunks))
	for i, wc := range *w.Chunks {
		if wc.Text == nil || wc.Position == nil || wc.Embedding == nil {
			return nil, fmt.Errorf("%w: content bundle: chunk %d is incomplete", rag.ErrBundleFormat, i)
		}
		if *wc.Position < 0 {
			return nil, fmt.Errorf("%w: content bundle: chunk %d has negative position", rag.ErrBundleFormat, i)
		}
		c.Chunks[i] = Chunk{Text: *wc.Text, Position: *wc.Position, Embedding: *wc.Embedding}
		embeddings[i] = *wc.Embedding
	}
	if err := checkDimensions(embeddings); err != nil {
		return nil, err
	}
	return c, nil
}

// DecodeVectors parses a vector bundle. Malformed input fails with
// rag.ErrBundleFormat; an embeddings/positions count disagreement or
// inconsistent dimensions fail with rag.ErrSchemaMismatch.
func DecodeVectors(data []byte) (*Vectors, error) {
	var w wireVectors
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Embeddings == nil {
		return nil, fmt.Errorf("%w: vector bundle: missing \"embeddings\"", rag.ErrBundleFormat)
	}
	if w.Positions == nil {
		return nil, fmt.Errorf("%w: vector bundle: missing \"chunk_positions\"", rag.ErrBundleFormat)
	}

	v := &Vectors{Embeddings: *w.Embeddings, Positions: *w.Positions}
	if len(v.Embeddings) != len(v.Positions) {
		return nil, fmt.Errorf("%w: vector bundle: %d embeddings, %d positions",
			rag.ErrSchemaMismatch, len(v.Embeddings), len(v.Positions))
	}
	for i, e := range v.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: vector bundle: embedding %d is null", rag.ErrBundleFormat, i)
		}
	}
	if err := checkDimensions(v.Embeddings); err != nil {
		return nil, err
	}
	return v, nil
}

// CheckPair verifies that a content bundle and a vector bundle describe the
// same passages: equal counts and matching positions.
func CheckPair(c *Content, v *Vectors) error {
	if len(c.Chunks) != len(v.Embeddings) {
		return fmt.Errorf("%w: %d chunks, %d embeddings", rag.ErrSchemaMismatch, len(c.Chunks), len(v.Embeddings))
	}
	for i := range c.Chunks {
		if c.Chunks[i].Position != v.Positions[i] {
			return fmt.Errorf("%w: chunk %d at position %d, vector bundle says %d",
				rag.ErrSchemaMismatch, i, c.Chunks[i].Position, v.Positions[i])
		}
	}
	return nil
}

// Dimensions returns the common embedding length of v, or 0 when v is empty.
func (v *Vectors) Dimensions() int {
	if len(v.Embeddings) == 0 {
		return 0
	}
	return len(v.Embeddings[0])
}

func checkDimensions(embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return fmt.Errorf("%w: embedding 0 is empty", rag.ErrSchemaMismatch)
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", rag.ErrSchemaMismatch, i, len(e), dim)
		}
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		// NaN and Inf are not representable in JSON.
		return nil, fmt.Errorf("%w: encode: %w", rag.ErrBundleFormat, err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode: %w", rag.ErrBundleFormat, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after bundle", rag.ErrBundleFormat)
	}
	return nil
}
