// Package ranker scores a query embedding against stored embeddings with
// cosine similarity and returns a deterministic top-k.
//
// Zero-norm vectors have no defined direction, so any comparison involving
// one scores MinScore. Non-finite results are clamped the same way so the
// ordering is always total.
package ranker

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// MinScore is the lowest possible cosine similarity, assigned to degenerate
// comparisons.
const MinScore = -1.0

// Scored is a ranked candidate.
type Scored struct {
	// Index is the candidate's position in the input slice.
	Index int
	// Score is the cosine similarity to the query in [-1, 1].
	Score float64
}

// Rank returns the min(k, len(candidates)) candidates most similar to query,
// ordered by descending score with ties broken by ascending index.
// k <= 0 returns an empty result. Any candidate whose length differs from
// the query's fails the whole call with rag.ErrDimensionMismatch.
func Rank(query []float32, candidates [][]float32, k int) ([]Scored, error) {
	for i, c := range candidates {
		if len(c) != len(query) {
			return nil, fmt.Errorf("%w: candidate %d has %d dimensions, query has %d",
				rag.ErrDimensionMismatch, i, len(c), len(query))
		}
	}
	if k <= 0 || len(candidates) == 0 {
		return []Scored{}, nil
	}

	qNorm := norm(query)
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		scored[i] = Scored{Index: i, Score: cosine(query, c, qNorm)}
	}

	slices.SortFunc(scored, func(a, b Scored) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})

	return scored[:min(k, len(scored))], nil
}

// Cosine returns the cosine similarity of a and b, or MinScore when either
// vector has zero norm. a and b must have equal length.
func Cosine(a, b []float32) float64 {
	return cosine(a, b, norm(a))
}

func cosine(q, c []float32, qNorm float64) float64 {
	cNorm := norm(c)
	if qNorm == 0 || cNorm == 0 {
		return MinScore
	}
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(c[i])
	}
	s := dot / (qNorm * cNorm)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return MinScore
	}
	// Rounding can push identical vectors a hair past 1.
	return max(MinScore, min(1, s))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
