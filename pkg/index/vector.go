package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek/vek32"
)

// Vector similarity search defaults. A query that does not say
// otherwise returns at most 10 items scoring 0.7 or better.
const (
	DefaultVectorLimit     = 10
	DefaultVectorThreshold = 0.7
)

// Vector locates items by cosine similarity between the query
// embedding and each item's embedding. Text holds the free-text query
// the embedding was derived from, when there was one; matching uses
// only the embedding.
type Vector struct {
	Query     []float32
	Text      string
	Limit     int
	Threshold float32
}

// Embedder turns a free-text query into an embedding. The engine owns
// no embedding model; callers bring one.
type Embedder func(text string) ([]float32, error)

// VectorOption adjusts a Vector built by NewVector.
type VectorOption func(*Vector)

// WithLimit caps the number of matches returned.
func WithLimit(n int) VectorOption {
	return func(v *Vector) { v.Limit = n }
}

// WithThreshold sets the minimum similarity score a match must reach.
func WithThreshold(t float32) VectorOption {
	return func(v *Vector) { v.Threshold = t }
}

// NewVector builds a similarity index over the query embedding with
// the default limit and threshold unless options override them.
func NewVector(query []float32, opts ...VectorOption) Vector {
	v := Vector{
		Query:     query,
		Limit:     DefaultVectorLimit,
		Threshold: DefaultVectorThreshold,
	}
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// NewVectorText builds a similarity index from a free-text query,
// embedding it with embed. The text is kept on the index for
// inspection.
func NewVectorText(text string, embed Embedder, opts ...VectorOption) (Vector, error) {
	if embed == nil {
		return Vector{}, fmt.Errorf("vector text query %q: no embedder", text)
	}
	q, err := embed(text)
	if err != nil {
		return Vector{}, fmt.Errorf("embedding %q: %w", text, err)
	}
	v := NewVector(q, opts...)
	v.Text = text
	return v, nil
}

func (Vector) Kind() Kind    { return KindVector }
func (Vector) searchIndex() {}

// Match pairs a candidate's position in the input slice with its
// similarity score.
type Match struct {
	Ordinal int
	Score   float32
}

// Score computes cosine similarity between the query and candidate.
// Zero vectors and dimension mismatches score 0 rather than NaN.
func (v Vector) Score(candidate []float32) float32 {
	if len(v.Query) == 0 || len(v.Query) != len(candidate) {
		return 0
	}
	s := vek32.CosineSimilarity(v.Query, candidate)
	if math.IsNaN(float64(s)) {
		return 0
	}
	return s
}

// Rank scores every candidate, drops those below the threshold, and
// returns the top matches ordered by descending score. Ties keep the
// input order.
func (v Vector) Rank(candidates [][]float32) []Match {
	matches := make([]Match, 0, len(candidates))
	for i, c := range candidates {
		s := v.Score(c)
		if s < v.Threshold {
			continue
		}
		matches = append(matches, Match{Ordinal: i, Score: s})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if v.Limit > 0 && len(matches) > v.Limit {
		matches = matches[:v.Limit]
	}
	return matches
}
