// Package index implements the flat nearest-neighbor index and the
// positionally aligned corpus that back retrieval. The serving path treats
// both as read-only; only the offline builder mutates them.
package index

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyIndex is returned by Search when no vectors are stored.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrDimensionMismatch is returned when a vector's dimension does not
	// match the dimension the index was created with.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrOutOfRange is returned by Corpus.Get for an unknown ordinal.
	ErrOutOfRange = errors.New("ordinal out of range")

	// ErrInconsistentSnapshot is returned by Load when the index and corpus
	// files disagree on the number of stored entries.
	ErrInconsistentSnapshot = errors.New("inconsistent snapshot")
)

// Index stores fixed-dimension vectors and answers k-nearest-neighbor
// queries under squared Euclidean distance. Vectors are append-only; each
// receives the next unused ordinal, and ordinals stay valid for the lifetime
// of the index.
type Index struct {
	dim     int
	vectors [][]float32
}

// New creates an empty index bound to the given dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	return &Index{dim: dimension}, nil
}

// Dimension returns the vector dimension the index is bound to.
func (ix *Index) Dimension() int { return ix.dim }

// Len returns the number of stored vectors.
func (ix *Index) Len() int { return len(ix.vectors) }

// Add appends vectors in the given order. Every vector must match the index
// dimension; on mismatch nothing is appended.
func (ix *Index) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index expects %d", ErrDimensionMismatch, i, len(v), ix.dim)
		}
	}
	ix.vectors = append(ix.vectors, vectors...)
	return nil
}

// Search returns up to k ordinals ordered by ascending squared Euclidean
// distance to the query. Ties are broken by insertion order (earlier ordinal
// wins). A k larger than the index size returns all stored ordinals.
func (ix *Index) Search(query []float32, k int) ([]int, error) {
	if len(ix.vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, fmt.Errorf("invalid k %d", k)
	}

	dists := make([]float64, len(ix.vectors))
	for i, v := range ix.vectors {
		dists[i] = squaredL2(query, v)
	}

	ordinals := make([]int, len(ix.vectors))
	for i := range ordinals {
		ordinals[i] = i
	}
	sort.SliceStable(ordinals, func(a, b int) bool {
		return dists[ordinals[a]] < dists[ordinals[b]]
	})

	if k > len(ordinals) {
		k = len(ordinals)
	}
	return ordinals[:k], nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
