// Package embed provides Embedder implementations for internal/retrieval.
package embed

import (
	"context"
	"hash/fnv"
	"math"
)

// DeterministicHash embeds text into a stable pseudo-random unit vector
// seeded from its content: no network calls, same text always yields the
// same vector, used by tests and the demo mode in place of a real embedding
// model.
type DeterministicHash struct {
	dimensions int
}

// NewDeterministicHash returns an embedder producing vectors of the given
// dimensionality.
func NewDeterministicHash(dimensions int) *DeterministicHash {
	if dimensions <= 0 {
		dimensions = 32
	}
	return &DeterministicHash{dimensions: dimensions}
}

// Embed implements retrieval.Embedder.
func (d *DeterministicHash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, d.dimensions)

	seed := fnv.New64a()
	_, _ = seed.Write([]byte(text))
	state := seed.Sum64()

	for i := range vec {
		state = splitmix64(state)
		// map to [-1, 1]
		vec[i] = float32(state>>11)/float32(1<<53)*2 - 1
	}

	normalize(vec)
	return vec, nil
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}
