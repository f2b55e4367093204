// Package vectormath provides the vector similarity primitives used by the
// clustering engine: cosine similarity and centroid maintenance.
package vectormath

import "math"

// L2Norm returns the Euclidean norm of v.
func L2Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity between a and b.
// Returns 0 for mismatched dimensions, empty vectors, or zero vectors.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Mean returns the arithmetic mean of the given vectors, all of dimension dim.
// Vectors with a different dimension are skipped. An empty input yields the
// zero vector.
func Mean(vectors [][]float64, dim int) []float64 {
	acc := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		n++
		for i, x := range v {
			acc[i] += x
		}
	}
	if n == 0 {
		return acc
	}
	for i := range acc {
		acc[i] /= float64(n)
	}
	return acc
}

// IncrementalMean folds v into a running mean over n-1 prior vectors,
// returning the mean over n vectors: m' = m + (v - m)/n.
// The input centroid is not mutated. n must be >= 1; when n == 1 the
// result is a copy of v.
func IncrementalMean(centroid, v []float64, n int) []float64 {
	out := make([]float64, len(v))
	if n <= 1 || len(centroid) != len(v) {
		copy(out, v)
		return out
	}
	inv := 1.0 / float64(n)
	for i := range v {
		out[i] = centroid[i] + (v[i]-centroid[i])*inv
	}
	return out
}
