// Package models contains domain models for the comment bubbles engine.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Embedding is a fixed-dimension numeric vector produced for a piece of text.
// Hash is derived from (model, text) and is used for caching, dedup, and
// determinism checks: the same model embedding the same text must produce
// the same hash and, in deterministic modes, the same vector.
type Embedding struct {
	Vector []float64 `json:"vector"`
	Dim    int       `json:"dim"`
	Model  string    `json:"model"`
	Hash   string    `json:"hash"`
}

// IsZero reports whether the embedding has not been computed yet.
func (e Embedding) IsZero() bool {
	return len(e.Vector) == 0 && e.Dim == 0
}

// ContentHash returns the canonical hash for text embedded by model.
func ContentHash(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// CentroidHash derives a hash for a centroid from its member embedding hashes.
// Member hashes must be passed in member order so the result is stable.
func CentroidHash(memberHashes []string) string {
	h := sha256.New()
	h.Write([]byte("centroid"))
	for _, mh := range memberHashes {
		fmt.Fprintf(h, "|%s", mh)
	}
	return hex.EncodeToString(h.Sum(nil))
}
