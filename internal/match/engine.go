// Package match performs nearest-neighbor identity search over enrolled
// embeddings using cosine similarity.
package match

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// CandidateEmbedding is one enrolled vector with its source photo reference.
type CandidateEmbedding struct {
	PhotoID string
	Vector  []float32
}

// Candidate groups the enrolled embeddings of one active person.
type Candidate struct {
	PersonID    string
	DisplayName string
	Embeddings  []CandidateEmbedding
}

// Match is the best identity found for a probe.
type Match struct {
	PersonID    string
	DisplayName string
	Similarity  float64
	// PhotoID identifies the specific enrolled photo that produced the best
	// score, preserved at per-photo granularity for audit.
	PhotoID string
}

// FindBestMatch scans every embedding of every candidate and returns the
// single highest cosine similarity. Ties keep the first-seen candidate.
// Returns false when the candidate set holds no embeddings.
func FindBestMatch(probe []float32, candidates []Candidate) (Match, bool) {
	best := Match{Similarity: -1}
	found := false

	for _, candidate := range candidates {
		for _, embedding := range candidate.Embeddings {
			similarity := CosineSimilarity(probe, embedding.Vector)
			if similarity > best.Similarity {
				best = Match{
					PersonID:    candidate.PersonID,
					DisplayName: candidate.DisplayName,
					Similarity:  similarity,
					PhotoID:     embedding.PhotoID,
				}
				found = true
			}
		}
	}

	if !found {
		return Match{}, false
	}
	if best.Similarity < 0 {
		best.Similarity = 0
	}
	return best, true
}

// CosineSimilarity computes dot(a,b)/(|a||b|) clamped into [0, 1]. Both
// vectors are re-normalized defensively; stored norms are not trusted here.
// A dimension mismatch is recovered locally by truncating the longer vector
// or zero-padding the shorter one, so one stale enrollment cannot block
// matching against the rest of the set.
func CosineSimilarity(a, b []float32) float64 {
	wa := widen(a)
	wb := widen(b)

	if len(wa) != len(wb) {
		if len(wa) > len(wb) {
			wb = append(wb, make([]float64, len(wa)-len(wb))...)
		} else {
			wa = append(wa, make([]float64, len(wb)-len(wa))...)
		}
	}
	if len(wa) == 0 {
		return 0
	}

	normA := floats.Norm(wa, 2)
	normB := floats.Norm(wb, 2)
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := floats.Dot(wa, wb) / (normA * normB)
	if math.IsNaN(similarity) {
		return 0
	}
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
