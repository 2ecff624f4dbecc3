package memory

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b.
// Vectors of different length or with zero magnitude score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores entries against query and returns the best k.
// Order: similarity descending, then CreatedAt descending, then ID descending.
// The input slice is not modified.
func Rank(entries []Entry, query []float32, k int) []Entry {
	if k <= 0 || len(entries) == 0 {
		return []Entry{}
	}

	scored := make([]Entry, len(entries))
	copy(scored, entries)
	for i := range scored {
		scored[i].Similarity = CosineSimilarity(scored[i].Embedding, query)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
