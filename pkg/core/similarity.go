package core

import "math"

// cosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// cosineDistance is 1 - cosineSimilarity, in [0, 2].
func cosineDistance(a, b []float32) float64 {
	return 1 - cosineSimilarity(a, b)
}

// vectorScore converts a cosine distance to the score exposed by search
// results. The score is clamped at zero: anti-correlated vectors report 0
// rather than a negative score, at both document and chunk granularity.
func vectorScore(distance float64) float64 {
	return math.Max(0, 1-distance)
}
