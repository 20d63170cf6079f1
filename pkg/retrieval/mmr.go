package retrieval

import "math"

// Candidate is a scored, embedding-carrying result flowing through
// the hybrid pipeline.
type Candidate struct {
	ChunkID string
	Score   float64
	Vector  []float32
	Text    string
}

// mmrRerank greedily selects candidates maximizing
// lambda*relevance - (1-lambda)*max_sim_to_selected, producing a final
// ordering of the requested length (spec §4.8 step 6). Candidates
// without a vector (e.g. keyword-only matches the backend never
// embedded) are treated as maximally dissimilar to everything already
// selected, so they are never silently dropped.
func mmrRerank(candidates []Candidate, queryVector []float32, lambda float64, topK int) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)
	selected := make([]Candidate, 0, topK)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := -math.MaxFloat64

		for i, cand := range remaining {
			relevance := cand.Score
			if len(cand.Vector) > 0 && len(queryVector) > 0 {
				relevance = cosineSimilarity(cand.Vector, queryVector)
			}
			maxSim := 0.0
			for _, sel := range selected {
				if len(cand.Vector) == 0 || len(sel.Vector) == 0 {
					continue
				}
				if sim := cosineSimilarity(cand.Vector, sel.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*relevance - (1-lambda)*maxSim
			if mmrScore > bestScore || (mmrScore == bestScore && bestIdx >= 0 && remaining[i].ChunkID < remaining[bestIdx].ChunkID) {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
