package retrieval

import (
	"sort"

	"github.com/xxxsen/recall/internal/model"
)

// branchOutput is one search signal's ranked candidate list.
type branchOutput struct {
	source string
	items  []model.ScoredChunk
}

// fuseRRF merges ranked lists from heterogeneous signals with reciprocal
// rank fusion: each list contributes 1/(k+rank) per candidate. Raw scores
// from cosine and BM25 are not on comparable scales, so only ranks are
// blended; the raw per-source scores are kept for diagnostics.
func fuseRRF(branches []branchOutput, k float64) []Candidate {
	if k <= 0 {
		k = 60
	}
	merged := make(map[string]*Candidate)
	for _, branch := range branches {
		for rank, item := range branch.items {
			cand, ok := merged[item.Chunk.ID]
			if !ok {
				cand = &Candidate{
					Chunk:        item.Chunk,
					SourceScores: make(map[string]float64),
				}
				merged[item.Chunk.ID] = cand
			}
			cand.Score += 1 / (k + float64(rank+1))
			if prev, ok := cand.SourceScores[branch.source]; !ok || item.Score > prev {
				cand.SourceScores[branch.source] = item.Score
			}
		}
	}
	results := make([]Candidate, 0, len(merged))
	for _, cand := range merged {
		results = append(results, *cand)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	return results
}
