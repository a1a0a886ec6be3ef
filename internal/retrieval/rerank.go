package retrieval

import (
	"context"
	"fmt"
	"sort"
)

// rerankCandidates re-scores the top M fused candidates with the rerank
// capability. The reranked order replaces the fused order for the top M;
// everything below is appended unchanged.
func (e *Engine) rerankCandidates(ctx context.Context, query string, candidates []Candidate, topM int) ([]Candidate, float64, error) {
	if topM > len(candidates) {
		topM = len(candidates)
	}
	if topM <= 0 {
		return candidates, 0, nil
	}
	head := candidates[:topM]
	texts := make([]string, len(head))
	for i, cand := range head {
		texts[i] = cand.Chunk.Content
	}
	scores, err := e.reranker.Rerank(ctx, query, texts)
	if err != nil {
		return candidates, 0, err
	}
	if len(scores) != len(head) {
		return candidates, 0, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(head))
	}
	reranked := make([]Candidate, len(head))
	copy(reranked, head)
	var sum float64
	for i := range reranked {
		reranked[i].RerankScore = scores[i]
		reranked[i].Reranked = true
		sum += scores[i]
	}
	// stable: ties keep the fused order
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RerankScore > reranked[j].RerankScore
	})
	out := make([]Candidate, 0, len(candidates))
	out = append(out, reranked...)
	out = append(out, candidates[topM:]...)
	return out, sum / float64(len(reranked)), nil
}
