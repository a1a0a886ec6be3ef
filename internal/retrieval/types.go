package retrieval

import (
	"context"
	"time"

	"github.com/xxxsen/recall/internal/model"
)

// Candidate sources. Every candidate records which signals produced it and
// the raw score each signal assigned.
const (
	SourceVector     = "vector"
	SourceLexical    = "lexical"
	SourceHyDE       = "hyde"
	SourceMultiQuery = "multi_query"
)

// ChunkStore is the storage capability the engine searches over.
type ChunkStore interface {
	Search(ctx context.Context, queryVec []float32, userID string, topK int, threshold float64) ([]model.ScoredChunk, error)
	ListByUser(ctx context.Context, userID string) ([]model.NoteChunk, error)
}

// Options enumerates the per-call pipeline configuration. Zero values fall
// back to the engine defaults. SimilarityThreshold is a pointer so that an
// explicit 0 ("accept every match") is distinguishable from unset; negative
// values are clamped to 0.
type Options struct {
	TopK                int           `json:"top_k"`
	SimilarityThreshold *float64      `json:"similarity_threshold"`
	EnableHybrid        bool          `json:"enable_hybrid"`
	EnableHyDE          bool          `json:"enable_hyde"`
	EnableMultiQuery    bool          `json:"enable_multi_query"`
	MultiQueryCount     int           `json:"multi_query_count"`
	EnableRerank        bool          `json:"enable_rerank"`
	RerankTopM          int           `json:"rerank_top_m"`
	Deadline            time.Duration `json:"-"`
}

// Candidate is one ranked chunk in the fused result.
type Candidate struct {
	Chunk        model.NoteChunk    `json:"chunk"`
	Score        float64            `json:"score"`
	SourceScores map[string]float64 `json:"source_scores"`
	RerankScore  float64            `json:"rerank_score,omitempty"`
	Reranked     bool               `json:"reranked,omitempty"`
}

// Diagnostics describes which stages ran, how long they took, and which
// degraded. It feeds the query log.
type Diagnostics struct {
	QueryEmbedMs    int64 `json:"query_embed_ms"`
	VectorSearchMs  int64 `json:"vector_search_ms"`
	LexicalSearchMs int64 `json:"lexical_search_ms"`
	ExpandMs        int64 `json:"expand_ms"`
	HyDEMs          int64 `json:"hyde_ms"`
	RerankMs        int64 `json:"rerank_ms"`
	TotalMs         int64 `json:"total_ms"`

	RetrievedCount int     `json:"retrieved_count"`
	ReturnedCount  int     `json:"returned_count"`
	AvgSimilarity  float64 `json:"avg_similarity"`
	TopSimilarity  float64 `json:"top_similarity"`
	AvgBM25        float64 `json:"avg_bm25"`
	AvgRerankScore float64 `json:"avg_rerank_score"`

	HyDEDegraded       bool     `json:"hyde_degraded,omitempty"`
	MultiQueryDegraded bool     `json:"multi_query_degraded,omitempty"`
	RerankSkipped      bool     `json:"rerank_skipped,omitempty"`
	FailedBranches     []string `json:"failed_branches,omitempty"`
}

// Result is the outcome of one retrieval call.
type Result struct {
	Candidates  []Candidate `json:"candidates"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Config carries the engine defaults; per-call Options override most of it.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	LexicalTopN         int
	BM25K1              float64
	BM25B               float64
	RRFK                float64
	MultiQueryCount     int
	RerankTopM          int
	Deadline            time.Duration
	EmbedTimeout        time.Duration
	SearchTimeout       time.Duration
	ExpandTimeout       time.Duration
	RerankTimeout       time.Duration
}
