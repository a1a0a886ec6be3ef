package model

// QueryLogEntry records one retrieval call: the request shape, stage
// timings, result quality metrics, and optionally user feedback attached
// later. All fields except the feedback ones are write-once.
type QueryLogEntry struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`

	Hybrid     bool `json:"hybrid"`
	HyDE       bool `json:"hyde"`
	MultiQuery bool `json:"multi_query"`
	Rerank     bool `json:"rerank"`

	QueryEmbedMs    int64 `json:"query_embed_ms"`
	VectorSearchMs  int64 `json:"vector_search_ms"`
	LexicalSearchMs int64 `json:"lexical_search_ms"`
	RerankMs        int64 `json:"rerank_ms"`
	TotalMs         int64 `json:"total_ms"`

	RetrievedCount int     `json:"retrieved_count"`
	ReturnedCount  int     `json:"returned_count"`
	AvgSimilarity  float64 `json:"avg_similarity"`
	TopSimilarity  float64 `json:"top_similarity"`
	AvgBM25        float64 `json:"avg_bm25"`
	AvgRerankScore float64 `json:"avg_rerank_score"`

	FeedbackSignal   string `json:"feedback_signal"`
	FeedbackCategory string `json:"feedback_category"`
	FeedbackComment  string `json:"feedback_comment"`
	FeedbackTime     int64  `json:"feedback_time"`

	Ctime int64 `json:"ctime"`
}

// QueryFeedback is the mutable part of a query log entry.
type QueryFeedback struct {
	Signal   string `json:"signal"`
	Category string `json:"category"`
	Comment  string `json:"comment"`
}
