package model

// NoteChunk is one indexed slice of a note. Title and tags are denormalized
// from the owning note so search results can be rendered without a join.
type NoteChunk struct {
	ID         string    `json:"id"`
	NoteID     string    `json:"note_id"`
	UserID     string    `json:"user_id"`
	ChunkIndex int       `json:"chunk_index"`
	Title      string    `json:"title"`
	Tags       []string  `json:"tags"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	Provider   string    `json:"provider"`
	ModelName  string    `json:"model_name"`
	Ctime      int64     `json:"ctime"`
}

// ScoredChunk pairs a chunk with a similarity or lexical score.
type ScoredChunk struct {
	Chunk NoteChunk `json:"chunk"`
	Score float64   `json:"score"`
}

// IndexStats is a per-user aggregate derived on demand from the chunk store.
type IndexStats struct {
	TotalChunks   int64  `json:"total_chunks"`
	NoteCount     int64  `json:"note_count"`
	LastIndexedAt int64  `json:"last_indexed_at"`
	Provider      string `json:"provider"`
	ModelName     string `json:"model_name"`
	Backend       string `json:"backend"`
}
