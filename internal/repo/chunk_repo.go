package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/recall/internal/model"
	"github.com/xxxsen/recall/internal/pkg/dbutil"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/pkg/timeutil"
)

// ChunkRepo is the chunk store: note chunks with their embedding vectors,
// strictly partitioned by user id.
type ChunkRepo struct {
	db  *sql.DB
	dim int
}

func NewChunkRepo(db *sql.DB, embeddingDim int) *ChunkRepo {
	return &ChunkRepo{db: db, dim: embeddingDim}
}

func (r *ChunkRepo) validate(chunk *model.NoteChunk) error {
	if chunk == nil || chunk.NoteID == "" || chunk.UserID == "" {
		return fmt.Errorf("%w: chunk requires note_id and user_id", appErr.ErrInvalid)
	}
	if r.dim > 0 && len(chunk.Embedding) != r.dim {
		return fmt.Errorf("%w: embedding dimension %d, want %d", appErr.ErrInvalid, len(chunk.Embedding), r.dim)
	}
	return nil
}

const upsertChunkQuery = `
	INSERT INTO note_chunks (id, note_id, user_id, chunk_index, title, tags, content, embedding, provider, model_name, ctime)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		note_id = EXCLUDED.note_id,
		user_id = EXCLUDED.user_id,
		chunk_index = EXCLUDED.chunk_index,
		title = EXCLUDED.title,
		tags = EXCLUDED.tags,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		provider = EXCLUDED.provider,
		model_name = EXCLUDED.model_name
`

// Upsert inserts or replaces one chunk by id. A new id is generated when
// empty; ctime is kept from the first insert.
func (r *ChunkRepo) Upsert(ctx context.Context, chunk *model.NoteChunk) error {
	if err := r.validate(chunk); err != nil {
		return err
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	if chunk.Ctime == 0 {
		chunk.Ctime = timeutil.NowUnix()
	}
	if _, err := r.db.ExecContext(ctx, upsertChunkQuery,
		chunk.ID, chunk.NoteID, chunk.UserID, chunk.ChunkIndex,
		chunk.Title, pq.Array(chunk.Tags), chunk.Content,
		pgvector.NewVector(chunk.Embedding), chunk.Provider, chunk.ModelName, chunk.Ctime,
	); err != nil {
		return fmt.Errorf("%w: upsert chunk: %v", appErr.ErrStorage, err)
	}
	return nil
}

// UpsertBatch replaces the full chunk set of every covered note in one
// transaction: stale rows are deleted first, then the new rows inserted.
// Re-chunking a note assigns fresh ids at the same chunk indexes, so the
// delete must precede the insert or the (note_id, chunk_index) uniqueness
// rejects the new rows. Readers keep seeing the old set until commit. An
// empty batch is a no-op.
func (r *ChunkRepo) UpsertBatch(ctx context.Context, chunks []*model.NoteChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	byNote := make(map[string][]*model.NoteChunk)
	for _, chunk := range chunks {
		if err := r.validate(chunk); err != nil {
			return err
		}
		byNote[chunk.NoteID] = append(byNote[chunk.NoteID], chunk)
	}
	// chunks of one note must share one owner and one vector space
	for noteID, group := range byNote {
		for _, chunk := range group {
			if chunk.UserID != group[0].UserID {
				return fmt.Errorf("%w: mixed owners for note %s", appErr.ErrInvalid, noteID)
			}
			if chunk.Provider != group[0].Provider || chunk.ModelName != group[0].ModelName {
				return fmt.Errorf("%w: mixed embedding models for note %s", appErr.ErrInvalid, noteID)
			}
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", appErr.ErrStorage, err)
	}
	defer tx.Rollback()
	for noteID, group := range byNote {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM note_chunks WHERE note_id = $1 AND user_id = $2`,
			noteID, group[0].UserID,
		); err != nil {
			return fmt.Errorf("%w: delete stale chunks: %v", appErr.ErrStorage, err)
		}
	}
	now := timeutil.NowUnix()
	for _, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		if chunk.Ctime == 0 {
			chunk.Ctime = now
		}
		if _, err := tx.ExecContext(ctx, upsertChunkQuery,
			chunk.ID, chunk.NoteID, chunk.UserID, chunk.ChunkIndex,
			chunk.Title, pq.Array(chunk.Tags), chunk.Content,
			pgvector.NewVector(chunk.Embedding), chunk.Provider, chunk.ModelName, chunk.Ctime,
		); err != nil {
			return fmt.Errorf("%w: upsert chunk: %v", appErr.ErrStorage, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", appErr.ErrStorage, err)
	}
	return nil
}

// Search returns at most topK chunks of the user with cosine similarity at
// or above threshold, ordered by similarity then id for determinism.
func (r *ChunkRepo) Search(ctx context.Context, queryVec []float32, userID string, topK int, threshold float64) ([]model.ScoredChunk, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	if r.dim > 0 && len(queryVec) != r.dim {
		return nil, fmt.Errorf("%w: query embedding dimension %d, want %d", appErr.ErrInvalid, len(queryVec), r.dim)
	}
	if topK <= 0 {
		return []model.ScoredChunk{}, nil
	}
	const query = `
		SELECT id, note_id, user_id, chunk_index, title, tags, content, provider, model_name, ctime,
			1 - (embedding <=> $1) AS score
		FROM note_chunks
		WHERE user_id = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY score DESC, id ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(queryVec), userID, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", appErr.ErrStorage, err)
	}
	defer rows.Close()
	results := make([]model.ScoredChunk, 0, topK)
	for rows.Next() {
		var item model.ScoredChunk
		var tags pq.StringArray
		if err := rows.Scan(
			&item.Chunk.ID, &item.Chunk.NoteID, &item.Chunk.UserID, &item.Chunk.ChunkIndex,
			&item.Chunk.Title, &tags, &item.Chunk.Content,
			&item.Chunk.Provider, &item.Chunk.ModelName, &item.Chunk.Ctime, &item.Score,
		); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", appErr.ErrStorage, err)
		}
		item.Chunk.Tags = tags
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", appErr.ErrStorage, err)
	}
	return results, nil
}

// ListByUser returns the user's chunk corpus without embeddings, for
// lexical scoring.
func (r *ChunkRepo) ListByUser(ctx context.Context, userID string) ([]model.NoteChunk, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	const query = `
		SELECT id, note_id, user_id, chunk_index, title, tags, content, provider, model_name, ctime
		FROM note_chunks
		WHERE user_id = $1
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", appErr.ErrStorage, err)
	}
	defer rows.Close()
	var results []model.NoteChunk
	for rows.Next() {
		var item model.NoteChunk
		var tags pq.StringArray
		if err := rows.Scan(
			&item.ID, &item.NoteID, &item.UserID, &item.ChunkIndex,
			&item.Title, &tags, &item.Content,
			&item.Provider, &item.ModelName, &item.Ctime,
		); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", appErr.ErrStorage, err)
		}
		item.Tags = tags
		results = append(results, item)
	}
	return results, rows.Err()
}

// DeleteByNote removes all chunks of a note owned by the user. Deleting a
// note with no chunks succeeds with zero effect.
func (r *ChunkRepo) DeleteByNote(ctx context.Context, userID, noteID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	return r.deleteWhere(ctx, map[string]interface{}{"note_id": noteID, "user_id": userID})
}

// DeleteByUser removes every chunk the user owns.
func (r *ChunkRepo) DeleteByUser(ctx context.Context, userID string) error {
	return r.deleteWhere(ctx, map[string]interface{}{"user_id": userID})
}

func (r *ChunkRepo) deleteWhere(ctx context.Context, where map[string]interface{}) error {
	sqlStr, args, err := builder.BuildDelete("note_chunks", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", appErr.ErrStorage, err)
	}
	return nil
}

// Stats derives the per-user index aggregate. A user with no chunks gets
// zero-valued stats, not an error.
func (r *ChunkRepo) Stats(ctx context.Context, userID string) (*model.IndexStats, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	const query = `
		SELECT COUNT(*), COUNT(DISTINCT note_id), COALESCE(MAX(ctime), 0)
		FROM note_chunks
		WHERE user_id = $1
	`
	stats := &model.IndexStats{Backend: "postgres"}
	row := r.db.QueryRowContext(ctx, query, userID)
	if err := row.Scan(&stats.TotalChunks, &stats.NoteCount, &stats.LastIndexedAt); err != nil {
		return nil, fmt.Errorf("%w: index stats: %v", appErr.ErrStorage, err)
	}
	return stats, nil
}
