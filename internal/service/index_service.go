package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

// ChunkStore is the persistence capability the indexing path writes to.
type ChunkStore interface {
	UpsertBatch(ctx context.Context, chunks []*model.NoteChunk) error
	DeleteByNote(ctx context.Context, userID, noteID string) error
	DeleteByUser(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (*model.IndexStats, error)
}

// IndexService maintains the per-user chunk index. Writes to one note's
// chunk set are a critical section per note: a re-index must not interleave
// with a concurrent delete of the same note.
type IndexService struct {
	chunks   ChunkStore
	embedder ai.IEmbedder
	chunker  *ai.Chunker
	locks    sync.Map // note id -> *sync.Mutex
}

func NewIndexService(chunks ChunkStore, embedder ai.IEmbedder, chunker *ai.Chunker) *IndexService {
	return &IndexService{
		chunks:   chunks,
		embedder: embedder,
		chunker:  chunker,
	}
}

func (s *IndexService) noteLock(noteID string) *sync.Mutex {
	value, _ := s.locks.LoadOrStore(noteID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

// IndexNote chunks a note's markdown, embeds every chunk, and replaces the
// note's chunk set atomically. Returns the number of chunks indexed.
func (s *IndexService) IndexNote(ctx context.Context, userID, noteID, title string, tags []string, content string) (int, error) {
	if userID == "" || noteID == "" {
		return 0, fmt.Errorf("%w: user id and note id are required", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("note_id", noteID))

	pieces := s.chunker.Chunk(ctx, content)
	chunks := make([]*model.NoteChunk, 0, len(pieces))
	for _, piece := range pieces {
		// title mixed into the embedded text improves recall
		text := fmt.Sprintf("%s\n%s", title, piece.Content)
		emb, err := s.embedder.Embed(ctx, text, "RETRIEVAL_DOCUMENT")
		if err != nil {
			logger.Error("failed to embed chunk", zap.Int("chunk_index", piece.Index), zap.Error(err))
			return 0, fmt.Errorf("%w: embed chunk: %v", appErr.ErrUnavailable, err)
		}
		chunks = append(chunks, &model.NoteChunk{
			NoteID:     noteID,
			UserID:     userID,
			ChunkIndex: piece.Index,
			Title:      title,
			Tags:       tags,
			Content:    piece.Content,
			Embedding:  emb,
			Provider:   s.embedder.ProviderName(),
			ModelName:  s.embedder.ModelName(),
		})
	}

	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()
	if len(chunks) == 0 {
		// an empty note leaves no chunks behind
		if err := s.chunks.DeleteByNote(ctx, userID, noteID); err != nil {
			return 0, err
		}
		logger.Info("note deindexed (empty content)")
		return 0, nil
	}
	if err := s.chunks.UpsertBatch(ctx, chunks); err != nil {
		logger.Error("failed to upsert chunks", zap.Error(err))
		return 0, err
	}
	logger.Info("note indexed", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// IndexChunks accepts chunks prepared by an external indexing path,
// embeddings included.
func (s *IndexService) IndexChunks(ctx context.Context, chunks []*model.NoteChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	noteID := chunks[0].NoteID
	for _, chunk := range chunks {
		if chunk.NoteID != noteID {
			return fmt.Errorf("%w: chunks must belong to one note", appErr.ErrInvalid)
		}
	}
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()
	return s.chunks.UpsertBatch(ctx, chunks)
}

func (s *IndexService) DeindexNote(ctx context.Context, userID, noteID string) error {
	if userID == "" || noteID == "" {
		return fmt.Errorf("%w: user id and note id are required", appErr.ErrInvalid)
	}
	lock := s.noteLock(noteID)
	lock.Lock()
	defer lock.Unlock()
	return s.chunks.DeleteByNote(ctx, userID, noteID)
}

func (s *IndexService) DeindexUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	return s.chunks.DeleteByUser(ctx, userID)
}

func (s *IndexService) Stats(ctx context.Context, userID string) (*model.IndexStats, error) {
	stats, err := s.chunks.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats.Provider = s.embedder.ProviderName()
	stats.ModelName = s.embedder.ModelName()
	return stats, nil
}
