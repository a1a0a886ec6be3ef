package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/retrieval"
)

type fakeLogStore struct {
	mu       sync.Mutex
	recorded []*model.QueryLogEntry
	feedback map[string]model.QueryFeedback
	done     chan struct{}
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{
		feedback: make(map[string]model.QueryFeedback),
		done:     make(chan struct{}, 16),
	}
}

func (f *fakeLogStore) Record(ctx context.Context, entry *model.QueryLogEntry) (string, error) {
	f.mu.Lock()
	f.recorded = append(f.recorded, entry)
	f.mu.Unlock()
	f.done <- struct{}{}
	return entry.ID, nil
}

func (f *fakeLogStore) AttachFeedback(ctx context.Context, userID, id string, feedback model.QueryFeedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.recorded {
		if entry.ID == id && entry.UserID == userID {
			f.feedback[id] = feedback
			return nil
		}
	}
	return appErr.ErrNotFound
}

func (f *fakeLogStore) ListForUser(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueryLogEntry
	for _, entry := range f.recorded {
		if entry.UserID == userID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (f *fakeLogStore) ListWithFeedback(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.QueryLogEntry
	for _, entry := range f.recorded {
		if entry.UserID == userID {
			if _, ok := f.feedback[entry.ID]; ok {
				out = append(out, *entry)
			}
		}
	}
	return out, nil
}

type svcStore struct {
	items []model.ScoredChunk
}

func (s *svcStore) Search(ctx context.Context, queryVec []float32, userID string, topK int, threshold float64) ([]model.ScoredChunk, error) {
	return s.items, nil
}

func (s *svcStore) ListByUser(ctx context.Context, userID string) ([]model.NoteChunk, error) {
	return nil, nil
}

func newTestService(t *testing.T, logs QueryLogStore) *RetrievalService {
	t.Helper()
	store := &svcStore{items: []model.ScoredChunk{
		{Chunk: model.NoteChunk{ID: "a", NoteID: "n1", UserID: "u1", Content: "chunk a"}, Score: 0.8},
	}}
	engine := retrieval.NewEngine(store, &stubEmbedder{}, nil, nil, retrieval.Config{
		TopK:                8,
		SimilarityThreshold: 0.25,
		LexicalTopN:         20,
		BM25K1:              1.2,
		BM25B:               0.75,
		RRFK:                60,
		MultiQueryCount:     3,
		RerankTopM:          10,
		Deadline:            5 * time.Second,
		EmbedTimeout:        time.Second,
		SearchTimeout:       time.Second,
		ExpandTimeout:       time.Second,
		RerankTimeout:       time.Second,
	})
	svc := NewRetrievalService(engine, logs, time.Second)
	t.Cleanup(svc.Close)
	return svc
}

func TestRetrieveRecordsQueryLog(t *testing.T) {
	logs := newFakeLogStore()
	svc := newTestService(t, logs)

	result, err := svc.Retrieve(context.Background(), "u1", "conv-1", "what did I pay", retrieval.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, result.QueryLogID)
	require.Len(t, result.Candidates, 1)

	select {
	case <-logs.done:
	case <-time.After(2 * time.Second):
		t.Fatal("query log was never recorded")
	}

	logs.mu.Lock()
	defer logs.mu.Unlock()
	require.Len(t, logs.recorded, 1)
	entry := logs.recorded[0]
	require.Equal(t, result.QueryLogID, entry.ID)
	require.Equal(t, "u1", entry.UserID)
	require.Equal(t, "conv-1", entry.ConversationID)
	require.Equal(t, "what did I pay", entry.Query)
	require.Equal(t, 1, entry.ReturnedCount)
}

func TestRetrieveValidationDoesNotLog(t *testing.T) {
	logs := newFakeLogStore()
	svc := newTestService(t, logs)

	_, err := svc.Retrieve(context.Background(), "u1", "", "  ", retrieval.Options{})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	select {
	case <-logs.done:
		t.Fatal("failed retrieval must not be logged")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubmitFeedback(t *testing.T) {
	logs := newFakeLogStore()
	svc := newTestService(t, logs)

	result, err := svc.Retrieve(context.Background(), "u1", "", "query", retrieval.Options{})
	require.NoError(t, err)
	<-logs.done

	err = svc.SubmitFeedback(context.Background(), "u1", result.QueryLogID, model.QueryFeedback{Signal: "positive"})
	require.NoError(t, err)

	// wrong owner cannot touch the entry
	err = svc.SubmitFeedback(context.Background(), "u2", result.QueryLogID, model.QueryFeedback{Signal: "negative"})
	require.ErrorIs(t, err, appErr.ErrNotFound)

	err = svc.SubmitFeedback(context.Background(), "u1", "missing-id", model.QueryFeedback{Signal: "negative"})
	require.ErrorIs(t, err, appErr.ErrNotFound)

	err = svc.SubmitFeedback(context.Background(), "u1", result.QueryLogID, model.QueryFeedback{Signal: "meh"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestListQueryLogs(t *testing.T) {
	logs := newFakeLogStore()
	svc := newTestService(t, logs)

	result, err := svc.Retrieve(context.Background(), "u1", "", "query", retrieval.Options{})
	require.NoError(t, err)
	<-logs.done

	entries, err := svc.ListQueryLogs(context.Background(), "u1", 0, 10, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = svc.ListQueryLogs(context.Background(), "u1", 0, 10, true)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.NoError(t, svc.SubmitFeedback(context.Background(), "u1", result.QueryLogID, model.QueryFeedback{Signal: "positive"}))
	entries, err = svc.ListQueryLogs(context.Background(), "u1", 0, 10, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = svc.ListQueryLogs(context.Background(), "", 0, 10, false)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
