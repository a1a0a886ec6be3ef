package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
)

type fakeStore struct {
	mu            sync.Mutex
	searchResults []model.ScoredChunk
	searchErr     error
	corpus        []model.NoteChunk
	listErr       error
	searchCalls   int
	lastThreshold float64
}

func (f *fakeStore) Search(ctx context.Context, queryVec []float32, userID string, topK int, threshold float64) ([]model.ScoredChunk, error) {
	f.mu.Lock()
	f.searchCalls++
	f.lastThreshold = threshold
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults, nil
}

func (f *fakeStore) ListByUser(ctx context.Context, userID string) ([]model.NoteChunk, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.corpus, nil
}

type fakeEmbedder struct {
	err   error
	delay time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) ModelName() string    { return "fake-embed" }
func (f *fakeEmbedder) ProviderName() string { return "fake" }

type fakeGenerator struct {
	response string
	err      error
	delay    time.Duration
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type fakeReranker struct {
	scores []float64
	err    error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores, nil
	}
	scores := make([]float64, len(documents))
	for i := range scores {
		scores[i] = float64(len(documents) - i)
	}
	return scores, nil
}

func testConfig() Config {
	return Config{
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
		ExpandTimeout:       100 * time.Millisecond,
		RerankTimeout:       time.Second,
	}
}

func scored(id string, score float64) model.ScoredChunk {
	return model.ScoredChunk{
		Chunk: model.NoteChunk{ID: id, NoteID: "note-" + id, UserID: "u1", Content: "content " + id},
		Score: score,
	}
}

func TestRetrieveValidation(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, nil, nil, testConfig())

	_, err := engine.Retrieve(context.Background(), "u1", "   ", Options{})
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = engine.Retrieve(context.Background(), "", "query", Options{})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestRetrieveVectorOnly(t *testing.T) {
	store := &fakeStore{
		searchResults: []model.ScoredChunk{scored("a", 0.9), scored("b", 0.7), scored("c", 0.5)},
	}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "what did I pay", Options{})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)
	require.Equal(t, "a", result.Candidates[0].Chunk.ID)
	require.Equal(t, "b", result.Candidates[1].Chunk.ID)
	require.Equal(t, "c", result.Candidates[2].Chunk.ID)
	require.Equal(t, 3, result.Diagnostics.RetrievedCount)
	require.Equal(t, 3, result.Diagnostics.ReturnedCount)
	require.InDelta(t, 0.9, result.Diagnostics.TopSimilarity, 1e-9)
	require.InDelta(t, (0.9+0.7+0.5)/3, result.Diagnostics.AvgSimilarity, 1e-9)
	require.Empty(t, result.Diagnostics.FailedBranches)
}

func TestRetrieveEmbedFailureIsFatal(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{err: errors.New("quota exceeded")}, nil, nil, testConfig())

	_, err := engine.Retrieve(context.Background(), "u1", "query", Options{})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
}

func TestRetrieveAllBranchesFailed(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("connection refused")}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	_, err := engine.Retrieve(context.Background(), "u1", "query", Options{})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
}

func TestRetrieveHybridMergesLexical(t *testing.T) {
	store := &fakeStore{
		searchResults: []model.ScoredChunk{scored("a", 0.9)},
		corpus: []model.NoteChunk{
			{ID: "a", NoteID: "note-a", UserID: "u1", Content: "general notes"},
			{ID: "x", NoteID: "note-x", UserID: "u1", Content: "paid invoice-4471 yesterday"},
		},
	}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "invoice-4471", Options{EnableHybrid: true})
	require.NoError(t, err)

	ids := make(map[string]Candidate)
	for _, cand := range result.Candidates {
		ids[cand.Chunk.ID] = cand
	}
	require.Contains(t, ids, "a")
	require.Contains(t, ids, "x")
	require.Contains(t, ids["x"].SourceScores, SourceLexical)
	require.Contains(t, ids["a"].SourceScores, SourceVector)
}

func TestRetrieveLexicalFailureDegrades(t *testing.T) {
	store := &fakeStore{
		searchResults: []model.ScoredChunk{scored("a", 0.9)},
		listErr:       errors.New("relation does not exist"),
	}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableHybrid: true})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.Contains(t, result.Diagnostics.FailedBranches, SourceLexical)
}

func TestRetrieveHyDEFailureDegrades(t *testing.T) {
	store := &fakeStore{searchResults: []model.ScoredChunk{scored("a", 0.9)}}
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	engine := NewEngine(store, &fakeEmbedder{}, gen, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableHyDE: true})
	require.NoError(t, err)
	require.True(t, result.Diagnostics.HyDEDegraded)
	require.Len(t, result.Candidates, 1)
}

func TestRetrieveHyDETimeoutDegrades(t *testing.T) {
	store := &fakeStore{searchResults: []model.ScoredChunk{scored("a", 0.9)}}
	gen := &fakeGenerator{response: "a hypothetical answer", delay: time.Second}
	engine := NewEngine(store, &fakeEmbedder{}, gen, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableHyDE: true})
	require.NoError(t, err)
	require.True(t, result.Diagnostics.HyDEDegraded)
	require.Zero(t, result.Diagnostics.HyDEMs)
	require.Len(t, result.Candidates, 1)
}

func TestRetrieveHyDEWithoutGeneratorDegrades(t *testing.T) {
	store := &fakeStore{searchResults: []model.ScoredChunk{scored("a", 0.9)}}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableHyDE: true, EnableMultiQuery: true})
	require.NoError(t, err)
	require.True(t, result.Diagnostics.HyDEDegraded)
	require.True(t, result.Diagnostics.MultiQueryDegraded)
}

func TestRetrieveMultiQueryRunsVariants(t *testing.T) {
	store := &fakeStore{searchResults: []model.ScoredChunk{scored("a", 0.9)}}
	gen := &fakeGenerator{response: `["variant one", "variant two"]`}
	engine := NewEngine(store, &fakeEmbedder{}, gen, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableMultiQuery: true})
	require.NoError(t, err)
	require.False(t, result.Diagnostics.MultiQueryDegraded)
	// literal branch plus two paraphrase branches
	require.Equal(t, 3, store.searchCalls)
	require.Contains(t, result.Candidates[0].SourceScores, SourceVector)
}

func TestRetrieveRerankReorders(t *testing.T) {
	store := &fakeStore{
		searchResults: []model.ScoredChunk{scored("a", 0.9), scored("b", 0.7), scored("c", 0.5)},
	}
	reranker := &fakeReranker{scores: []float64{0.1, 0.9, 0.5}}
	engine := NewEngine(store, &fakeEmbedder{}, nil, reranker, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableRerank: true})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 3)
	require.Equal(t, "b", result.Candidates[0].Chunk.ID)
	require.Equal(t, "c", result.Candidates[1].Chunk.ID)
	require.Equal(t, "a", result.Candidates[2].Chunk.ID)
	require.True(t, result.Candidates[0].Reranked)
	require.False(t, result.Diagnostics.RerankSkipped)
	require.InDelta(t, 0.5, result.Diagnostics.AvgRerankScore, 1e-9)
}

func TestRetrieveRerankFailureKeepsFusedOrder(t *testing.T) {
	store := &fakeStore{
		searchResults: []model.ScoredChunk{scored("a", 0.9), scored("b", 0.7)},
	}
	reranker := &fakeReranker{err: errors.New("rerank backend down")}
	engine := NewEngine(store, &fakeEmbedder{}, nil, reranker, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{EnableRerank: true})
	require.NoError(t, err)
	require.True(t, result.Diagnostics.RerankSkipped)
	require.Equal(t, "a", result.Candidates[0].Chunk.ID)
	require.Equal(t, "b", result.Candidates[1].Chunk.ID)
	require.False(t, result.Candidates[0].Reranked)
}

func TestRetrieveCapsAtTopK(t *testing.T) {
	var items []model.ScoredChunk
	for i := 0; i < 20; i++ {
		items = append(items, scored(fmt.Sprintf("c%02d", i), 0.9-float64(i)*0.01))
	}
	store := &fakeStore{searchResults: items}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{TopK: 5})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 5)
	require.Equal(t, 5, result.Diagnostics.ReturnedCount)
	require.Equal(t, 20, result.Diagnostics.RetrievedCount)
}

func TestNormalizeCapsMultiQueryCount(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, nil, nil, testConfig())
	opts := engine.normalize(Options{MultiQueryCount: 12})
	require.Equal(t, 5, opts.MultiQueryCount)

	opts = engine.normalize(Options{})
	require.Equal(t, 8, opts.TopK)
	require.NotNil(t, opts.SimilarityThreshold)
	require.InDelta(t, 0.25, *opts.SimilarityThreshold, 1e-9)
	require.Equal(t, 3, opts.MultiQueryCount)
	require.Equal(t, 10, opts.RerankTopM)
}

func TestNormalizeThresholdSentinels(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, nil, nil, testConfig())

	zero := 0.0
	opts := engine.normalize(Options{SimilarityThreshold: &zero})
	require.Zero(t, *opts.SimilarityThreshold)

	negative := -0.5
	opts = engine.normalize(Options{SimilarityThreshold: &negative})
	require.Zero(t, *opts.SimilarityThreshold)
}

func TestRetrieveExplicitZeroThreshold(t *testing.T) {
	store := &fakeStore{searchResults: []model.ScoredChunk{scored("a", 0.1)}}
	engine := NewEngine(store, &fakeEmbedder{}, nil, nil, testConfig())

	result, err := engine.Retrieve(context.Background(), "u1", "query", Options{})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.InDelta(t, 0.25, store.lastThreshold, 1e-9)

	zero := 0.0
	result, err = engine.Retrieve(context.Background(), "u1", "query", Options{SimilarityThreshold: &zero})
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	require.Zero(t, store.lastThreshold)
}
