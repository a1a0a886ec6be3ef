package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/retrieval"
)

const defaultLogTimeout = 3 * time.Second

// QueryLogStore is the persistence capability behind query telemetry.
type QueryLogStore interface {
	Record(ctx context.Context, entry *model.QueryLogEntry) (string, error)
	AttachFeedback(ctx context.Context, userID, id string, feedback model.QueryFeedback) error
	ListForUser(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error)
	ListWithFeedback(ctx context.Context, userID string, since int64, limit uint) ([]model.QueryLogEntry, error)
}

// RetrievalService wraps the retrieval engine with query logging. Logging
// is fire-and-forget: it never delays or fails the retrieval response.
type RetrievalService struct {
	engine *retrieval.Engine
	logs   QueryLogStore

	logTimeout time.Duration
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewRetrievalService(engine *retrieval.Engine, logs QueryLogStore, logTimeout time.Duration) *RetrievalService {
	if logTimeout <= 0 {
		logTimeout = defaultLogTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetrievalService{
		engine:     engine,
		logs:       logs,
		logTimeout: logTimeout,
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// RetrieveResult pairs the engine result with the id of the query log entry
// written for it, so callers can attach feedback later.
type RetrieveResult struct {
	QueryLogID  string                `json:"query_log_id"`
	Candidates  []retrieval.Candidate `json:"candidates"`
	Diagnostics retrieval.Diagnostics `json:"diagnostics"`
}

// Retrieve runs the pipeline and records the call asynchronously. The log
// id is allocated up front so the response can reference the entry even
// though the write has not landed yet.
func (s *RetrievalService) Retrieve(ctx context.Context, userID, conversationID, query string, opts retrieval.Options) (*RetrieveResult, error) {
	result, err := s.engine.Retrieve(ctx, userID, query, opts)
	if err != nil {
		return nil, err
	}
	logID := uuid.NewString()
	s.recordAsync(ctx, &model.QueryLogEntry{
		ID:              logID,
		UserID:          userID,
		ConversationID:  conversationID,
		Query:           query,
		Hybrid:          opts.EnableHybrid,
		HyDE:            opts.EnableHyDE,
		MultiQuery:      opts.EnableMultiQuery,
		Rerank:          opts.EnableRerank,
		QueryEmbedMs:    result.Diagnostics.QueryEmbedMs,
		VectorSearchMs:  result.Diagnostics.VectorSearchMs,
		LexicalSearchMs: result.Diagnostics.LexicalSearchMs,
		RerankMs:        result.Diagnostics.RerankMs,
		TotalMs:         result.Diagnostics.TotalMs,
		RetrievedCount:  result.Diagnostics.RetrievedCount,
		ReturnedCount:   result.Diagnostics.ReturnedCount,
		AvgSimilarity:   result.Diagnostics.AvgSimilarity,
		TopSimilarity:   result.Diagnostics.TopSimilarity,
		AvgBM25:         result.Diagnostics.AvgBM25,
		AvgRerankScore:  result.Diagnostics.AvgRerankScore,
	})
	return &RetrieveResult{
		QueryLogID:  logID,
		Candidates:  result.Candidates,
		Diagnostics: result.Diagnostics,
	}, nil
}

// recordAsync writes the entry on a goroutine scoped to the service, not
// the request: the write survives the caller's deadline but not shutdown.
func (s *RetrievalService) recordAsync(ctx context.Context, entry *model.QueryLogEntry) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", entry.UserID), zap.String("log_id", entry.ID))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wctx, cancel := context.WithTimeout(s.baseCtx, s.logTimeout)
		defer cancel()
		if _, err := s.logs.Record(wctx, entry); err != nil {
			logger.Error("failed to record query log", zap.Error(err))
		}
	}()
}

// SubmitFeedback attaches user feedback to one of the caller's own entries.
func (s *RetrievalService) SubmitFeedback(ctx context.Context, userID, logID string, feedback model.QueryFeedback) error {
	if feedback.Signal != "positive" && feedback.Signal != "negative" {
		return fmt.Errorf("%w: feedback signal must be positive or negative", appErr.ErrInvalid)
	}
	return s.logs.AttachFeedback(ctx, userID, logID, feedback)
}

func (s *RetrievalService) ListQueryLogs(ctx context.Context, userID string, since int64, limit uint, onlyFeedback bool) ([]model.QueryLogEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	if onlyFeedback {
		return s.logs.ListWithFeedback(ctx, userID, since, limit)
	}
	return s.logs.ListForUser(ctx, userID, since, limit)
}

// Close waits for in-flight log writes, bounded by the log timeout.
func (s *RetrievalService) Close() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.logTimeout):
	}
	s.cancel()
}
