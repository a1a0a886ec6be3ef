package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/model"
	appErr "github.com/xxxsen/recall/internal/pkg/errors"
	"github.com/xxxsen/recall/internal/pkg/timeutil"
)

// Engine runs the retrieval pipeline: embed, expand, search the dense and
// lexical signals in parallel, fuse by reciprocal rank, optionally rerank.
// It is stateless between calls; the chunk store is the only shared state.
type Engine struct {
	store     ChunkStore
	embedder  ai.IEmbedder
	generator ai.IGenerator
	reranker  ai.IReranker
	cfg       Config
}

func NewEngine(store ChunkStore, embedder ai.IEmbedder, generator ai.IGenerator, reranker ai.IReranker, cfg Config) *Engine {
	return &Engine{
		store:     store,
		embedder:  embedder,
		generator: generator,
		reranker:  reranker,
		cfg:       cfg,
	}
}

func (e *Engine) normalize(opts Options) Options {
	if opts.TopK <= 0 {
		opts.TopK = e.cfg.TopK
	}
	if opts.SimilarityThreshold == nil {
		threshold := e.cfg.SimilarityThreshold
		opts.SimilarityThreshold = &threshold
	} else if *opts.SimilarityThreshold < 0 {
		threshold := 0.0
		opts.SimilarityThreshold = &threshold
	}
	if opts.MultiQueryCount <= 0 {
		opts.MultiQueryCount = e.cfg.MultiQueryCount
	}
	if opts.MultiQueryCount > 5 {
		opts.MultiQueryCount = 5
	}
	if opts.RerankTopM <= 0 {
		opts.RerankTopM = e.cfg.RerankTopM
	}
	if opts.Deadline <= 0 {
		opts.Deadline = e.cfg.Deadline
	}
	return opts
}

// Retrieve turns a query into a ranked, de-duplicated set of chunks scoped
// to one user. It fails only when the query embedding fails or every search
// branch fails; any other partial failure degrades and is recorded in the
// diagnostics.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, opts Options) (*Result, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", appErr.ErrInvalid)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	opts = e.normalize(opts)
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID))

	var diag Diagnostics

	embStart := time.Now()
	queryVec, err := e.embed(ctx, query)
	diag.QueryEmbedMs = timeutil.SinceMilli(embStart)
	if err != nil {
		// no signal can run without the query embedding
		return nil, fmt.Errorf("%w: embed query: %v", appErr.ErrUnavailable, err)
	}

	hydeText, paraphrases := e.expand(ctx, query, opts, &diag, logger)

	branches, failed := e.runBranches(ctx, userID, query, queryVec, hydeText, paraphrases, opts, &diag, logger)
	diag.FailedBranches = failed
	if len(branches) == 0 {
		return nil, fmt.Errorf("%w: all search branches failed", appErr.ErrUnavailable)
	}

	fillQualityMetrics(branches, &diag)
	candidates := fuseRRF(branches, e.cfg.RRFK)

	if opts.EnableRerank && e.reranker != nil && len(candidates) > 0 {
		rerankStart := time.Now()
		rctx, cancel := context.WithTimeout(ctx, e.cfg.RerankTimeout)
		reranked, avgScore, err := e.rerankCandidates(rctx, query, candidates, opts.RerankTopM)
		cancel()
		diag.RerankMs = timeutil.SinceMilli(rerankStart)
		if err != nil {
			// rerank is a quality enhancement, not a correctness requirement
			logger.Warn("rerank skipped", zap.Error(err))
			diag.RerankSkipped = true
		} else {
			candidates = reranked
			diag.AvgRerankScore = avgScore
		}
	}

	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}
	diag.ReturnedCount = len(candidates)
	diag.TotalMs = timeutil.SinceMilli(start)
	logger.Debug("retrieval completed",
		zap.Int("retrieved", diag.RetrievedCount),
		zap.Int("returned", diag.ReturnedCount),
		zap.Int64("total_ms", diag.TotalMs),
	)
	return &Result{Candidates: candidates, Diagnostics: diag}, nil
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.EmbedTimeout)
		defer cancel()
	}
	return e.embedder.Embed(ctx, text, "RETRIEVAL_QUERY")
}

// expand runs the enabled expansion generations concurrently. A failed or
// timed-out expansion degrades to "no extra candidates from this path".
func (e *Engine) expand(ctx context.Context, query string, opts Options, diag *Diagnostics, logger *zap.Logger) (string, []string) {
	wantHyDE := opts.EnableHyDE && e.generator != nil
	wantMulti := opts.EnableMultiQuery && e.generator != nil
	if opts.EnableHyDE && e.generator == nil {
		diag.HyDEDegraded = true
	}
	if opts.EnableMultiQuery && e.generator == nil {
		diag.MultiQueryDegraded = true
	}
	if !wantHyDE && !wantMulti {
		return "", nil
	}
	expStart := time.Now()
	var hydeText string
	var hydeErr error
	var paraphrases []string
	var multiErr error
	var g errgroup.Group
	if wantHyDE {
		g.Go(func() error {
			gctx, cancel := context.WithTimeout(ctx, e.cfg.ExpandTimeout)
			defer cancel()
			hydeText, hydeErr = e.generateHyDE(gctx, query)
			return nil
		})
	}
	if wantMulti {
		g.Go(func() error {
			gctx, cancel := context.WithTimeout(ctx, e.cfg.ExpandTimeout)
			defer cancel()
			paraphrases, multiErr = e.generateParaphrases(gctx, query, opts.MultiQueryCount)
			return nil
		})
	}
	_ = g.Wait()
	diag.ExpandMs = timeutil.SinceMilli(expStart)
	if wantHyDE && hydeErr != nil {
		logger.Warn("hyde generation degraded", zap.Error(hydeErr))
		diag.HyDEDegraded = true
		hydeText = ""
	}
	if wantMulti && multiErr != nil {
		logger.Warn("multi-query generation degraded", zap.Error(multiErr))
		diag.MultiQueryDegraded = true
		paraphrases = nil
	}
	return hydeText, paraphrases
}

// runBranches fans out every search signal under the shared deadline and
// waits for all of them; fusion never starts on a partial set.
func (e *Engine) runBranches(ctx context.Context, userID, query string, queryVec []float32, hydeText string, paraphrases []string, opts Options, diag *Diagnostics, logger *zap.Logger) ([]branchOutput, []string) {
	type branchResult struct {
		source    string
		items     []model.ScoredChunk
		elapsedMs int64
		dense     bool
		err       error
	}

	var fns []func() branchResult
	denseSearch := func(source string, vec []float32) branchResult {
		branchStart := time.Now()
		sctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
		defer cancel()
		items, err := e.store.Search(sctx, vec, userID, opts.TopK, *opts.SimilarityThreshold)
		return branchResult{source: source, items: items, elapsedMs: timeutil.SinceMilli(branchStart), dense: true, err: err}
	}

	fns = append(fns, func() branchResult {
		return denseSearch(SourceVector, queryVec)
	})
	if hydeText != "" {
		fns = append(fns, func() branchResult {
			branchStart := time.Now()
			ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
			vec, err := e.embedder.Embed(ectx, hydeText, "RETRIEVAL_QUERY")
			cancel()
			if err != nil {
				return branchResult{source: SourceHyDE, elapsedMs: timeutil.SinceMilli(branchStart), dense: true, err: err}
			}
			res := denseSearch(SourceHyDE, vec)
			res.elapsedMs = timeutil.SinceMilli(branchStart)
			return res
		})
	}
	for _, paraphrase := range paraphrases {
		variant := paraphrase
		fns = append(fns, func() branchResult {
			branchStart := time.Now()
			ectx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
			vec, err := e.embedder.Embed(ectx, variant, "RETRIEVAL_QUERY")
			cancel()
			if err != nil {
				return branchResult{source: SourceMultiQuery, elapsedMs: timeutil.SinceMilli(branchStart), dense: true, err: err}
			}
			res := denseSearch(SourceMultiQuery, vec)
			res.elapsedMs = timeutil.SinceMilli(branchStart)
			return res
		})
	}
	if opts.EnableHybrid {
		fns = append(fns, func() branchResult {
			branchStart := time.Now()
			sctx, cancel := context.WithTimeout(ctx, e.cfg.SearchTimeout)
			defer cancel()
			corpus, err := e.store.ListByUser(sctx, userID)
			if err != nil {
				return branchResult{source: SourceLexical, elapsedMs: timeutil.SinceMilli(branchStart), err: err}
			}
			items := searchLexical(corpus, query, e.cfg.BM25K1, e.cfg.BM25B, e.cfg.LexicalTopN)
			return branchResult{source: SourceLexical, items: items, elapsedMs: timeutil.SinceMilli(branchStart)}
		})
	}

	results := make([]branchResult, len(fns))
	var g errgroup.Group
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			results[i] = fn()
			return nil
		})
	}
	_ = g.Wait()

	var outputs []branchOutput
	var failed []string
	for _, res := range results {
		if res.dense && res.elapsedMs > diag.VectorSearchMs {
			diag.VectorSearchMs = res.elapsedMs
		}
		if res.source == SourceLexical {
			diag.LexicalSearchMs = res.elapsedMs
		}
		if res.source == SourceHyDE && res.err == nil {
			diag.HyDEMs = res.elapsedMs
		}
		if res.err != nil {
			logger.Warn("search branch degraded", zap.String("source", res.source), zap.Error(res.err))
			failed = append(failed, res.source)
			switch res.source {
			case SourceHyDE:
				diag.HyDEDegraded = true
			case SourceMultiQuery:
				diag.MultiQueryDegraded = true
			}
			continue
		}
		outputs = append(outputs, branchOutput{source: res.source, items: res.items})
	}
	return outputs, failed
}

// fillQualityMetrics aggregates the raw per-signal scores for telemetry.
func fillQualityMetrics(branches []branchOutput, diag *Diagnostics) {
	var simSum, bm25Sum float64
	var simCount, bm25Count int
	for _, branch := range branches {
		diag.RetrievedCount += len(branch.items)
		for _, item := range branch.items {
			if branch.source == SourceLexical {
				bm25Sum += item.Score
				bm25Count++
				continue
			}
			simSum += item.Score
			simCount++
			if item.Score > diag.TopSimilarity {
				diag.TopSimilarity = item.Score
			}
		}
	}
	if simCount > 0 {
		diag.AvgSimilarity = simSum / float64(simCount)
	}
	if bm25Count > 0 {
		diag.AvgBM25 = bm25Sum / float64(bm25Count)
	}
}
