package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/recall/internal/ai"
	"github.com/xxxsen/recall/internal/config"
	"github.com/xxxsen/recall/internal/db"
	"github.com/xxxsen/recall/internal/embedcache"
	"github.com/xxxsen/recall/internal/filestore"
	"github.com/xxxsen/recall/internal/handler"
	"github.com/xxxsen/recall/internal/job"
	"github.com/xxxsen/recall/internal/middleware"
	"github.com/xxxsen/recall/internal/repo"
	"github.com/xxxsen/recall/internal/retrieval"
	"github.com/xxxsen/recall/internal/schedule"
	"github.com/xxxsen/recall/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "recall retrieval server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run recall server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.AI.EmbedProvider, providerArgs)
	if err != nil {
		return nil, fmt.Errorf("init embed provider: %w", err)
	}
	embedder := ai.NewEmbedder(embedProvider, cfg.AI.EmbedModel)
	if cfg.Cache.EnableDB && cacheRepo != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(
		embedder,
		cfg.Cache.LRUSize,
		time.Duration(cfg.Cache.LRUTTLMinutes)*time.Minute,
	)
	return embedder, nil
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("embed_provider", cfg.AI.EmbedProvider),
		zap.String("embed_model", cfg.AI.EmbedModel),
	)

	chunkRepo := repo.NewChunkRepo(database, cfg.Index.EmbeddingDim)
	queryLogRepo := repo.NewQueryLogRepo(database)
	cacheRepo := repo.NewEmbeddingCacheRepo(database)

	embedder, err := buildEmbedder(cfg, cacheRepo)
	if err != nil {
		return err
	}

	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	var generator ai.IGenerator
	if cfg.AI.Provider != "" {
		provider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
		if err != nil {
			return fmt.Errorf("init ai provider: %w", err)
		}
		generator = ai.NewGenerator(provider, cfg.AI.Model)
	}
	var reranker ai.IReranker
	if cfg.AI.RerankProvider != "" {
		provider, err := ai.NewRerankProvider(cfg.AI.RerankProvider, providerArgs)
		if err != nil {
			return fmt.Errorf("init rerank provider: %w", err)
		}
		reranker = ai.NewReranker(provider, cfg.AI.RerankModel)
	}

	rc := cfg.Retrieval
	engine := retrieval.NewEngine(chunkRepo, embedder, generator, reranker, retrieval.Config{
		TopK:                rc.TopK,
		SimilarityThreshold: rc.SimilarityThreshold,
		LexicalTopN:         rc.LexicalTopN,
		BM25K1:              rc.BM25K1,
		BM25B:               rc.BM25B,
		RRFK:                rc.RRFK,
		MultiQueryCount:     rc.MultiQueryCount,
		RerankTopM:          rc.RerankTopM,
		Deadline:            time.Duration(rc.DeadlineSeconds) * time.Second,
		EmbedTimeout:        time.Duration(rc.EmbedTimeoutSecs) * time.Second,
		SearchTimeout:       time.Duration(rc.SearchTimeoutSecs) * time.Second,
		ExpandTimeout:       time.Duration(rc.ExpandTimeoutSecs) * time.Second,
		RerankTimeout:       time.Duration(rc.RerankTimeoutSecs) * time.Second,
	})

	chunker := ai.NewChunker(cfg.Index.ChunkMaxTokens, cfg.Index.OverlapTokens)
	indexService := service.NewIndexService(chunkRepo, embedder, chunker)
	retrievalService := service.NewRetrievalService(engine, queryLogRepo, time.Duration(rc.LogTimeoutSecs)*time.Second)
	defer retrievalService.Close()

	deps := handler.RouterDeps{
		Retrieval: handler.NewRetrievalHandler(retrievalService),
		Index:     handler.NewIndexHandler(indexService),
	}

	engineHTTP, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if cfg.Jobs.CacheCleanupSpec != "" {
		cleanup := job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.Cache.DBTTLDays)
		if err := scheduler.AddJob(cleanup, cfg.Jobs.CacheCleanupSpec); err != nil {
			return err
		}
	}
	if cfg.Jobs.QueryLogExport != "" {
		store, err := filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
		export := job.NewQueryLogExportJob(queryLogRepo, store)
		if err := scheduler.AddJob(export, cfg.Jobs.QueryLogExport); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engineHTTP.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
