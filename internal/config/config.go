package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Database  DatabaseConfig   `json:"database"`
	Port      int              `json:"port"`
	LogConfig logger.LogConfig `json:"log_config"`
	AI        AIConfig         `json:"ai"`
	Retrieval RetrievalConfig  `json:"retrieval"`
	Index     IndexConfig      `json:"index"`
	Cache     CacheConfig      `json:"cache"`
	FileStore FileStoreConfig  `json:"file_store"`
	Jobs      JobsConfig       `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type AIConfig struct {
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	EmbedProvider  string      `json:"embed_provider"`
	EmbedModel     string      `json:"embed_model"`
	RerankProvider string      `json:"rerank_provider"`
	RerankModel    string      `json:"rerank_model"`
	Timeout        int         `json:"timeout"`
	Data           interface{} `json:"data"`
}

// RetrievalConfig carries the pipeline defaults. Threshold and BM25
// parameters are policy knobs, kept in config rather than code.
type RetrievalConfig struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	LexicalTopN         int     `json:"lexical_top_n"`
	BM25K1              float64 `json:"bm25_k1"`
	BM25B               float64 `json:"bm25_b"`
	RRFK                float64 `json:"rrf_k"`
	MultiQueryCount     int     `json:"multi_query_count"`
	RerankTopM          int     `json:"rerank_top_m"`
	DeadlineSeconds     int     `json:"deadline_seconds"`
	EmbedTimeoutSecs    int     `json:"embed_timeout_seconds"`
	SearchTimeoutSecs   int     `json:"search_timeout_seconds"`
	ExpandTimeoutSecs   int     `json:"expand_timeout_seconds"`
	RerankTimeoutSecs   int     `json:"rerank_timeout_seconds"`
	LogTimeoutSecs      int     `json:"log_timeout_seconds"`
}

type IndexConfig struct {
	EmbeddingDim   int `json:"embedding_dim"`
	ChunkMaxTokens int `json:"chunk_max_tokens"`
	OverlapTokens  int `json:"overlap_tokens"`
}

type CacheConfig struct {
	LRUSize       int  `json:"lru_size"`
	LRUTTLMinutes int  `json:"lru_ttl_minutes"`
	EnableDB      bool `json:"enable_db"`
	DBTTLDays     int  `json:"db_ttl_days"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type JobsConfig struct {
	CacheCleanupSpec string `json:"cache_cleanup_spec"`
	QueryLogExport   string `json:"query_log_export_spec"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.AI.EmbedProvider == "" || cfg.AI.EmbedModel == "" {
		return nil, fmt.Errorf("ai.embed_provider and ai.embed_model are required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30
	}
	if cfg.Index.EmbeddingDim == 0 {
		cfg.Index.EmbeddingDim = 768
	}
	if cfg.Index.ChunkMaxTokens == 0 {
		cfg.Index.ChunkMaxTokens = 400
	}
	if cfg.Index.OverlapTokens == 0 {
		cfg.Index.OverlapTokens = 80
	}
	applyRetrievalDefaults(&cfg.Retrieval)
	if cfg.Cache.LRUSize == 0 {
		cfg.Cache.LRUSize = 10000
	}
	if cfg.Cache.LRUTTLMinutes == 0 {
		cfg.Cache.LRUTTLMinutes = 120
	}
	if cfg.Cache.DBTTLDays == 0 {
		cfg.Cache.DBTTLDays = 30
	}
	return &cfg, nil
}

func applyRetrievalDefaults(rc *RetrievalConfig) {
	if rc.TopK == 0 {
		rc.TopK = 8
	}
	if rc.SimilarityThreshold == 0 {
		rc.SimilarityThreshold = 0.25
	}
	if rc.LexicalTopN == 0 {
		rc.LexicalTopN = 20
	}
	if rc.BM25K1 == 0 {
		rc.BM25K1 = 1.2
	}
	if rc.BM25B == 0 {
		rc.BM25B = 0.75
	}
	if rc.RRFK == 0 {
		rc.RRFK = 60
	}
	if rc.MultiQueryCount == 0 {
		rc.MultiQueryCount = 3
	}
	if rc.RerankTopM == 0 {
		rc.RerankTopM = 10
	}
	if rc.DeadlineSeconds == 0 {
		rc.DeadlineSeconds = 30
	}
	if rc.EmbedTimeoutSecs == 0 {
		rc.EmbedTimeoutSecs = 10
	}
	if rc.SearchTimeoutSecs == 0 {
		rc.SearchTimeoutSecs = 10
	}
	if rc.ExpandTimeoutSecs == 0 {
		rc.ExpandTimeoutSecs = 10
	}
	if rc.RerankTimeoutSecs == 0 {
		rc.RerankTimeoutSecs = 10
	}
	if rc.LogTimeoutSecs == 0 {
		rc.LogTimeoutSecs = 3
	}
}
