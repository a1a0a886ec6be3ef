package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnavailable = errors.New("ai provider unavailable")

// IAIProvider is a text generation backend.
type IAIProvider interface {
	Name() string
	Generate(ctx context.Context, model string, prompt string) (string, error)
}

// IEmbedProvider produces embedding vectors.
type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
}

// IRerankProvider scores (query, document) pairs with a cross-encoder.
type IRerankProvider interface {
	Name() string
	Rerank(ctx context.Context, model string, query string, documents []string) ([]float64, error)
}

// IGenerator binds a generation provider to a model name.
type IGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IEmbedder binds an embedding provider to a model name.
type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
	ProviderName() string
}

// IReranker binds a rerank provider to a model name.
type IReranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

type generator struct {
	provider IAIProvider
	model    string
}

func NewGenerator(p IAIProvider, model string) IGenerator {
	return &generator{provider: p, model: model}
}

func (g *generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.provider.Generate(ctx, g.model, prompt)
}

type embedder struct {
	provider IEmbedProvider
	model    string
}

func NewEmbedder(p IEmbedProvider, model string) IEmbedder {
	return &embedder{provider: p, model: model}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return e.provider.Embed(ctx, e.model, text, taskType)
}

func (e *embedder) ModelName() string {
	return e.model
}

func (e *embedder) ProviderName() string {
	return e.provider.Name()
}

type reranker struct {
	provider IRerankProvider
	model    string
}

func NewReranker(p IRerankProvider, model string) IReranker {
	return &reranker{provider: p, model: model}
}

func (r *reranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	return r.provider.Rerank(ctx, r.model, query, documents)
}

type AIFactory func(args interface{}) (IAIProvider, error)

type EmbedFactory func(args interface{}) (IEmbedProvider, error)

type RerankFactory func(args interface{}) (IRerankProvider, error)

var (
	registry       = map[string]AIFactory{}
	embedRegistry  = map[string]EmbedFactory{}
	rerankRegistry = map[string]RerankFactory{}
)

func Register(name string, factory AIFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func RegisterEmbed(name string, factory EmbedFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func RegisterRerank(name string, factory RerankFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	rerankRegistry[key] = factory
}

func NewProvider(name string, args interface{}) (IAIProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai.embed_provider is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func NewRerankProvider(name string, args interface{}) (IRerankProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai.rerank_provider is required")
	}
	factory := rerankRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported rerank provider: %s", name)
	}
	return factory(args)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode provider config: %w", err)
	}
	return nil
}
