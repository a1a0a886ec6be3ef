package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultJinaBaseURL = "https://api.jina.ai/v1"

type jinaConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type jinaRerankProvider struct {
	apiKey  string
	baseURL string
}

type jinaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type jinaRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (p *jinaRerankProvider) Name() string {
	return "jina"
}

// Rerank returns one score per input document, aligned to input order.
func (p *jinaRerankProvider) Rerank(ctx context.Context, model string, query string, documents []string) ([]float64, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	if len(documents) == 0 {
		return nil, nil
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/rerank"
	reqBody := jinaRerankRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("jina rerank failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out jinaRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	scores := make([]float64, len(documents))
	for _, result := range out.Results {
		if result.Index < 0 || result.Index >= len(scores) {
			return nil, fmt.Errorf("jina rerank returned out-of-range index %d", result.Index)
		}
		scores[result.Index] = result.RelevanceScore
	}
	return scores, nil
}

func createJinaRerankFactory(args interface{}) (IRerankProvider, error) {
	cfg := &jinaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultJinaBaseURL
	}
	return &jinaRerankProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
	}, nil
}

func init() {
	RegisterRerank("jina", createJinaRerankFactory)
}
