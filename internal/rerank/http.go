package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ragagent/internal/domain"
	"ragagent/internal/httpx"
)

// HTTPConfig configures a cross-encoder rerank endpoint.
type HTTPConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// HTTP calls a cross-encoder service speaking the common /rerank shape
// (Jina, Cohere, text-embeddings-inference).
type HTTP struct {
	url   string
	model string
	http  *httpx.Client
}

// NewHTTP creates a cross-encoder client.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rerank base_url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	headers := map[string]string{}
	if cfg.APIKeyEnv != "" {
		if key := os.Getenv(cfg.APIKeyEnv); key != "" {
			headers["Authorization"] = "Bearer " + key
		}
	}
	return &HTTP{
		url:   strings.TrimRight(cfg.BaseURL, "/") + "/rerank",
		model: cfg.Model,
		http:  &httpx.Client{HTTP: &http.Client{Timeout: cfg.Timeout}, Headers: headers, MaxRetries: 3},
	}, nil
}

type httpRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type httpResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends every candidate to the service and returns them in the
// service's order with its relevance scores.
func (h *HTTP) Rerank(ctx context.Context, query string, nodes []domain.ScoredNode, topN int) ([]domain.ScoredNode, error) {
	if len(nodes) == 0 {
		return nodes, nil
	}
	docs := make([]string, len(nodes))
	for i, n := range nodes {
		docs[i] = n.Node.Content
	}
	payload, err := h.http.PostJSON(ctx, h.url, httpRequest{Model: h.model, Query: query, Documents: docs, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	var resp httpResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("rerank: decode response: %w", err)
	}
	out := make([]domain.ScoredNode, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(nodes) {
			continue
		}
		n := nodes[r.Index]
		n.Score = domain.Score(r.RelevanceScore)
		out = append(out, n)
	}
	return out, nil
}

// NoOp keeps the incoming order and assigns descending synthetic scores.
type NoOp struct{}

func (NoOp) Rerank(ctx context.Context, query string, nodes []domain.ScoredNode, topN int) ([]domain.ScoredNode, error) {
	out := make([]domain.ScoredNode, 0, len(nodes))
	for i, n := range nodes {
		if topN > 0 && i >= topN {
			break
		}
		n.Score = domain.Score(1.0 / float64(i+1))
		out = append(out, n)
	}
	return out, nil
}
