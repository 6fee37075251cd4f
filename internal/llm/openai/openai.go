// Package openai is a chat completion client for OpenAI-compatible servers
// (OpenAI, Ollama, vLLM, LM Studio).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ragagent/internal/domain"
	"ragagent/internal/httpx"
)

// Config configures the chat client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// Client calls {base}/chat/completions.
type Client struct {
	url  string
	cfg  Config
	http *httpx.Client
}

// NewClient creates a chat client. A missing key is only an error against
// the public OpenAI endpoint.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" && strings.Contains(cfg.BaseURL, "api.openai.com") {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	headers := map[string]string{}
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return &Client{
		url: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		cfg: cfg,
		http: &httpx.Client{
			HTTP:       &http.Client{Timeout: cfg.Timeout},
			Headers:    headers,
			MaxRetries: cfg.MaxRetries,
		},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends messages and returns the first choice.
func (c *Client) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    make([]chatMessage, len(messages)),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	for i, m := range messages {
		req.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	payload, err := c.http.PostJSON(ctx, c.url, req)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("openai chat: decode response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("openai chat: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
