// Package gemini is a chat client for the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"ragagent/internal/domain"
)

// Config configures the Gemini chat client.
type Config struct {
	APIKeyEnv   string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Client calls Models.GenerateContent.
type Client struct {
	client *genai.Client
	cfg    Config
}

// New creates a Gemini chat client. The key is read from cfg.APIKeyEnv.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, cfg: cfg}, nil
}

// Chat sends messages and returns the concatenated text of the first
// candidate.
func (c *Client) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	contents, system := buildRequest(messages)
	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, c.buildConfig(system))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}
	return responseText(resp)
}

func (c *Client) buildConfig(system *genai.Content) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       genai.Ptr(float32(c.cfg.Temperature)),
	}
	if c.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	return config
}

// buildRequest maps chat messages onto Gemini contents. System messages are
// merged into the system instruction; assistant turns use the "model" role.
func buildRequest(messages []domain.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var system []string
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if len(system) == 0 {
		return contents, nil
	}
	return contents, &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: no candidates returned")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
