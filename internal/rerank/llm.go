package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ragagent/internal/domain"
)

// maxSnippet bounds how much of each candidate goes into the prompt.
const maxSnippet = 500

const llmPrompt = `Rank the following documents by how relevant they are to the query.

Query: %s

Documents:
%s
Return ONLY a JSON array with the numbers of the relevant documents, most relevant first, for example [3, 0, 7].
Leave out documents that are not relevant.`

// LLM reranks candidates by asking a chat model for a listwise order.
type LLM struct {
	model domain.LLM
}

// NewLLM returns a reranker backed by model.
func NewLLM(model domain.LLM) *LLM { return &LLM{model: model} }

// Rerank scores the model's order 1.0, 0.95, 0.90, ... (floor 0.1). Candidates
// the model leaves out follow with score 0.05 in their original order.
func (r *LLM) Rerank(ctx context.Context, query string, nodes []domain.ScoredNode, topN int) ([]domain.ScoredNode, error) {
	if len(nodes) == 0 {
		return nodes, nil
	}
	var docs strings.Builder
	for i, n := range nodes {
		fmt.Fprintf(&docs, "[%d] %s\n\n", i, snippet(n.Node.Content))
	}
	reply, err := r.model.Chat(ctx, []domain.Message{
		{Role: domain.RoleUser, Content: fmt.Sprintf(llmPrompt, sanitize(query), docs.String())},
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	order, err := parseOrder(reply, len(nodes))
	if err != nil {
		return nil, err
	}

	out := make([]domain.ScoredNode, 0, len(nodes))
	used := make([]bool, len(nodes))
	for rank, idx := range order {
		n := nodes[idx]
		n.Score = domain.Score(max(1.0-0.05*float64(rank), 0.1))
		out = append(out, n)
		used[idx] = true
	}
	for i, n := range nodes {
		if !used[i] {
			n.Score = domain.Score(0.05)
			out = append(out, n)
		}
	}
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// parseOrder reads the first JSON array in reply, dropping out-of-range and
// repeated indices.
func parseOrder(reply string, n int) ([]int, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return nil, errors.New("rerank: no JSON array in model reply")
	}
	var raw []float64
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("rerank: decode order: %w", err)
	}
	seen := make(map[int]bool, len(raw))
	order := make([]int, 0, len(raw))
	for _, f := range raw {
		i := int(f)
		if float64(i) != f || i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		order = append(order, i)
	}
	return order, nil
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxSnippet {
		return string(r[:maxSnippet]) + "..."
	}
	return s
}

// sanitize keeps the query on one line so it cannot break the prompt layout.
func sanitize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}
