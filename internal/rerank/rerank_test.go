package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
)

type cannedLLM struct {
	reply  string
	err    error
	prompt string
}

func (c *cannedLLM) Chat(ctx context.Context, msgs []domain.Message) (string, error) {
	c.prompt = msgs[len(msgs)-1].Content
	return c.reply, c.err
}

func candidates(n int) []domain.ScoredNode {
	out := make([]domain.ScoredNode, n)
	for i := range out {
		out[i] = domain.ScoredNode{Node: domain.Node{ID: fmt.Sprint(i), Content: fmt.Sprintf("doc %d", i)}}
	}
	return out
}

func nodeIDs(nodes []domain.ScoredNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Node.ID
	}
	return out
}

func TestLLMRerankOrderAndScores(t *testing.T) {
	llm := &cannedLLM{reply: "Sure, here you go: [2, 0, 2, 9, 1.5]"}
	got, err := NewLLM(llm).Rerank(context.Background(), "payload\nof arm", candidates(4), 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "0", "1", "3"}, nodeIDs(got))
	assert.InDelta(t, 1.0, *got[0].Score, 1e-9)
	assert.InDelta(t, 0.95, *got[1].Score, 1e-9)
	assert.InDelta(t, 0.05, *got[2].Score, 1e-9)
	assert.Contains(t, llm.prompt, "Query: payload of arm")
	assert.Contains(t, llm.prompt, "[3] doc 3")
}

func TestLLMRerankTruncatesAndFails(t *testing.T) {
	got, err := NewLLM(&cannedLLM{reply: "[1, 0]"}).Rerank(context.Background(), "q", candidates(5), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "0", "2"}, nodeIDs(got))

	_, err = NewLLM(&cannedLLM{reply: "no idea"}).Rerank(context.Background(), "q", candidates(2), 3)
	assert.Error(t, err)

	_, err = NewLLM(&cannedLLM{err: errors.New("quota")}).Rerank(context.Background(), "q", candidates(2), 3)
	assert.ErrorContains(t, err, "quota")
}

func TestHTTPRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		var req httpRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-reranker", req.Model)
		assert.Equal(t, []string{"doc 0", "doc 1", "doc 2"}, req.Documents)
		assert.Equal(t, 2, req.TopN)
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.4},{"index":7,"relevance_score":0.1}]}`))
	}))
	defer srv.Close()

	rr, err := NewHTTP(HTTPConfig{BaseURL: srv.URL + "/v1", Model: "bge-reranker"})
	require.NoError(t, err)
	got, err := rr.Rerank(context.Background(), "q", candidates(3), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "0"}, nodeIDs(got))
	assert.InDelta(t, 0.9, *got[0].Score, 1e-9)
}

func TestNoOp(t *testing.T) {
	got, err := NoOp{}.Rerank(context.Background(), "q", candidates(4), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, nodeIDs(got))
	assert.Greater(t, *got[0].Score, *got[1].Score)
}
