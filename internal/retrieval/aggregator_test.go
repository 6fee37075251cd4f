package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
)

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *fakeEmbedder) Name() string { return "fake" }
func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}
func (e *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return e.EmbedQuery(ctx, text)
}

type fakeStore struct {
	name  string
	n     int
	err   error
	delay time.Duration
	last  domain.VectorQuery
}

func (s *fakeStore) Name() string { return s.name }

func (s *fakeStore) Query(ctx context.Context, q domain.VectorQuery) ([]domain.ScoredNode, error) {
	s.last = q
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	n := s.n
	if q.TopK < n {
		n = q.TopK
	}
	out := make([]domain.ScoredNode, n)
	for i := range out {
		out[i] = domain.ScoredNode{
			Node:  domain.Node{ID: fmt.Sprintf("%s-%d", s.name, i), Content: fmt.Sprintf("%s chunk %d", s.name, i)},
			Score: domain.Score(1 - float64(i)*0.01),
		}
	}
	return out, nil
}

func ids(nodes []domain.ScoredNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Node.ID
	}
	return out
}

// reverseReranker scores later candidates higher.
type reverseReranker struct{ err error }

func (r reverseReranker) Rerank(ctx context.Context, query string, nodes []domain.ScoredNode, topN int) ([]domain.ScoredNode, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]domain.ScoredNode, len(nodes))
	for i, n := range nodes {
		n.Score = domain.Score(float64(i))
		out[i] = n
	}
	return out, nil
}

func TestRetrieveQuotaPerStore(t *testing.T) {
	emb := &fakeEmbedder{}
	stores := []domain.VectorStore{
		&fakeStore{name: "a", n: 6},
		&fakeStore{name: "b", n: 5},
		&fakeStore{name: "c", n: 8},
	}
	agg := New(emb)

	got, err := agg.Retrieve(context.Background(), Request{Query: "payload", Stores: stores, TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0", "a-1", "a-2", "b-0", "b-1", "b-2", "c-0", "c-1", "c-2"}, ids(got))
	assert.EqualValues(t, 1, emb.calls.Load())
	for _, s := range stores {
		assert.Equal(t, 10, s.(*fakeStore).last.TopK)
		assert.Equal(t, domain.QueryModeDefault, s.(*fakeStore).last.Mode)
	}
	assert.Equal(t, "b", got[3].Node.Metadata[domain.MetaCollection])
}

func TestRetrieveDefaultTopKCapsMerge(t *testing.T) {
	stores := []domain.VectorStore{&fakeStore{name: "a", n: 6}, &fakeStore{name: "b", n: 6}}
	got, err := New(&fakeEmbedder{}).Retrieve(context.Background(), Request{Query: "q", Stores: stores})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0", "a-1", "a-2", "b-0", "b-1"}, ids(got))
}

func TestRetrieveFailedStoreContributesNothing(t *testing.T) {
	stores := []domain.VectorStore{
		&fakeStore{name: "a", n: 5},
		&fakeStore{name: "broken", err: errors.New("connection refused")},
		&fakeStore{name: "slow", n: 5, delay: time.Second},
		&fakeStore{name: "c", n: 5},
	}
	agg := New(&fakeEmbedder{}, WithStoreTimeout(20*time.Millisecond))

	got, err := agg.Retrieve(context.Background(), Request{Query: "q", Stores: stores, TopK: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0", "a-1", "a-2", "c-0", "c-1", "c-2"}, ids(got))
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	agg := New(&fakeEmbedder{err: errors.New("model offline")})
	_, err := agg.Retrieve(context.Background(), Request{Query: "q", Stores: []domain.VectorStore{&fakeStore{name: "a", n: 1}}})
	assert.ErrorContains(t, err, "model offline")
}

func TestRetrieveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg := New(&fakeEmbedder{})
	_, err := agg.Retrieve(ctx, Request{Query: "q", Stores: []domain.VectorStore{&fakeStore{name: "a", n: 3, delay: time.Second}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveWithRerank(t *testing.T) {
	stores := []domain.VectorStore{
		&fakeStore{name: "a", n: 10},
		&fakeStore{name: "b", n: 10},
		&fakeStore{name: "c", n: 10},
	}
	agg := New(&fakeEmbedder{}, WithReranker(reverseReranker{}))

	got, err := agg.Retrieve(context.Background(), Request{Query: "q", Stores: stores, TopK: 10, Rerank: true, RerankTopK: 15})
	require.NoError(t, err)
	require.Len(t, got, 15)
	for i := 1; i < len(got); i++ {
		prev, _ := got[i-1].ScoreValue()
		cur, _ := got[i].ScoreValue()
		assert.GreaterOrEqual(t, prev, cur)
	}
	assert.Equal(t, "c-9", got[0].Node.ID)
}

func TestRetrieveRerankFailureFallsBack(t *testing.T) {
	stores := []domain.VectorStore{&fakeStore{name: "a", n: 10}, &fakeStore{name: "b", n: 10}}
	agg := New(&fakeEmbedder{}, WithReranker(reverseReranker{err: errors.New("reranker down")}))

	got, err := agg.Retrieve(context.Background(), Request{Query: "q", Stores: stores, TopK: 10, Rerank: true, RerankTopK: 12})
	require.NoError(t, err)
	require.Len(t, got, 12)
	assert.Equal(t, "a-0", got[0].Node.ID)
	assert.Equal(t, "b-0", got[10].Node.ID)
}

func TestSortByScoreStableAndNilLast(t *testing.T) {
	nodes := []domain.ScoredNode{
		{Node: domain.Node{ID: "none"}},
		{Node: domain.Node{ID: "x"}, Score: domain.Score(0.5)},
		{Node: domain.Node{ID: "y"}, Score: domain.Score(0.9)},
		{Node: domain.Node{ID: "z"}, Score: domain.Score(0.5)},
	}
	SortByScore(nodes)
	assert.Equal(t, []string{"y", "x", "z", "none"}, ids(nodes))
}
