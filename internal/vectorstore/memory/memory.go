package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"ragagent/internal/domain"
)

// ErrDimensionMismatch is returned when a node's embedding length differs
// from the collection's.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Provider is an in-memory vector database using brute-force cosine
// similarity. Collections live as long as the process.
type Provider struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	dimension int
	nodes     []domain.Node
	tokens    []map[string]struct{}
}

// NewProvider creates an empty in-memory provider.
func NewProvider() *Provider {
	return &Provider{collections: make(map[string]*collection)}
}

func (p *Provider) Name() string { return "memory" }

// Collections lists collection names in sorted order.
func (p *Provider) Collections(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Store returns a read handle on a collection. Querying a missing collection
// yields no nodes.
func (p *Provider) Store(name string) domain.VectorStore {
	return &Store{provider: p, name: name}
}

func (p *Provider) Close() error { return nil }

// Upsert appends nodes; nodes with an existing ID replace the old entry.
func (p *Provider) Upsert(ctx context.Context, name string, nodes []domain.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[name]
	dim := 0
	if ok {
		dim = c.dimension
	}
	for _, n := range nodes {
		if dim == 0 {
			dim = len(n.Embedding)
		}
		if len(n.Embedding) != dim {
			return fmt.Errorf("upsert %s node %q: %w: got %d, want %d", name, n.ID, ErrDimensionMismatch, len(n.Embedding), dim)
		}
	}
	if !ok {
		c = &collection{}
		p.collections[name] = c
	}
	c.dimension = dim
	index := make(map[string]int, len(c.nodes))
	for i, n := range c.nodes {
		index[n.ID] = i
	}
	for _, n := range nodes {
		toks := toTokenSet(n.Content)
		if i, ok := index[n.ID]; ok && n.ID != "" {
			c.nodes[i], c.tokens[i] = n, toks
			continue
		}
		index[n.ID] = len(c.nodes)
		c.nodes = append(c.nodes, n)
		c.tokens = append(c.tokens, toks)
	}
	return nil
}

// Reset drops a collection.
func (p *Provider) Reset(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
	return nil
}

// Store is a handle on one collection.
type Store struct {
	provider *Provider
	name     string
}

func (s *Store) Name() string { return s.name }

// Query ranks the collection. Default mode uses cosine similarity (vectors
// are assumed L2-normalized), sparse mode the token overlap with the query
// text, hybrid the mean of both.
func (s *Store) Query(ctx context.Context, q domain.VectorQuery) ([]domain.ScoredNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.provider.mu.RLock()
	defer s.provider.mu.RUnlock()
	c, ok := s.provider.collections[s.name]
	if !ok || len(c.nodes) == 0 {
		return nil, nil
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	var qset map[string]struct{}
	if q.Mode == domain.QueryModeSparse || q.Mode == domain.QueryModeHybrid {
		qset = toTokenSet(q.Text)
	}
	scores := make([]float64, len(c.nodes))
	for i, n := range c.nodes {
		switch q.Mode {
		case domain.QueryModeSparse:
			scores[i] = overlapOchiai(qset, c.tokens[i])
		case domain.QueryModeHybrid:
			scores[i] = (dot(n.Embedding, q.Embedding) + overlapOchiai(qset, c.tokens[i])) / 2
		default:
			scores[i] = dot(n.Embedding, q.Embedding)
		}
	}

	idxs := make([]int, len(scores))
	for i := range idxs {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.ScoredNode, 0, topK)
	for _, j := range idxs[:topK] {
		n := c.nodes[j]
		n.Metadata = domain.CloneMetadata(n.Metadata)
		results = append(results, domain.ScoredNode{Node: n, Score: domain.Score(scores[j])})
	}
	return results, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over token sets.
func overlapOchiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
