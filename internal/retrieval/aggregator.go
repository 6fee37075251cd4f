package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"ragagent/internal/domain"
	"ragagent/internal/metrics"
)

const (
	// DefaultTopK caps the merged result when no rerank is done.
	DefaultTopK = 5
	// DefaultRerankTopK caps the reranked result.
	DefaultRerankTopK = 15
	// PerStoreQuota is how many nodes each store contributes without rerank.
	PerStoreQuota = 3
	// DefaultStoreTimeout bounds a single store query.
	DefaultStoreTimeout = 10 * time.Second
)

// Request describes one aggregated retrieval.
type Request struct {
	Query      string
	Stores     []domain.VectorStore
	TopK       int
	Mode       domain.QueryMode
	Rerank     bool
	RerankTopK int
}

// Aggregator fans a query out to several collections and merges the results.
type Aggregator struct {
	embedder     domain.Embedder
	reranker     domain.Reranker
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithReranker sets the reranker used when a request asks for rerank.
func WithReranker(r domain.Reranker) Option { return func(a *Aggregator) { a.reranker = r } }

// WithStoreTimeout bounds each per-store query.
func WithStoreTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.storeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Aggregator) { a.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Aggregator) { a.metrics = m } }

// New creates an Aggregator embedding queries with embedder.
func New(embedder domain.Embedder, opts ...Option) *Aggregator {
	a := &Aggregator{embedder: embedder, storeTimeout: DefaultStoreTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Retrieve embeds the query once, queries every store in parallel and merges
// the per-store lists. A failing store contributes nothing. The only errors
// returned are an embedding failure or cancellation of ctx.
func (a *Aggregator) Retrieve(ctx context.Context, req Request) ([]domain.ScoredNode, error) {
	ctx, span := otel.Tracer("ragagent/retrieval").Start(ctx, "retrieval.aggregate")
	defer span.End()

	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	rerankTopK := req.RerankTopK
	if rerankTopK <= 0 {
		rerankTopK = DefaultRerankTopK
	}
	mode := req.Mode
	if mode == "" {
		mode = domain.QueryModeDefault
	}
	span.SetAttributes(
		attribute.Int("retrieval.stores", len(req.Stores)),
		attribute.Int("retrieval.top_k", topK),
		attribute.Bool("retrieval.rerank", req.Rerank),
	)

	vec, err := a.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed query")
		return nil, fmt.Errorf("embed query: %w", err)
	}

	q := domain.VectorQuery{Embedding: vec, Text: req.Query, TopK: topK, Mode: mode}
	perStore := make([][]domain.ScoredNode, len(req.Stores))
	var g errgroup.Group
	for i, store := range req.Stores {
		g.Go(func() error {
			nodes, err := a.queryStore(ctx, store, q)
			if err != nil {
				a.logger.Warn("store query failed; continuing without it", "store", store.Name(), "error", err)
				return nil
			}
			perStore[i] = nodes
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !req.Rerank {
		return mergeWithQuota(perStore, PerStoreQuota, topK), nil
	}

	var candidates []domain.ScoredNode
	for _, nodes := range perStore {
		candidates = append(candidates, nodes...)
	}
	return a.rerank(ctx, req.Query, candidates, rerankTopK), nil
}

func (a *Aggregator) queryStore(ctx context.Context, store domain.VectorStore, q domain.VectorQuery) ([]domain.ScoredNode, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	ctx, span := otel.Tracer("ragagent/retrieval").Start(ctx, "retrieval.store")
	span.SetAttributes(attribute.String("store", store.Name()))
	defer span.End()

	start := time.Now()
	nodes, err := store.Query(ctx, q)
	a.metrics.StoreQuery(store.Name(), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store query")
		return nil, err
	}
	return tagCollection(nodes, store.Name()), nil
}

// tagCollection fills in collection_name where the store did not set it.
func tagCollection(nodes []domain.ScoredNode, name string) []domain.ScoredNode {
	out := make([]domain.ScoredNode, len(nodes))
	for i, n := range nodes {
		if domain.MetaString(n.Node.Metadata, domain.MetaCollection) == "" {
			n.Node.Metadata = domain.CloneMetadata(n.Node.Metadata)
			n.Node.Metadata[domain.MetaCollection] = name
		}
		out[i] = n
	}
	return out
}

// mergeWithQuota takes the first quota nodes of every list, in list order,
// and caps the result at limit.
func mergeWithQuota(perStore [][]domain.ScoredNode, quota, limit int) []domain.ScoredNode {
	out := make([]domain.ScoredNode, 0, len(perStore)*quota)
	for _, nodes := range perStore {
		if len(nodes) > quota {
			nodes = nodes[:quota]
		}
		out = append(out, nodes...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (a *Aggregator) rerank(ctx context.Context, query string, candidates []domain.ScoredNode, topN int) []domain.ScoredNode {
	if len(candidates) == 0 {
		return candidates
	}
	if a.reranker == nil {
		a.logger.Warn("rerank requested but no reranker configured")
		return truncate(candidates, topN)
	}
	ranked, err := a.reranker.Rerank(ctx, query, candidates, topN)
	if err != nil {
		a.metrics.RerankFallback()
		a.logger.Warn("rerank failed; using merge order", "error", err)
		return truncate(candidates, topN)
	}
	SortByScore(ranked)
	return truncate(ranked, topN)
}

// SortByScore orders nodes by descending score. Equal scores keep their
// relative order and nodes without a score go last.
func SortByScore(nodes []domain.ScoredNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		si, okI := nodes[i].ScoreValue()
		sj, okJ := nodes[j].ScoreValue()
		if okI != okJ {
			return okI
		}
		return si > sj
	})
}

func truncate(nodes []domain.ScoredNode, n int) []domain.ScoredNode {
	if len(nodes) > n {
		return nodes[:n]
	}
	return nodes
}
