package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/philippgille/chromem-go"

	"ragagent/internal/domain"
)

// errNoEmbedding is returned by the collection embedding func. Every document
// and query arrives already embedded.
var errNoEmbedding = errors.New("chromem: documents must carry precomputed embeddings")

func precomputedOnly(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedding
}

// Config configures the chromem provider. An empty Path keeps the database
// in memory.
type Config struct {
	Path     string
	Compress bool
}

// Provider stores collections in an embedded chromem-go database.
type Provider struct {
	db     *chromem.DB
	logger *slog.Logger
}

// NewProvider opens (or creates) the database at cfg.Path.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		return &Provider{db: chromem.NewDB(), logger: logger}, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open chromem db at %s: %w", cfg.Path, err)
	}
	return &Provider{db: db, logger: logger}, nil
}

func (p *Provider) Name() string { return "chromem" }

// Collections lists collection names in sorted order.
func (p *Provider) Collections(ctx context.Context) ([]string, error) {
	cols := p.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) Store(name string) domain.VectorStore {
	return &Store{db: p.db, name: name, logger: p.logger}
}

func (p *Provider) Close() error { return nil }

// Upsert adds nodes to the collection. chromem only stores string metadata,
// so values are formatted with fmt.Sprint.
func (p *Provider) Upsert(ctx context.Context, collection string, nodes []domain.Node) error {
	col, err := p.db.GetOrCreateCollection(collection, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("get or create collection %q: %w", collection, err)
	}
	docs := make([]chromem.Document, 0, len(nodes))
	for _, n := range nodes {
		if isZero(n.Embedding) {
			p.logger.Debug("skipping node without usable embedding", "collection", collection, "id", n.ID)
			continue
		}
		md := make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			if v != nil {
				md[k] = fmt.Sprint(v)
			}
		}
		docs = append(docs, chromem.Document{ID: n.ID, Content: n.Content, Metadata: md, Embedding: n.Embedding})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents to %q: %w", collection, err)
	}
	return nil
}

// Reset drops the collection.
func (p *Provider) Reset(ctx context.Context, collection string) error {
	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

// Store is a handle on one chromem collection.
type Store struct {
	db     *chromem.DB
	name   string
	logger *slog.Logger
}

func (s *Store) Name() string { return s.name }

// Query runs a dense similarity search. chromem has no lexical index, so the
// sparse and hybrid modes are served as dense queries.
func (s *Store) Query(ctx context.Context, q domain.VectorQuery) ([]domain.ScoredNode, error) {
	col := s.db.GetCollection(s.name, precomputedOnly)
	if col == nil {
		return nil, fmt.Errorf("collection %q not found", s.name)
	}
	if q.Mode != "" && q.Mode != domain.QueryModeDefault {
		s.logger.Debug("query mode not supported by chromem; using dense search", "mode", q.Mode, "collection", s.name)
	}
	n := min(q.TopK, col.Count())
	if n <= 0 {
		return nil, nil
	}
	if isZero(q.Embedding) {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, q.Embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", s.name, err)
	}
	out := make([]domain.ScoredNode, len(results))
	for i, r := range results {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		out[i] = domain.ScoredNode{
			Node:  domain.Node{ID: r.ID, Content: r.Content, Metadata: md},
			Score: domain.Score(float64(r.Similarity)),
		}
	}
	return out, nil
}

// isZero reports an all-zero vector, which chromem cannot normalise.
func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
