// Package toolindex narrows the available tools to the ones whose
// descriptions are closest to a query.
package toolindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"ragagent/internal/domain"
)

// DefaultTopK is the number of descriptor matches considered per query.
const DefaultTopK = 8

const metaIdx = "idx"

var errNoEmbedding = errors.New("toolindex: descriptors are embedded before insertion")

func precomputedOnly(context.Context, string) ([]float32, error) { return nil, errNoEmbedding }

// Descriptor is the text a tool is indexed under.
func Descriptor(i int, md domain.ToolMetadata) string {
	return fmt.Sprintf("idx: %d, name: %s, description: %s", i, md.Name, md.Description)
}

// Retriever selects tools by embedding similarity. The index is built lazily
// on first use and rebuilt after SetTools.
type Retriever struct {
	embedder domain.Embedder
	logger   *slog.Logger
	sqlTool  domain.Tool

	mu    sync.Mutex
	tools []domain.Tool
	col   *chromem.Collection
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithSQLTool makes tool a candidate for every query regardless of similarity.
func WithSQLTool(tool domain.Tool) Option { return func(r *Retriever) { r.sqlTool = tool } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Retriever) { r.logger = l } }

// New creates a retriever over tools.
func New(embedder domain.Embedder, tools []domain.Tool, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.tools = append([]domain.Tool(nil), tools...)
	return r
}

// SetTools replaces the tool set and invalidates the index.
func (r *Retriever) SetTools(tools []domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append([]domain.Tool(nil), tools...)
	r.col = nil
}

// Select returns up to topK distinct tools ordered by their best descriptor
// match, followed by the SQL tool when one is configured.
func (r *Retriever) Select(ctx context.Context, query string, topK int) ([]domain.Tool, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	r.mu.Lock()
	tools := r.tools
	col, err := r.index(ctx)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var selected []domain.Tool
	if len(tools) > 0 {
		qv, err := r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed tool query: %w", err)
		}
		if isZero(qv) || col.Count() == 0 {
			// nothing to rank against
			selected = firstN(tools, topK)
		} else {
			selected, err = r.rank(ctx, col, tools, qv, topK)
			if err != nil {
				return nil, err
			}
		}
	}
	if r.sqlTool != nil {
		selected = appendUnique(selected, r.sqlTool)
	}
	return selected, nil
}

func (r *Retriever) rank(ctx context.Context, col *chromem.Collection, tools []domain.Tool, qv []float32, topK int) ([]domain.Tool, error) {
	res, err := col.QueryEmbedding(ctx, qv, min(topK, col.Count()), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query tool index: %w", err)
	}
	var out []domain.Tool
	for _, doc := range res {
		i, err := strconv.Atoi(doc.Metadata[metaIdx])
		if err != nil || i < 0 || i >= len(tools) {
			continue
		}
		out = appendUnique(out, tools[i])
	}
	return out, nil
}

// index must be called with mu held.
func (r *Retriever) index(ctx context.Context) (*chromem.Collection, error) {
	if r.col != nil {
		return r.col, nil
	}
	col, err := chromem.NewDB().CreateCollection("tools", nil, precomputedOnly)
	if err != nil {
		return nil, err
	}
	docs := make([]chromem.Document, 0, len(r.tools))
	for i, t := range r.tools {
		text := Descriptor(i, t.Metadata())
		emb, err := r.embedder.EmbedText(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed descriptor of %s: %w", t.Metadata().Name, err)
		}
		if isZero(emb) {
			r.logger.Warn("tool descriptor has an empty embedding; it will only be offered as a fallback", "tool", t.Metadata().Name)
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   text,
			Metadata:  map[string]string{metaIdx: strconv.Itoa(i)},
			Embedding: emb,
		})
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return nil, fmt.Errorf("build tool index: %w", err)
		}
	}
	r.col = col
	return col, nil
}

func appendUnique(tools []domain.Tool, t domain.Tool) []domain.Tool {
	name := t.Metadata().Name
	for _, have := range tools {
		if have.Metadata().Name == name {
			return tools
		}
	}
	return append(tools, t)
}

func firstN(tools []domain.Tool, n int) []domain.Tool {
	var out []domain.Tool
	for _, t := range tools {
		if len(out) == n {
			break
		}
		out = appendUnique(out, t)
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
