package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ragagent/internal/domain"
	"ragagent/internal/retrieval"
	"ragagent/internal/tokens"
)

// NoResults is the observation returned when retrieval finds nothing.
const NoResults = "No relevant information found."

// DefaultContextTokens bounds the retrieved context passed to the QA model.
const DefaultContextTokens = 3000

const qaPrompt = `Context information is below.
---------------------
%s
---------------------
Given the context information and not prior knowledge, answer the query.
Query: %s
Answer: `

// Retriever is the retrieval surface a CollectionTool needs.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]domain.ScoredNode, error)
}

// CollectionConfig configures a CollectionTool.
type CollectionConfig struct {
	Name          string
	Description   string
	TopK          int
	Mode          domain.QueryMode
	Rerank        bool
	RerankTopK    int
	ContextTokens int
}

// CollectionTool answers questions from one or more vector collections.
type CollectionTool struct {
	cfg       CollectionConfig
	stores    []domain.VectorStore
	retriever Retriever
	llm       domain.LLM
	counter   *tokens.Counter
	logger    *slog.Logger
}

// NewCollectionTool builds a tool over stores. When llm is nil the tool
// returns the retrieved context instead of a synthesised answer.
func NewCollectionTool(cfg CollectionConfig, stores []domain.VectorStore, retriever Retriever, llm domain.LLM, counter *tokens.Counter, logger *slog.Logger) (*CollectionTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("collection tool: empty name")
	}
	if len(stores) == 0 {
		return nil, fmt.Errorf("collection tool %s: no stores", cfg.Name)
	}
	if retriever == nil {
		return nil, fmt.Errorf("collection tool %s: no retriever", cfg.Name)
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = DefaultContextTokens
	}
	if counter == nil {
		counter = tokens.Approx()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectionTool{cfg: cfg, stores: stores, retriever: retriever, llm: llm, counter: counter, logger: logger}, nil
}

func (t *CollectionTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{Name: t.cfg.Name, Description: t.cfg.Description}
}

// Run retrieves context for the query and answers it with the QA prompt.
func (t *CollectionTool) Run(ctx context.Context, args map[string]any) (domain.ToolOutput, error) {
	query, err := decodeInput(args)
	if err != nil {
		return domain.ToolOutput{}, err
	}
	ctx, span := otel.Tracer("ragagent/tools").Start(ctx, "tool.collection")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", t.cfg.Name))

	nodes, err := t.retriever.Retrieve(ctx, retrieval.Request{
		Query:      query,
		Stores:     t.stores,
		TopK:       t.cfg.TopK,
		Mode:       t.cfg.Mode,
		Rerank:     t.cfg.Rerank,
		RerankTopK: t.cfg.RerankTopK,
	})
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("retrieve for %s: %w", t.cfg.Name, err)
	}
	if len(nodes) == 0 {
		return domain.ToolOutput{Content: NoResults}, nil
	}

	ctxText := t.counter.Truncate(joinContext(nodes), t.cfg.ContextTokens)
	if t.llm == nil {
		return domain.ToolOutput{Content: ctxText, Sources: nodes}, nil
	}
	answer, err := t.llm.Chat(ctx, []domain.Message{
		{Role: domain.RoleUser, Content: fmt.Sprintf(qaPrompt, ctxText, query)},
	})
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("summarise %s: %w", t.cfg.Name, err)
	}
	t.logger.Debug("collection tool answered", "tool", t.cfg.Name, "nodes", len(nodes))
	return domain.ToolOutput{Content: strings.TrimSpace(answer), Sources: nodes}, nil
}

func joinContext(nodes []domain.ScoredNode) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		var head []string
		if c := domain.MetaString(n.Node.Metadata, domain.MetaCollection); c != "" {
			head = append(head, "collection: "+c)
		}
		if p := domain.MetaString(n.Node.Metadata, domain.MetaPageIdx); p != "" {
			head = append(head, "page: "+p)
		}
		if len(head) > 0 {
			parts = append(parts, strings.Join(head, ", ")+"\n\n"+n.Node.Content)
			continue
		}
		parts = append(parts, n.Node.Content)
	}
	return strings.Join(parts, "\n\n")
}
