package domain

import "context"

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// CorpusPreparer is implemented by embedders that need a preparation phase
// over the whole corpus before they can embed anything.
type CorpusPreparer interface {
	Prepare(corpus []string) error
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore is a read handle on one collection.
type VectorStore interface {
	Name() string
	Query(ctx context.Context, q VectorQuery) ([]ScoredNode, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// LLM is a chat completion model.
type LLM interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Reranker reorders candidates by relevance to the query and returns at most
// topN of them with scores set.
type Reranker interface {
	Rerank(ctx context.Context, query string, nodes []ScoredNode, topN int) ([]ScoredNode, error)
}

// Tool is a named capability the agent can dispatch actions to.
type Tool interface {
	Metadata() ToolMetadata
	Run(ctx context.Context, args map[string]any) (ToolOutput, error)
}
