package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyVectorStore is returned at startup when no collection can be queried.
var ErrEmptyVectorStore = errors.New("no vector collections available")

// Metadata keys attached to nodes during ingestion.
const (
	MetaCollection   = "collection_name"
	MetaPDFURL       = "pdf_url"
	MetaWebURL       = "web_url"
	MetaPageIdx      = "page_idx"
	MetaFilePath     = "file_path"
	MetaDocumentType = "document_type"
	MetaProductName  = "product_name"
	MetaCompanyName  = "company_name"
)

// Document represents a single loaded source unit (a text file or one PDF page).
type Document struct {
	ID       string
	Path     string
	Content  string
	Metadata map[string]any
}

// Chunk is a semantically meaningful part of a document used for indexing.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
	Metadata   map[string]any
}

// Node is an embedded chunk as stored in a collection.
type Node struct {
	ID        string
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// ScoredNode is a node returned by a query. A nil Score means the backend
// only provides rank order.
type ScoredNode struct {
	Node  Node
	Score *float64
}

// Score returns a pointer to v, for building ScoredNode values.
func Score(v float64) *float64 { return &v }

// ScoreValue reports the score and whether one is present.
func (n ScoredNode) ScoreValue() (float64, bool) {
	if n.Score == nil {
		return 0, false
	}
	return *n.Score, true
}

// QueryMode selects the similarity strategy of a vector query.
type QueryMode string

const (
	QueryModeDefault QueryMode = "default"
	QueryModeSparse  QueryMode = "sparse"
	QueryModeHybrid  QueryMode = "hybrid"
)

// ParseQueryMode maps a config string onto a QueryMode. Empty means default.
func ParseQueryMode(s string) (QueryMode, error) {
	switch QueryMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", QueryModeDefault:
		return QueryModeDefault, nil
	case QueryModeSparse:
		return QueryModeSparse, nil
	case QueryModeHybrid:
		return QueryModeHybrid, nil
	}
	return "", fmt.Errorf("unknown query mode %q", s)
}

// VectorQuery is one similarity request against a single collection.
type VectorQuery struct {
	Embedding []float32
	Text      string
	TopK      int
	Mode      QueryMode
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message exchanged with a language model.
type Message struct {
	Role    string
	Content string
}

// ToolMetadata describes a tool to the model.
type ToolMetadata struct {
	Name        string
	Description string
}

// ToolOutput is the result of a tool run. Sources carry provenance metadata.
type ToolOutput struct {
	Content string
	Sources []ScoredNode
}

// MetaString returns md[key] rendered as a string, or "" when absent.
func MetaString(md map[string]any, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MetaInt returns md[key] as an int. Stores that only keep string metadata
// round-trip numbers as strings, so those are parsed as well.
func MetaInt(md map[string]any, key string) (int, bool) {
	switch v := md[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// CloneMetadata returns a shallow copy of md that is safe to mutate.
func CloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	return out
}
