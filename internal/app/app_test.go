package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/embedding/tfidf"
	"ragagent/internal/ingest"
	"ragagent/internal/vectorstore/chromem"
)

// routedLLM answers QA prompts from the collection tools with qa and plays
// agent replies in order.
type routedLLM struct {
	mu      sync.Mutex
	qa      string
	replies []string
	agent   int
}

func (r *routedLLM) Chat(_ context.Context, msgs []domain.Message) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.Contains(msgs[len(msgs)-1].Content, "Context information is below") {
		return r.qa, nil
	}
	reply := r.replies[min(r.agent, len(r.replies)-1)]
	r.agent++
	return reply, nil
}

func defaults(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg.Retrieval.Encoding = "approx"
	cfg.Ingest.DataDir = t.TempDir()
	return cfg
}

func writeDoc(t *testing.T, dir, name, text string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
}

func TestBuildMemoryAgentAnswersThroughCollectionTool(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "ur5e.txt", "The UR5e reach is 850 mm. The UR5e payload is 5 kg. It has six joints.")
	writeDoc(t, docs, "kr6.txt", "The KUKA KR6 payload is 6 kg. It is a small industrial arm.")

	cfg := defaults(t)
	cfg.Ingest.Paths = []string{docs}
	model := &routedLLM{
		qa: "The reach is 850 mm.",
		replies: []string{
			"Thought 1: I need the UR5e manual.\nAction 1: ur5e\nAction Input 1: {\"input\": \"UR5e reach\"}",
			"Thought 1: I can answer without using any more tools.\nAnswer: The UR5e reach is 850 mm.",
		},
	}

	a, err := Build(context.Background(), cfg, nil, WithLLM(model))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 2, a.Registry.Len())
	assert.Contains(t, a.Summary(), "ur5e")
	assert.Contains(t, a.Summary(), "kr6")

	res, err := a.Agent.Run(context.Background(), "What is the UR5e reach?", nil)
	require.NoError(t, err)
	assert.Equal(t, "The UR5e reach is 850 mm.", res.Response)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.Fallback)
}

// writePDF writes a one-page PDF showing text in a standard font.
func writePDF(t *testing.T, path, text string) {
	t.Helper()
	content := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestBuildServesSameStemSourcesThroughOneTool(t *testing.T) {
	docs := t.TempDir()
	writePDF(t, filepath.Join(docs, "ur5e.pdf"), "The UR5e weighs 20.6 kg.")
	writeDoc(t, docs, "ur5e.txt", "The UR5e reach is 850 mm. The UR5e payload is 5 kg.")

	cfg := defaults(t)
	cfg.Ingest.Paths = []string{docs}
	a, err := Build(context.Background(), cfg, nil, WithLLM(&routedLLM{qa: "It weighs 20.6 kg and reaches 850 mm."}))
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, a.Registry.Len())
	tool, err := a.Registry.Get("ur5e")
	require.NoError(t, err)

	out, err := tool.Run(context.Background(), map[string]any{"input": "UR5e weight and reach"})
	require.NoError(t, err)
	assert.Equal(t, "It weighs 20.6 kg and reaches 850 mm.", out.Content)
	seen := map[string]bool{}
	for _, n := range out.Sources {
		seen[domain.MetaString(n.Node.Metadata, domain.MetaCollection)] = true
	}
	assert.Equal(t, map[string]bool{"pdf_ur5e": true, "text_ur5e": true}, seen)
}

func TestGroupCollections(t *testing.T) {
	manifest := ingest.Manifest{Collections: []ingest.Collection{
		{Name: "pdf_ur5e", Tool: "ur5e", Description: "UR5e manual."},
		{Name: "text_ur5e", Tool: "ur5e", Description: " UR5e datasheet. "},
		{Name: "text_kr6", Tool: "kr6", Description: "UR5e manual."},
		{Name: "pdf_kr6", Tool: "kr6", Description: "KR6 manual."},
		{Name: "pdf_diana", Tool: "diana"},
	}}
	got := GroupCollections(manifest, []string{"pdf_kr6", "pdf_ur5e", "text_kr6", "text_ur5e", "pdf_diana", "Loose Notes"})
	assert.Equal(t, []ToolGroup{
		{Tool: "kr6", Description: "KR6 manual. UR5e manual.", Collections: []string{"pdf_kr6", "text_kr6"}},
		{Tool: "ur5e", Description: "UR5e manual. UR5e datasheet.", Collections: []string{"pdf_ur5e", "text_ur5e"}},
		{Tool: "diana", Description: "Answers questions using the documents in pdf_diana.", Collections: []string{"pdf_diana"}},
		{Tool: "loose-notes", Description: "Answers questions using the documents in Loose Notes.", Collections: []string{"Loose Notes"}},
	}, got)
}

func TestBuildMemoryWithoutPathsIsEmpty(t *testing.T) {
	_, err := Build(context.Background(), defaults(t), nil, WithLLM(&routedLLM{}))
	assert.ErrorIs(t, err, domain.ErrEmptyVectorStore)
}

func TestIngestPersistentProviderWritesManifest(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "ur5e.txt", "The UR5e reach is 850 mm. The UR5e payload is 5 kg.")
	cfg := defaults(t)
	prov, err := chromem.NewProvider(chromem.Config{Path: filepath.Join(cfg.Ingest.DataDir, "chromem")}, nil)
	require.NoError(t, err)
	defer prov.Close()

	emb := tfidf.NewEmbedder()
	got, err := Ingest(context.Background(), cfg, emb, prov, []string{docs}, nil)
	require.NoError(t, err)
	require.Len(t, got.Collections, 1)

	writeDoc(t, docs, "kr6.txt", "The KUKA KR6 payload is 6 kg.")
	require.NoError(t, os.Remove(filepath.Join(docs, "ur5e.txt")))
	_, err = Ingest(context.Background(), cfg, emb, prov, []string{docs}, nil)
	require.NoError(t, err)

	saved, err := ingest.LoadManifest(ManifestPath(cfg))
	require.NoError(t, err)
	require.Len(t, saved.Collections, 2)
	assert.Equal(t, "text_kr6", saved.Collections[0].Name)
	assert.Equal(t, "text_ur5e", saved.Collections[1].Name)

	names, err := prov.Collections(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"text_kr6", "text_ur5e"}, names)
}

func TestFactoriesRejectUnknownTypes(t *testing.T) {
	ctx := context.Background()
	_, err := NewEmbedder(ctx, config.EmbedderConfig{Type: "word2vec"})
	assert.Error(t, err)
	_, err = NewLLM(ctx, config.LLMConfig{Type: "markov"})
	assert.Error(t, err)
	_, err = NewReranker(config.RerankConfig{Type: "bm25"}, nil)
	assert.Error(t, err)
	_, err = OpenProvider(&config.AppConfig{VectorStore: config.VectorStoreConfig{Type: "pinecone"}}, nil)
	assert.Error(t, err)
}

func TestFactoriesBuildConfiguredComponents(t *testing.T) {
	ctx := context.Background()
	emb, err := NewEmbedder(ctx, config.EmbedderConfig{Type: "openai", BaseURL: "http://localhost:11434/v1", Model: "nomic-embed-text"})
	require.NoError(t, err)
	assert.Equal(t, "openai", emb.Name())

	model, err := NewLLM(ctx, config.LLMConfig{Type: "openai", BaseURL: "http://localhost:11434/v1", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, model)

	for _, typ := range []string{"llm", "none"} {
		rr, err := NewReranker(config.RerankConfig{Type: typ}, model)
		require.NoError(t, err)
		assert.NotNil(t, rr)
	}
	_, err = NewReranker(config.RerankConfig{Type: "http"}, model)
	assert.Error(t, err, "http reranker needs a base url")
}
