package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
	"ragagent/internal/rerank"
	"ragagent/internal/retrieval"
	"ragagent/internal/tokens"
	"ragagent/internal/vectorstore/memory"
)

type scriptedLLM struct {
	replies []string
	prompts []string
	err     error
}

func (s *scriptedLLM) Chat(_ context.Context, msgs []domain.Message) (string, error) {
	s.prompts = append(s.prompts, msgs[len(msgs)-1].Content)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type fakeRetriever struct {
	nodes []domain.ScoredNode
	err   error
	got   retrieval.Request
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) ([]domain.ScoredNode, error) {
	f.got = req
	return f.nodes, f.err
}

type namedStore string

func (s namedStore) Name() string { return string(s) }
func (namedStore) Query(context.Context, domain.VectorQuery) ([]domain.ScoredNode, error) {
	return nil, nil
}

type stubTool string

func (s stubTool) Metadata() domain.ToolMetadata { return domain.ToolMetadata{Name: string(s), Description: "d"} }
func (stubTool) Run(context.Context, map[string]any) (domain.ToolOutput, error) {
	return domain.ToolOutput{}, nil
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(stubTool("b"), stubTool("a"))
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(stubTool("a")), ErrToolExists)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Metadata().Name)
	_, err = r.Get("c")
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []domain.ToolMetadata{{Name: "b", Description: "d"}, {Name: "a", Description: "d"}}, r.Descriptions())
	assert.Error(t, r.Register(stubTool(" ")))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ur5e-universal-robots", SanitizeName("UR5e Universal Robots"))
	assert.Equal(t, "diana-7--agile", SanitizeName(" Diana 7, Agile "))
}

func TestDecodeInput(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
		err  error
	}{
		{"input key", map[string]any{"input": " payload of UR5e "}, "payload of UR5e", nil},
		{"weak number", map[string]any{"input": 42}, "42", nil},
		{"other key", map[string]any{"query": "reach", "a": 1}, "reach", nil},
		{"first key order", map[string]any{"b": "second", "a": "first"}, "first", nil},
		{"empty", map[string]any{}, "", ErrMissingInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeInput(tt.args)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectionToolAnswersFromContext(t *testing.T) {
	nodes := []domain.ScoredNode{
		{Node: domain.Node{Content: "The UR5e payload is 5 kg.", Metadata: map[string]any{domain.MetaCollection: "ur5e", domain.MetaPageIdx: 3}}},
		{Node: domain.Node{Content: "Reach is 850 mm."}},
	}
	ret := &fakeRetriever{nodes: nodes}
	llm := &scriptedLLM{replies: []string{" 5 kg \n"}}
	tool, err := NewCollectionTool(CollectionConfig{Name: "ur5e", Description: "UR5e manual", Rerank: true},
		[]domain.VectorStore{namedStore("ur5e")}, ret, llm, tokens.Approx(), nil)
	require.NoError(t, err)

	out, err := tool.Run(context.Background(), map[string]any{"input": "payload?"})
	require.NoError(t, err)
	assert.Equal(t, "5 kg", out.Content)
	assert.Equal(t, nodes, out.Sources)
	assert.Equal(t, "payload?", ret.got.Query)
	assert.True(t, ret.got.Rerank)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "collection: ur5e, page: 3\n\nThe UR5e payload is 5 kg.")
	assert.Contains(t, llm.prompts[0], "Query: payload?")
}

func TestCollectionToolEmptyAndErrors(t *testing.T) {
	llm := &scriptedLLM{}
	stores := []domain.VectorStore{namedStore("x")}
	tool, err := NewCollectionTool(CollectionConfig{Name: "x"}, stores, &fakeRetriever{}, llm, nil, nil)
	require.NoError(t, err)
	out, err := tool.Run(context.Background(), map[string]any{"input": "q"})
	require.NoError(t, err)
	assert.Equal(t, NoResults, out.Content)
	assert.Empty(t, llm.prompts)

	tool, err = NewCollectionTool(CollectionConfig{Name: "x"}, stores, &fakeRetriever{err: errors.New("embed down")}, llm, nil, nil)
	require.NoError(t, err)
	_, err = tool.Run(context.Background(), map[string]any{"input": "q"})
	assert.ErrorContains(t, err, "embed down")

	_, err = NewCollectionTool(CollectionConfig{Name: "x"}, nil, &fakeRetriever{}, llm, nil, nil)
	assert.Error(t, err)
}

func TestCollectionToolWithoutModelReturnsContext(t *testing.T) {
	ret := &fakeRetriever{nodes: []domain.ScoredNode{{Node: domain.Node{Content: "alpha"}}, {Node: domain.Node{Content: "beta"}}}}
	tool, err := NewCollectionTool(CollectionConfig{Name: "x"}, []domain.VectorStore{namedStore("x")}, ret, nil, nil, nil)
	require.NoError(t, err)
	out, err := tool.Run(context.Background(), map[string]any{"input": "q"})
	require.NoError(t, err)
	assert.Equal(t, "alpha\n\nbeta", out.Content)
}

type unitEmbedder struct{}

func (unitEmbedder) Name() string { return "unit" }
func (unitEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (unitEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func seedArms(t *testing.T) *memory.Provider {
	t.Helper()
	prov := memory.NewProvider()
	for _, name := range []string{"pdf_ur5e", "text_ur5e"} {
		nodes := make([]domain.Node, 4)
		for i := range nodes {
			nodes[i] = domain.Node{
				ID:        fmt.Sprintf("%s:%d", name, i),
				Content:   fmt.Sprintf("%s chunk %d", name, i),
				Embedding: []float32{1, 0},
			}
		}
		require.NoError(t, prov.Upsert(context.Background(), name, nodes))
	}
	return prov
}

func TestCollectionToolFansOutOverStores(t *testing.T) {
	prov := seedArms(t)
	stores := []domain.VectorStore{prov.Store("pdf_ur5e"), prov.Store("text_ur5e")}
	agg := retrieval.New(unitEmbedder{}, retrieval.WithReranker(rerank.NoOp{}))

	collections := func(nodes []domain.ScoredNode) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, domain.MetaString(n.Node.Metadata, domain.MetaCollection))
		}
		return out
	}

	t.Run("quota per store", func(t *testing.T) {
		tool, err := NewCollectionTool(CollectionConfig{Name: "ur5e", TopK: 5}, stores, agg, nil, tokens.Approx(), nil)
		require.NoError(t, err)
		out, err := tool.Run(context.Background(), map[string]any{"input": "payload"})
		require.NoError(t, err)
		assert.Equal(t, []string{"pdf_ur5e", "pdf_ur5e", "pdf_ur5e", "text_ur5e", "text_ur5e"}, collections(out.Sources))
		assert.Contains(t, out.Content, "collection: text_ur5e\n\ntext_ur5e chunk 0")
	})

	t.Run("reranked", func(t *testing.T) {
		tool, err := NewCollectionTool(CollectionConfig{Name: "ur5e", TopK: 5, Rerank: true, RerankTopK: 6}, stores, agg, nil, tokens.Approx(), nil)
		require.NoError(t, err)
		out, err := tool.Run(context.Background(), map[string]any{"input": "payload"})
		require.NoError(t, err)
		require.Len(t, out.Sources, 6)
		assert.Equal(t, []string{"pdf_ur5e", "pdf_ur5e", "pdf_ur5e", "pdf_ur5e", "text_ur5e", "text_ur5e"}, collections(out.Sources))
		for i := 1; i < len(out.Sources); i++ {
			assert.Greater(t, *out.Sources[i-1].Score, *out.Sources[i].Score)
		}
	})
}

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		reply string
		want  string
		ok    bool
	}{
		{"SELECT name FROM robot_arm;", "SELECT name FROM robot_arm", true},
		{"SQLQuery: SELECT payload FROM robot_arm WHERE name = 'UR5e'\nSQLResult: 5\nAnswer: 5 kg", "SELECT payload FROM robot_arm WHERE name = 'UR5e'", true},
		{"```sql\nWITH t AS (SELECT 1) SELECT * FROM t\n```", "WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"SELECT created_at FROM robot_arm", "SELECT created_at FROM robot_arm", true},
		{"DELETE FROM robot_arm", "", false},
		{"SELECT 1; DROP TABLE robot_arm", "", false},
		{"WITH d AS (DELETE FROM robot_arm RETURNING *) SELECT * FROM d", "", false},
		{"I don't know", "", false},
	}
	for _, tt := range tests {
		got, err := ExtractSQL(tt.reply)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrUnsafeSQL, tt.reply)
			continue
		}
		require.NoError(t, err, tt.reply)
		assert.Equal(t, tt.want, got)
	}
}

func openRobotDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE robot_arm (product_name TEXT, payload INTEGER, pdf_url TEXT);
		INSERT INTO robot_arm VALUES ('UR5e', 5, 'https://example.com/ur5e.pdf'), ('UR10e', 12, NULL), ('UR3e', 3, NULL);`)
	require.NoError(t, err)
	return db
}

func TestSQLToolRunsGeneratedQuery(t *testing.T) {
	db := openRobotDB(t)
	llm := &scriptedLLM{replies: []string{
		"SELECT product_name, payload, pdf_url FROM robot_arm WHERE payload >= 5 ORDER BY payload",
		"UR5e (5 kg) and UR10e (12 kg).",
	}}
	tool, err := NewSQLTool(SQLConfig{Schema: "robot_arm(product_name, payload, pdf_url)", MaxRows: 10}, db, llm, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSQLToolName, tool.Metadata().Name)

	out, err := tool.Run(context.Background(), map[string]any{"input": "Which arms carry at least 5 kg?"})
	require.NoError(t, err)
	assert.Equal(t, "UR5e (5 kg) and UR10e (12 kg).", out.Content)

	require.Len(t, llm.prompts, 2)
	assert.Contains(t, llm.prompts[0], "syntactically correct sqlite query")
	assert.Contains(t, llm.prompts[0], "robot_arm(product_name, payload, pdf_url)")
	assert.Contains(t, llm.prompts[1], "SQL Response: product_name | payload | pdf_url\nUR5e | 5 | https://example.com/ur5e.pdf\nUR10e | 12 | NULL")

	require.Len(t, out.Sources, 1)
	assert.Equal(t, "https://example.com/ur5e.pdf", out.Sources[0].Node.Metadata[domain.MetaPDFURL])
	assert.Equal(t, "UR5e", out.Sources[0].Node.Metadata[domain.MetaProductName])
}

func TestSQLToolRowCapAndUnsafe(t *testing.T) {
	db := openRobotDB(t)
	llm := &scriptedLLM{replies: []string{"SELECT product_name FROM robot_arm ORDER BY payload", "three arms"}}
	tool, err := NewSQLTool(SQLConfig{MaxRows: 1}, db, llm, nil)
	require.NoError(t, err)
	_, err = tool.Run(context.Background(), map[string]any{"input": "list"})
	require.NoError(t, err)
	assert.Contains(t, llm.prompts[1], "SQL Response: product_name\nUR3e\n...")

	llm = &scriptedLLM{replies: []string{"DROP TABLE robot_arm"}}
	tool, err = NewSQLTool(SQLConfig{}, db, llm, nil)
	require.NoError(t, err)
	_, err = tool.Run(context.Background(), map[string]any{"input": "delete everything"})
	assert.ErrorIs(t, err, ErrUnsafeSQL)
	assert.Len(t, llm.prompts, 1)
}
