package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Agent.MaxIterations)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 15, cfg.Rerank.TopK)
	assert.Equal(t, "memory", cfg.VectorStore.Type)
	assert.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  type: gemini
  model: gemini-2.0-flash
embedder:
  type: openai
  base_url: http://localhost:11434/v1
vector_store:
  type: chromem
retrieval:
  mode: hybrid
agent:
  max_iterations: 3
ingest:
  data_dir: /var/lib/ragagent
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Type)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, 1, cfg.Agent.ParseRetries)
	assert.Equal(t, "hybrid", cfg.Retrieval.Mode)
	assert.Equal(t, 10, cfg.Retrieval.StoreTimeoutSecs)
	require.NotNil(t, cfg.VectorStore.Chromem)
	assert.Equal(t, "/var/lib/ragagent/chromem", cfg.VectorStore.Chromem.Path)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown store": "vector_store:\n  type: pinecone\n",
		"tfidf qdrant":  "vector_store:\n  type: qdrant\n",
		"bad mode":      "retrieval:\n  mode: fuzzy\n",
	} {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.SQL.Enabled = true
	cfg.SQL.Tables = []string{"robot_arm"}
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("RAGAGENT_TEST_A=fromfile\nRAGAGENT_TEST_B=fromfile\n"), 0o644))
	t.Setenv("RAGAGENT_TEST_A", "fromenv")
	t.Setenv("RAGAGENT_TEST_B", "")
	os.Unsetenv("RAGAGENT_TEST_B")

	require.NoError(t, LoadDotEnv(env, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "fromenv", os.Getenv("RAGAGENT_TEST_A"))
	assert.Equal(t, "fromfile", os.Getenv("RAGAGENT_TEST_B"))
}

func TestLoadDotEnvReportsMalformedFile(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("GOOD_KEY=1\nBAD-KEY=2\n"), 0o644))
	err := LoadDotEnv(env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), env)
}
