package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig selects and configures the chat model.
type LLMConfig struct {
	Type        string  `yaml:"type"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string `yaml:"type"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	Model       string `yaml:"model,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type    string         `yaml:"type"`
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`
	Qdrant  *QdrantConfig  `yaml:"qdrant,omitempty"`
}

// ChromemConfig configures the embedded chromem database.
type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls"`
}

// RetrievalConfig tunes the retrieval aggregator.
type RetrievalConfig struct {
	TopK             int    `yaml:"top_k"`
	Mode             string `yaml:"mode"`
	StoreTimeoutSecs int    `yaml:"store_timeout_secs"`
	ContextTokens    int    `yaml:"context_tokens"`
	Encoding         string `yaml:"encoding,omitempty"`
}

// RerankConfig enables and selects the reranker.
type RerankConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Type        string `yaml:"type"`
	TopK        int    `yaml:"top_k"`
	BaseURL     string `yaml:"base_url,omitempty"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty"`
	Model       string `yaml:"model,omitempty"`
	TimeoutSecs int    `yaml:"timeout_secs,omitempty"`
}

// AgentConfig bounds the reason-act loop.
type AgentConfig struct {
	MaxIterations    int    `yaml:"max_iterations"`
	ParseRetries     int    `yaml:"parse_retries"`
	ToolTimeoutSecs  int    `yaml:"tool_timeout_secs"`
	ModelTimeoutSecs int    `yaml:"model_timeout_secs"`
	SystemHeaderFile string `yaml:"system_header_file,omitempty"`
}

// ToolsConfig controls tool selection.
type ToolsConfig struct {
	Select bool `yaml:"select"`
	TopK   int  `yaml:"top_k"`
}

// SQLConfig enables the text-to-SQL tool.
type SQLConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Tables      []string `yaml:"tables,omitempty"`
	ToolName    string   `yaml:"tool_name,omitempty"`
	Description string   `yaml:"description,omitempty"`
	MaxRows     int      `yaml:"max_rows"`
}

// IngestConfig configures chunking and where the collection manifest lives.
type IngestConfig struct {
	DataDir           string   `yaml:"data_dir"`
	Paths             []string `yaml:"paths,omitempty"`
	SentencesPerChunk int      `yaml:"sentences_per_chunk"`
	OverlapSentences  int      `yaml:"overlap_sentences"`
	SummarySentences  int      `yaml:"summary_sentences"`
	Workers           int      `yaml:"workers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	LLM         LLMConfig         `yaml:"llm"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Rerank      RerankConfig      `yaml:"rerank"`
	Agent       AgentConfig       `yaml:"agent"`
	Tools       ToolsConfig       `yaml:"tools"`
	SQL         SQLConfig         `yaml:"sql"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragagent/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragagent/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDotEnv loads .env files without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate rejects unknown implementation names.
func (c *AppConfig) Validate() error {
	checks := []struct {
		field, value string
		allowed      []string
	}{
		{"llm.type", c.LLM.Type, []string{"openai", "gemini"}},
		{"embedder.type", c.Embedder.Type, []string{"tfidf", "openai", "gemini"}},
		{"vector_store.type", c.VectorStore.Type, []string{"memory", "chromem", "qdrant"}},
		{"retrieval.mode", c.Retrieval.Mode, []string{"default", "sparse", "hybrid"}},
		{"rerank.type", c.Rerank.Type, []string{"llm", "http", "none"}},
		{"log.format", c.Log.Format, []string{"text", "json"}},
	}
	for _, ch := range checks {
		ok := false
		for _, a := range ch.allowed {
			ok = ok || ch.value == a
		}
		if !ok {
			return fmt.Errorf("unknown %s %q", ch.field, ch.value)
		}
	}
	if c.Embedder.Type == "tfidf" && c.VectorStore.Type != "memory" {
		return fmt.Errorf("embedder tfidf is fitted per process and only works with vector_store memory")
	}
	return nil
}

// Seconds converts a seconds field to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragagent", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		LLM:         LLMConfig{Type: "openai", Model: "gpt-4o-mini", Temperature: 0, TimeoutSecs: 120},
		Embedder:    EmbedderConfig{Type: "tfidf"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Retrieval:   RetrievalConfig{TopK: 5, Mode: "default", StoreTimeoutSecs: 10, ContextTokens: 3000},
		Rerank:      RerankConfig{Type: "llm", TopK: 15},
		Agent:       AgentConfig{MaxIterations: 6, ParseRetries: 1, ToolTimeoutSecs: 60, ModelTimeoutSecs: 120},
		Tools:       ToolsConfig{Select: true, TopK: 8},
		SQL:         SQLConfig{Driver: "sqlite3", MaxRows: 50},
		Ingest:      IngestConfig{DataDir: "data", SentencesPerChunk: 5, OverlapSentences: 1, SummarySentences: 3},
		Server:      ServerConfig{Addr: ":8080"},
		Log:         LogConfig{Level: "info", Format: "text"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.LLM.Type == "" {
		cfg.LLM.Type = def.LLM.Type
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Type == "chromem" && cfg.VectorStore.Chromem == nil {
		cfg.VectorStore.Chromem = &ChromemConfig{Path: filepath.Join(cfg.Ingest.DataDir, "chromem")}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{Host: "localhost", Port: 6334}
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = def.Retrieval.Mode
	}
	if cfg.Retrieval.StoreTimeoutSecs <= 0 {
		cfg.Retrieval.StoreTimeoutSecs = def.Retrieval.StoreTimeoutSecs
	}
	if cfg.Rerank.Type == "" {
		cfg.Rerank.Type = def.Rerank.Type
	}
	if cfg.Rerank.TopK <= 0 {
		cfg.Rerank.TopK = def.Rerank.TopK
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if cfg.Tools.TopK <= 0 {
		cfg.Tools.TopK = def.Tools.TopK
	}
	if cfg.Ingest.DataDir == "" {
		cfg.Ingest.DataDir = def.Ingest.DataDir
	}
	if cfg.Ingest.SentencesPerChunk == 0 {
		cfg.Ingest.SentencesPerChunk = def.Ingest.SentencesPerChunk
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}
