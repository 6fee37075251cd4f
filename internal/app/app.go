// Package app assembles the agent from configuration: embedder, vector
// store provider, tools, tool selector and model.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ragagent/internal/agent"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	embgemini "ragagent/internal/embedding/gemini"
	embopenai "ragagent/internal/embedding/openai"
	"ragagent/internal/embedding/tfidf"
	"ragagent/internal/ingest"
	llmgemini "ragagent/internal/llm/gemini"
	llmopenai "ragagent/internal/llm/openai"
	"ragagent/internal/metrics"
	"ragagent/internal/rerank"
	"ragagent/internal/retrieval"
	"ragagent/internal/sqlstore"
	"ragagent/internal/tokens"
	"ragagent/internal/toolindex"
	"ragagent/internal/tools"
	"ragagent/internal/vectorstore"
	"ragagent/internal/vectorstore/chromem"
	"ragagent/internal/vectorstore/memory"
	"ragagent/internal/vectorstore/qdrant"
)

// App is a fully wired agent and the resources it owns.
type App struct {
	Agent    *agent.Agent
	Registry *tools.Registry
	Metrics  *prometheus.Registry

	provider vectorstore.ReadWriter
	closers  []func() error
}

// Option overrides a component built from configuration.
type Option func(*options)

type options struct {
	llm      domain.LLM
	embedder domain.Embedder
}

// WithLLM uses model instead of the configured chat client.
func WithLLM(model domain.LLM) Option { return func(o *options) { o.llm = model } }

// WithEmbedder uses e instead of the configured embedder.
func WithEmbedder(e domain.Embedder) Option { return func(o *options) { o.embedder = e } }

// Build wires the agent. With the memory provider the configured ingest
// paths are ingested first, since nothing persists between runs.
func Build(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	emb := o.embedder
	if emb == nil {
		var err error
		if emb, err = NewEmbedder(ctx, cfg.Embedder); err != nil {
			return nil, err
		}
	}
	prov, err := OpenProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{provider: prov, closers: []func() error{prov.Close}}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	var manifest ingest.Manifest
	if prov.Name() == "memory" {
		if len(cfg.Ingest.Paths) == 0 {
			return fail(fmt.Errorf("memory vector store needs ingest.paths: %w", domain.ErrEmptyVectorStore))
		}
		if manifest, err = Ingest(ctx, cfg, emb, prov, cfg.Ingest.Paths, logger); err != nil {
			return fail(err)
		}
	} else if manifest, err = ingest.LoadManifest(ManifestPath(cfg)); err != nil {
		return fail(err)
	}

	names, err := prov.Collections(ctx)
	if err != nil {
		return fail(fmt.Errorf("list collections: %w", err))
	}
	if len(names) == 0 {
		return fail(domain.ErrEmptyVectorStore)
	}

	model := o.llm
	if model == nil {
		if model, err = NewLLM(ctx, cfg.LLM); err != nil {
			return fail(err)
		}
	}

	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.Metrics)

	aggOpts := []retrieval.Option{
		retrieval.WithStoreTimeout(config.Seconds(cfg.Retrieval.StoreTimeoutSecs)),
		retrieval.WithLogger(logger),
		retrieval.WithMetrics(m),
	}
	if cfg.Rerank.Enabled {
		rr, err := NewReranker(cfg.Rerank, model)
		if err != nil {
			return fail(err)
		}
		aggOpts = append(aggOpts, retrieval.WithReranker(rr))
	}
	agg := retrieval.New(emb, aggOpts...)

	mode, err := domain.ParseQueryMode(cfg.Retrieval.Mode)
	if err != nil {
		return fail(err)
	}
	encoding := cfg.Retrieval.Encoding
	if encoding == "" {
		encoding = tokens.DefaultEncoding
	}
	counter := tokens.New(encoding, logger)

	a.Registry, err = tools.NewRegistry()
	if err != nil {
		return fail(err)
	}
	var collectionTools []domain.Tool
	for _, g := range GroupCollections(manifest, names) {
		stores := make([]domain.VectorStore, len(g.Collections))
		for i, name := range g.Collections {
			stores[i] = prov.Store(name)
		}
		tool, err := tools.NewCollectionTool(tools.CollectionConfig{
			Name:          g.Tool,
			Description:   g.Description,
			TopK:          cfg.Retrieval.TopK,
			Mode:          mode,
			Rerank:        cfg.Rerank.Enabled,
			RerankTopK:    cfg.Rerank.TopK,
			ContextTokens: cfg.Retrieval.ContextTokens,
		}, stores, agg, model, counter, logger)
		if err != nil {
			return fail(err)
		}
		if err := a.Registry.Register(tool); err != nil {
			return fail(err)
		}
		collectionTools = append(collectionTools, tool)
	}

	var sqlTool domain.Tool
	if cfg.SQL.Enabled {
		db, err := sqlstore.Open(ctx, sqlstore.Config{Driver: cfg.SQL.Driver, DSN: cfg.SQL.DSN, Tables: cfg.SQL.Tables}, logger)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, db.Close)
		schema, err := db.Schema(ctx)
		if err != nil {
			return fail(fmt.Errorf("read schema: %w", err))
		}
		sqlTool, err = tools.NewSQLTool(tools.SQLConfig{
			Name:        cfg.SQL.ToolName,
			Description: cfg.SQL.Description,
			Dialect:     db.Dialect(),
			Schema:      schema,
			MaxRows:     cfg.SQL.MaxRows,
		}, db, model, logger)
		if err != nil {
			return fail(err)
		}
		if err := a.Registry.Register(sqlTool); err != nil {
			return fail(err)
		}
	}

	agentCfg := agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
		ParseRetries:  cfg.Agent.ParseRetries,
		ToolTimeout:   config.Seconds(cfg.Agent.ToolTimeoutSecs),
		ModelTimeout:  config.Seconds(cfg.Agent.ModelTimeoutSecs),
		ToolTopK:      cfg.Tools.TopK,
	}
	if cfg.Agent.SystemHeaderFile != "" {
		header, err := os.ReadFile(cfg.Agent.SystemHeaderFile)
		if err != nil {
			return fail(fmt.Errorf("read system header: %w", err))
		}
		agentCfg.SystemHeader = string(header)
	}
	agentOpts := []agent.Option{agent.WithLogger(logger), agent.WithMetrics(m)}
	if cfg.Tools.Select {
		idxOpts := []toolindex.Option{toolindex.WithLogger(logger)}
		if sqlTool != nil {
			idxOpts = append(idxOpts, toolindex.WithSQLTool(sqlTool))
		}
		agentOpts = append(agentOpts, agent.WithSelector(toolindex.New(emb, collectionTools, idxOpts...)))
	}
	if a.Agent, err = agent.New(model, a.Registry, agentCfg, agentOpts...); err != nil {
		return fail(err)
	}
	logger.Info("agent ready", "tools", a.Registry.Len(), "store", prov.Name(), "embedder", emb.Name())
	return a, nil
}

// ToolGroup is the set of collections served by one collection tool.
type ToolGroup struct {
	Tool        string
	Description string
	Collections []string
}

// GroupCollections groups collection names by the tool the manifest assigns
// them, so that every collection of one product (its PDF and text sources)
// is queried through a single tool. Collections missing from the manifest
// get a tool named after the collection. Groups keep first-seen order.
func GroupCollections(manifest ingest.Manifest, names []string) []ToolGroup {
	var groups []ToolGroup
	byTool := map[string]int{}
	for _, name := range names {
		tool := tools.SanitizeName(name)
		var desc string
		if entry, ok := manifest.Lookup(name); ok {
			if entry.Tool != "" {
				tool = entry.Tool
			}
			desc = strings.TrimSpace(entry.Description)
		}
		i, ok := byTool[tool]
		if !ok {
			i = len(groups)
			byTool[tool] = i
			groups = append(groups, ToolGroup{Tool: tool})
		}
		g := &groups[i]
		g.Collections = append(g.Collections, name)
		if desc != "" && !strings.Contains(g.Description, desc) {
			g.Description = strings.TrimSpace(g.Description + " " + desc)
		}
	}
	for i := range groups {
		if groups[i].Description == "" {
			groups[i].Description = fmt.Sprintf("Answers questions using the documents in %s.", strings.Join(groups[i].Collections, ", "))
		}
	}
	return groups
}

// Summary lists the tools, for display.
func (a *App) Summary() string {
	names := make([]string, 0, a.Registry.Len())
	for _, md := range a.Registry.Descriptions() {
		names = append(names, md.Name)
	}
	return fmt.Sprintf("%d tools: %s", len(names), strings.Join(names, ", "))
}

// Close releases the provider and database handles.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Ingest runs the ingestion pipeline over paths. For persistent providers
// the manifest next to the data is updated.
func Ingest(ctx context.Context, cfg *config.AppConfig, emb domain.Embedder, w vectorstore.ReadWriter, paths []string, logger *slog.Logger) (ingest.Manifest, error) {
	p := ingest.New(ingest.Config{
		SentencesPerChunk: cfg.Ingest.SentencesPerChunk,
		OverlapSentences:  cfg.Ingest.OverlapSentences,
		SummarySentences:  cfg.Ingest.SummarySentences,
		Workers:           cfg.Ingest.Workers,
	}, emb, w, logger)
	manifest, err := p.Run(ctx, paths)
	if err != nil {
		return manifest, err
	}
	if w.Name() == "memory" {
		return manifest, nil
	}
	path := ManifestPath(cfg)
	existing, err := ingest.LoadManifest(path)
	if err != nil {
		return manifest, err
	}
	merged := existing.Merge(manifest)
	if err := merged.Save(path); err != nil {
		return manifest, fmt.Errorf("save manifest: %w", err)
	}
	return merged, nil
}

// ManifestPath is where the collection manifest lives.
func ManifestPath(cfg *config.AppConfig) string {
	return filepath.Join(cfg.Ingest.DataDir, ingest.ManifestFile)
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(ctx context.Context, cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		return embopenai.NewClient(embopenai.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Timeout:   config.Seconds(cfg.TimeoutSecs),
		})
	case "gemini":
		return embgemini.New(ctx, embgemini.Config{APIKeyEnv: cfg.APIKeyEnv, Model: cfg.Model})
	}
	return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
}

// NewLLM builds the configured chat client.
func NewLLM(ctx context.Context, cfg config.LLMConfig) (domain.LLM, error) {
	switch cfg.Type {
	case "openai":
		return llmopenai.NewClient(llmopenai.Config{
			BaseURL:     cfg.BaseURL,
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     config.Seconds(cfg.TimeoutSecs),
			MaxRetries:  cfg.MaxRetries,
		})
	case "gemini":
		return llmgemini.New(ctx, llmgemini.Config{
			APIKeyEnv:   cfg.APIKeyEnv,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	}
	return nil, fmt.Errorf("unknown llm type %q", cfg.Type)
}

// NewReranker builds the configured reranker. The llm reranker reuses the
// chat model.
func NewReranker(cfg config.RerankConfig, model domain.LLM) (domain.Reranker, error) {
	switch cfg.Type {
	case "llm":
		return rerank.NewLLM(model), nil
	case "http":
		return rerank.NewHTTP(rerank.HTTPConfig{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Timeout:   config.Seconds(cfg.TimeoutSecs),
		})
	case "none":
		return rerank.NoOp{}, nil
	}
	return nil, fmt.Errorf("unknown rerank type %q", cfg.Type)
}

// OpenProvider opens the configured vector store.
func OpenProvider(cfg *config.AppConfig, logger *slog.Logger) (vectorstore.ReadWriter, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "memory":
		return memory.NewProvider(), nil
	case "chromem":
		c := config.ChromemConfig{Path: filepath.Join(cfg.Ingest.DataDir, "chromem")}
		if vs.Chromem != nil {
			c = *vs.Chromem
		}
		return chromem.NewProvider(chromem.Config{Path: c.Path, Compress: c.Compress}, logger)
	case "qdrant":
		q := config.QdrantConfig{Host: "localhost", Port: 6334}
		if vs.Qdrant != nil {
			q = *vs.Qdrant
		}
		return qdrant.NewProvider(qdrant.Config{Host: q.Host, Port: q.Port, APIKey: q.APIKey, UseTLS: q.UseTLS}, logger)
	}
	return nil, fmt.Errorf("unknown vector store type %q", vs.Type)
}
