package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"

	"ragagent/internal/app"
	"ragagent/internal/config"
	"ragagent/internal/logger"
	"ragagent/internal/server"
	"ragagent/internal/tui"
)

// CLI defines the command-line interface.
type CLI struct {
	Ingest IngestCmd `cmd:"" help:"Ingest documents into vector collections."`
	Ask    AskCmd    `cmd:"" help:"Answer a single question and exit."`
	Chat   ChatCmd   `cmd:"" help:"Start the interactive chat UI."`
	Serve  ServeCmd  `cmd:"" help:"Serve the HTTP API."`

	Config        string `short:"c" help:"Path to config file (default ./config.yaml, then ~/.config/ragagent/config.yaml)." type:"path"`
	TopK          int    `name:"top-k" help:"Nodes returned per retrieval (overrides retrieval.top_k)."`
	Rerank        *bool  `help:"Rerank retrieved nodes (overrides rerank.enabled)." negatable:""`
	MaxIterations int    `name:"max-iterations" help:"Reason-act iteration budget (overrides agent.max_iterations)."`
	LogLevel      string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFormat     string `name:"log-format" help:"Log format (text, json)."`
}

// setup loads configuration, applies flag overrides and installs the logger.
func (c *CLI) setup() (*config.AppConfig, *slog.Logger, error) {
	var (
		cfg  *config.AppConfig
		path string
		err  error
	)
	if c.Config != "" {
		path = c.Config
		cfg, err = config.Load(path)
	} else {
		cfg, path, err = config.LoadDefault()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if c.TopK > 0 {
		cfg.Retrieval.TopK = c.TopK
	}
	if c.Rerank != nil {
		cfg.Rerank.Enabled = *c.Rerank
	}
	if c.MaxIterations > 0 {
		cfg.Agent.MaxIterations = c.MaxIterations
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	log.Debug("config loaded", "path", path)
	return cfg, log, nil
}

// IngestCmd loads, chunks and embeds documents.
type IngestCmd struct {
	Paths []string `arg:"" optional:"" help:"Files, directories or globs (default ingest.paths)." type:"path"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	paths := c.Paths
	if len(paths) == 0 {
		paths = cfg.Ingest.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("no paths given and ingest.paths is empty")
	}
	emb, err := app.NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return err
	}
	prov, err := app.OpenProvider(cfg, log)
	if err != nil {
		return err
	}
	defer prov.Close()
	if prov.Name() == "memory" {
		log.Warn("memory vector store does not persist; collections are rebuilt from ingest.paths on every run")
	}

	manifest, err := app.Ingest(ctx, cfg, emb, prov, paths, log)
	if err != nil {
		return err
	}
	for _, col := range manifest.Collections {
		fmt.Printf("%s\ttool=%s\tchunks=%d\n", col.Name, col.Tool, col.Chunks)
	}
	return nil
}

// AskCmd answers one question.
type AskCmd struct {
	Query []string `arg:"" help:"Question to ask."`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Agent.Run(ctx, strings.Join(c.Query, " "), nil)
	if err != nil {
		return err
	}
	fmt.Println(res.Response)
	if len(res.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range res.Sources {
			fmt.Println("  - " + src.String())
		}
	}
	return nil
}

// ChatCmd runs the chat UI.
type ChatCmd struct{}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(tui.New(ctx, a.Agent, a.Summary()), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// ServeCmd serves the HTTP API.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides server.addr)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := cli.setup()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return server.New(a.Agent, a.Metrics, log).ListenAndServe(ctx, cfg.Server.Addr)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "ragagent:", err)
		os.Exit(1)
	}

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("ragagent"),
		kong.Description("Retrieval-augmented question answering agent over document collections."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
