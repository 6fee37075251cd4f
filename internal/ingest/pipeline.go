// Package ingest loads documents, chunks and embeds them, and writes one
// vector collection per input file.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"ragagent/internal/domain"
	"ragagent/internal/tools"
	"ragagent/internal/vectorstore"
)

// Config tunes the pipeline.
type Config struct {
	SentencesPerChunk int
	OverlapSentences  int
	SummarySentences  int
	Workers           int
}

// Pipeline turns files into embedded collections.
type Pipeline struct {
	cfg        Config
	chunker    domain.Chunker
	embedder   domain.Embedder
	writer     vectorstore.Writer
	summarizer domain.Summarizer
	logger     *slog.Logger
}

// New creates a pipeline writing through writer.
func New(cfg Config, embedder domain.Embedder, writer vectorstore.Writer, logger *slog.Logger) *Pipeline {
	if cfg.SummarySentences <= 0 {
		cfg.SummarySentences = 3
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		chunker:    NewSentenceChunker(cfg.SentencesPerChunk, cfg.OverlapSentences),
		embedder:   embedder,
		writer:     writer,
		summarizer: NewFrequencySummarizer(),
		logger:     logger,
	}
}

type collectionJob struct {
	entry  Collection
	chunks []domain.Chunk
	text   strings.Builder
}

// Run ingests paths and returns the manifest of the collections it wrote.
// Files that cannot be loaded are skipped with a warning; Run fails only when
// nothing could be loaded or a write fails.
func (p *Pipeline) Run(ctx context.Context, paths []string) (Manifest, error) {
	files, err := ExpandPaths(paths)
	if err != nil {
		return Manifest{}, err
	}
	sources, loadErr := LoadAll(files)
	if len(sources) == 0 {
		if loadErr != nil {
			return Manifest{}, loadErr
		}
		return Manifest{}, fmt.Errorf("no supported documents found in %s", strings.Join(paths, ", "))
	}
	if loadErr != nil {
		p.logger.Warn("some files could not be loaded", "error", loadErr)
	}

	jobs, corpus, err := p.chunk(sources)
	if err != nil {
		return Manifest{}, err
	}
	if prep, ok := p.embedder.(domain.CorpusPreparer); ok {
		if err := prep.Prepare(corpus); err != nil {
			return Manifest{}, fmt.Errorf("prepare embedder: %w", err)
		}
	}

	var manifest Manifest
	for _, job := range jobs {
		nodes, err := p.embed(ctx, job.entry.Name, job.chunks)
		if err != nil {
			return manifest, err
		}
		if err := p.writer.Reset(ctx, job.entry.Name); err != nil {
			return manifest, fmt.Errorf("reset %s: %w", job.entry.Name, err)
		}
		if err := p.writer.Upsert(ctx, job.entry.Name, nodes); err != nil {
			return manifest, fmt.Errorf("upsert %s: %w", job.entry.Name, err)
		}
		summary, err := p.summarizer.Summarize(job.text.String(), p.cfg.SummarySentences)
		if err != nil {
			return manifest, err
		}
		job.entry.Description = summary
		job.entry.Chunks = len(nodes)
		manifest.Collections = append(manifest.Collections, job.entry)
		p.logger.Info("collection ingested", "collection", job.entry.Name, "chunks", len(nodes))
	}
	return manifest, nil
}

// chunk splits every source and returns one job per collection plus the
// full chunk corpus.
func (p *Pipeline) chunk(sources []Source) ([]*collectionJob, []string, error) {
	var jobs []*collectionJob
	byName := map[string]*collectionJob{}
	var corpus []string
	for _, src := range sources {
		name := CollectionName(src)
		job, ok := byName[name]
		if !ok {
			stem := strings.TrimPrefix(name, src.Kind+"_")
			job = &collectionJob{entry: Collection{Name: name, Tool: tools.SanitizeName(stem), Source: src.Path}}
			byName[name] = job
			jobs = append(jobs, job)
		}
		for _, doc := range src.Documents {
			chunks, err := p.chunker.Chunk(doc)
			if err != nil {
				return nil, nil, fmt.Errorf("chunk %s: %w", doc.Path, err)
			}
			for _, ch := range chunks {
				ch.Metadata[domain.MetaCollection] = name
				job.chunks = append(job.chunks, ch)
				corpus = append(corpus, ch.Text)
			}
			job.text.WriteString(doc.Content)
			job.text.WriteString("\n")
		}
	}
	return jobs, corpus, nil
}

// embed embeds chunks with at most Workers requests in flight. Results keep
// chunk order.
func (p *Pipeline) embed(ctx context.Context, collection string, chunks []domain.Chunk) ([]domain.Node, error) {
	nodes := make([]domain.Node, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, ch := range chunks {
		g.Go(func() error {
			vec, err := p.embedder.EmbedText(gctx, ch.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", ch.ChunkID, err)
			}
			nodes[i] = domain.Node{ID: ch.ChunkID, Content: ch.Text, Metadata: ch.Metadata, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embed %s: %w", collection, err)
	}
	return nodes, nil
}
