// Package agent runs the reason-act loop: prompt the model, parse its
// reply, dispatch the requested tools, and feed the observations back until
// the model answers or the iteration budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"ragagent/internal/domain"
	"ragagent/internal/metrics"
	"ragagent/internal/reasoning"
	"ragagent/internal/tools"
)

// FallbackResponse is returned when the loop ends without an answer.
const FallbackResponse = "Sorry, I cannot answer your query."

const (
	DefaultMaxIterations = 6
	DefaultParseRetries  = 1
	DefaultToolTimeout   = 60 * time.Second
	DefaultModelTimeout  = 120 * time.Second
	DefaultToolTopK      = 8
)

var tracer = otel.Tracer("ragagent/agent")

// ToolSelector narrows the registry to the tools relevant for a query.
type ToolSelector interface {
	Select(ctx context.Context, query string, topK int) ([]domain.Tool, error)
}

// Config bounds a turn.
type Config struct {
	MaxIterations int
	// ParseRetries is how many consecutive unparseable replies are retried
	// before giving up. Negative disables retries.
	ParseRetries int
	ToolTimeout  time.Duration
	ModelTimeout time.Duration
	SystemHeader string
	ToolTopK     int
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	switch {
	case c.ParseRetries == 0:
		c.ParseRetries = DefaultParseRetries
	case c.ParseRetries < 0:
		c.ParseRetries = 0
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = DefaultModelTimeout
	}
	if c.SystemHeader == "" {
		c.SystemHeader = reasoning.AdvisorSystemHeader
	}
	if c.ToolTopK <= 0 {
		c.ToolTopK = DefaultToolTopK
	}
}

// Agent answers queries with a model and a tool registry. It holds no
// per-turn state and may serve concurrent turns.
type Agent struct {
	llm      domain.LLM
	registry *tools.Registry
	selector ToolSelector
	parser   *reasoning.OutputParser
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Agent.
type Option func(*Agent)

// WithSelector narrows the tools offered per turn.
func WithSelector(s ToolSelector) Option { return func(a *Agent) { a.selector = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(a *Agent) { a.metrics = m } }

// New creates an agent.
func New(llm domain.LLM, registry *tools.Registry, cfg Config, opts ...Option) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("agent: no model")
	}
	if registry == nil {
		registry = &tools.Registry{}
	}
	cfg.applyDefaults()
	a := &Agent{llm: llm, registry: registry, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.parser = reasoning.NewOutputParser(a.logger)
	return a, nil
}

// Result is the outcome of one turn.
type Result struct {
	TurnID     string
	Response   string
	Sources    []Source
	Iterations int
	Steps      []reasoning.Step
	// Fallback is set when the turn ended without a model answer.
	Fallback bool
}

// Exchange returns the query and response as chat history for the next turn.
func (r Result) Exchange(query string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleUser, Content: query},
		{Role: domain.RoleAssistant, Content: r.Response},
	}
}

// Run answers query. history holds earlier turns of the conversation. The
// only errors returned come from cancellation of ctx; running out of
// iterations yields FallbackResponse.
func (a *Agent) Run(ctx context.Context, query string, history []domain.Message) (Result, error) {
	res := Result{TurnID: uuid.NewString()}
	ctx, span := tracer.Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(attribute.String("agent.turn_id", res.TurnID))
	logger := a.logger.With("turn", res.TurnID)

	available := a.toolsFor(ctx, query, logger)
	metas := make([]domain.ToolMetadata, len(available))
	byName := make(map[string]domain.Tool, len(available))
	for i, t := range available {
		metas[i] = t.Metadata()
		byName[metas[i].Name] = t
	}
	system := reasoning.RenderSystemHeader(a.cfg.SystemHeader, metas)

	var transcript reasoning.Transcript
	var outputs []domain.ToolOutput
	parseFailures := 0

	for res.Iterations < a.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return a.cancelled(res, &transcript, span, err)
		}
		res.Iterations++
		reply, err := a.callModel(ctx, reasoning.ChatMessages(system, history, query, transcript.Steps()))
		if err != nil {
			if ctx.Err() != nil {
				return a.cancelled(res, &transcript, span, ctx.Err())
			}
			logger.Warn("model call failed", "iteration", res.Iterations, "error", err)
			continue
		}

		step, err := a.parser.Parse(reply, false)
		if err != nil {
			a.metrics.ParseFailure()
			parseFailures++
			if parseFailures > a.cfg.ParseRetries {
				logger.Warn("giving up after unparseable replies", "failures", parseFailures, "error", err)
				break
			}
			logger.Warn("unparseable model reply; retrying", "iteration", res.Iterations, "error", err)
			continue
		}
		parseFailures = 0

		switch s := step.(type) {
		case reasoning.ResponseStep:
			if err := transcript.Append(s); err != nil {
				return res, err
			}
			res.Response = s.Response
			res.Sources = CollectSources(outputs)
			res.Steps = transcript.Steps()
			a.metrics.Turn(metrics.OutcomeAnswered)
			logger.Info("turn answered", "iterations", res.Iterations, "sources", len(res.Sources))
			return res, nil
		case reasoning.ActionStepArr:
			obs, outs := a.dispatch(ctx, s, byName, logger)
			if err := ctx.Err(); err != nil {
				return a.cancelled(res, &transcript, span, err)
			}
			if err := transcript.Append(append([]reasoning.Step{s}, obs...)...); err != nil {
				return res, err
			}
			outputs = append(outputs, outs...)
		}
	}

	_ = transcript.Append(reasoning.ResponseStep{Thought: "Iteration budget exhausted.", Response: FallbackResponse})
	res.Response = FallbackResponse
	res.Fallback = true
	res.Steps = transcript.Steps()
	a.metrics.Turn(metrics.OutcomeFallback)
	logger.Info("turn ended without an answer", "iterations", res.Iterations)
	return res, nil
}

func (a *Agent) cancelled(res Result, transcript *reasoning.Transcript, span trace.Span, err error) (Result, error) {
	res.Steps = transcript.Steps()
	a.metrics.Turn(metrics.OutcomeCancelled)
	span.RecordError(err)
	return res, err
}

// toolsFor returns the tools offered this turn, in a stable order.
func (a *Agent) toolsFor(ctx context.Context, query string, logger *slog.Logger) []domain.Tool {
	if a.selector == nil {
		return a.registry.List()
	}
	selected, err := a.selector.Select(ctx, query, a.cfg.ToolTopK)
	if err != nil || len(selected) == 0 {
		if err != nil {
			logger.Warn("tool selection failed; offering every tool", "error", err)
		}
		return a.registry.List()
	}
	return selected
}

func (a *Agent) callModel(ctx context.Context, msgs []domain.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ModelTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "agent.model")
	defer span.End()
	reply, err := a.llm.Chat(ctx, msgs)
	a.metrics.ModelCall(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call")
	}
	return reply, err
}

// dispatch runs every action of arr concurrently. A failing or slow tool
// does not cancel its siblings. Observations keep the action order.
func (a *Agent) dispatch(ctx context.Context, arr reasoning.ActionStepArr, available map[string]domain.Tool, logger *slog.Logger) ([]reasoning.Step, []domain.ToolOutput) {
	steps := arr.Steps()
	obs := make([]reasoning.Step, len(steps))
	outs := make([]domain.ToolOutput, len(steps))
	var g errgroup.Group
	for i, st := range steps {
		g.Go(func() error {
			out, err := a.runTool(ctx, st, available)
			if err != nil {
				logger.Warn("tool call failed", "action", st.Action, "error", err)
				obs[i] = reasoning.ObservationStep{Observation: "Error: " + err.Error()}
				return nil
			}
			obs[i] = reasoning.ObservationStep{Observation: out.Content}
			outs[i] = out
			return nil
		})
	}
	_ = g.Wait()
	return obs, outs
}

func (a *Agent) runTool(ctx context.Context, st reasoning.ActionStep, available map[string]domain.Tool) (domain.ToolOutput, error) {
	name := NormalizeToolName(st.Action)
	tool, ok := available[name]
	if !ok {
		var err error
		if tool, err = a.registry.Get(name); err != nil {
			return domain.ToolOutput{}, fmt.Errorf("%w: %q", tools.ErrToolNotFound, name)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ToolTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "agent.tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name))

	out, err := tool.Run(ctx, st.ActionInput)
	a.metrics.ToolCall(name, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool run")
		return domain.ToolOutput{}, err
	}
	return out, nil
}

// NormalizeToolName strips the punctuation models tend to wrap tool names in.
func NormalizeToolName(name string) string {
	return strings.Trim(name, " .`'\"")
}
