// Package tui is the interactive chat front end.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
)

// AgentPort is the TUI-facing subset of the agent.
type AgentPort interface {
	Run(ctx context.Context, query string, history []domain.Message) (agent.Result, error)
}

// turn is one finished exchange shown in the transcript.
type turn struct {
	query  string
	result agent.Result
	err    error
}

type answerMsg struct {
	turn
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	ctx      context.Context
	agent    AgentPort
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	turns    []turn
	history  []domain.Message
	summary  string
	status   string
	busy     bool
	cancel   context.CancelFunc
	ready    bool
}

// New creates a chat model. summary is shown under the header, typically the
// list of loaded collections.
func New(ctx context.Context, a AgentPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		agent:    a,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		summary:  summary,
		status:   "Ready. Esc cancels a running turn, Ctrl+C quits.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := transcriptBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header + summary, status, spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		m.cancel = nil
		m.turns = append(m.turns, msg.turn)
		switch {
		case msg.err != nil:
			m.status = "Error: " + msg.err.Error()
		case msg.result.Fallback:
			m.status = fmt.Sprintf("No answer after %d iterations.", msg.result.Iterations)
		default:
			m.history = append(m.history, msg.result.Exchange(msg.query)...)
			m.status = fmt.Sprintf("Answered in %d iterations.", msg.result.Iterations)
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "esc":
			if m.busy && m.cancel != nil {
				m.cancel()
				m.status = "Cancelling..."
			}
			return m, nil
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			m.status = fmt.Sprintf("Thinking about %q", q)
			ctx, cancel := context.WithCancel(m.ctx)
			m.cancel = cancel
			return m, tea.Batch(m.spinner.Tick, ask(ctx, cancel, m.agent, q, m.history))
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask runs one agent turn off the UI goroutine.
func ask(ctx context.Context, cancel context.CancelFunc, a AgentPort, q string, history []domain.Message) tea.Cmd {
	hist := append([]domain.Message(nil), history...)
	return func() tea.Msg {
		defer cancel()
		res, err := a.Run(ctx, q, hist)
		return answerMsg{turn{query: q, result: res, err: err}}
	}
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("RAG Agent")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	status = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(status)
	transcript := transcriptBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + transcript + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(renderTranscript(m.turns))
	m.viewport.GotoBottom()
}

func renderTranscript(turns []turn) string {
	if len(turns) == 0 {
		return "No questions yet."
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(queryStyle.Render("You: " + t.query))
		b.WriteString("\n")
		if t.err != nil {
			b.WriteString(errorStyle.Render("Error: " + t.err.Error()))
			continue
		}
		b.WriteString(highlightBestSentence(t.result.Response, t.query))
		if len(t.result.Sources) > 0 {
			b.WriteString("\n")
			b.WriteString(sourceStyle.Render("Sources:"))
			for _, src := range t.result.Sources {
				b.WriteString("\n")
				b.WriteString(sourceStyle.Render("  - " + src.String()))
			}
		}
	}
	return b.String()
}

var (
	transcriptBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	sourceStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	highlightStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe      = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe         = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
)

// highlightBestSentence emphasises the answer sentence sharing the most
// words with the query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) < 2 {
		return strings.TrimSpace(text)
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.TrimSpace(text)
	}
	bestIdx := -1
	bestScore := 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	out := make([]string, 0, len(sentences))
	for i, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if i == bestIdx {
			s = highlightStyle.Render(s)
		}
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
