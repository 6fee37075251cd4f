package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
)

type fakeAgent struct {
	histories [][]domain.Message
	result    agent.Result
	err       error
}

func (f *fakeAgent) Run(ctx context.Context, query string, history []domain.Message) (agent.Result, error) {
	f.histories = append(f.histories, history)
	return f.result, f.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func TestAskCommandRunsAgent(t *testing.T) {
	fa := &fakeAgent{result: agent.Result{Response: "Six joints.", Iterations: 1}}
	ctx, cancel := context.WithCancel(context.Background())
	history := []domain.Message{{Role: domain.RoleUser, Content: "earlier"}}

	msg := ask(ctx, cancel, fa, "How many joints?", history)()
	got, ok := msg.(answerMsg)
	require.True(t, ok)
	assert.Equal(t, "How many joints?", got.query)
	assert.Equal(t, "Six joints.", got.result.Response)
	assert.Equal(t, [][]domain.Message{history}, fa.histories)
	assert.Error(t, ctx.Err(), "turn context is released when the turn ends")
}

func TestAnswerKeepsHistoryAndRendersSources(t *testing.T) {
	m := sized(t, New(context.Background(), &fakeAgent{}, "collections: ur5e"))
	m.busy = true

	next, _ := m.Update(answerMsg{turn{
		query: "UR5e reach?",
		result: agent.Result{
			Response:   "It is a cobot. The UR5e reach is 850 mm.",
			Iterations: 2,
			Sources:    []agent.Source{{URL: "file:///docs/ur5e.pdf", Pages: []int{3}}},
		},
	}})
	m = next.(Model)

	assert.False(t, m.busy)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "UR5e reach?"},
		{Role: domain.RoleAssistant, Content: "It is a cobot. The UR5e reach is 850 mm."},
	}, m.history)
	out := renderTranscript(m.turns)
	assert.Contains(t, out, "You: UR5e reach?")
	assert.Contains(t, out, "850 mm")
	assert.Contains(t, out, "file:///docs/ur5e.pdf (pages 3)")
	assert.Contains(t, m.View(), "Answered in 2 iterations.")
}

func TestFailedAndFallbackTurnsAreNotHistory(t *testing.T) {
	m := sized(t, New(context.Background(), &fakeAgent{}, ""))

	next, _ := m.Update(answerMsg{turn{query: "q1", err: errors.New("boom")}})
	m = next.(Model)
	next, _ = m.Update(answerMsg{turn{query: "q2", result: agent.Result{Response: agent.FallbackResponse, Fallback: true, Iterations: 6}}})
	m = next.(Model)

	assert.Empty(t, m.history)
	assert.Len(t, m.turns, 2)
	assert.Contains(t, renderTranscript(m.turns), "Error: boom")
	assert.Contains(t, m.status, "No answer after 6 iterations.")
}

func TestEnterIgnoredWhileBusy(t *testing.T) {
	m := sized(t, New(context.Background(), &fakeAgent{}, ""))
	m.input.SetValue("hello")
	m.busy = true
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "hello", next.(Model).input.Value())
}

func TestHighlightBestSentence(t *testing.T) {
	assert.Equal(t, "Only one sentence.", highlightBestSentence("Only one sentence.", "sentence"))
	out := highlightBestSentence("Payload is 5 kg. Reach is 850 mm.", "what is the reach")
	assert.Contains(t, out, "Payload is 5 kg.")
	assert.Contains(t, out, "Reach is 850 mm.")
	assert.Equal(t, 2, tokenOverlapScore(toTokenSet("reach is"), "Reach is reach"))
}
