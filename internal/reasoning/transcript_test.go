package reasoning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
)

func TestTranscriptSingleTerminalStep(t *testing.T) {
	var tr Transcript
	require.NoError(t, tr.Append(
		ActionStepArr{Thoughts: []string{"t"}, Actions: []string{"a"}, ActionInputs: []map[string]any{{"input": "q"}}},
		ObservationStep{Observation: "result"},
	))
	assert.False(t, tr.Done())

	require.NoError(t, tr.Append(ResponseStep{Thought: "done", Response: "answer"}))
	assert.True(t, tr.Done())
	assert.Equal(t, 3, tr.Len())

	err := tr.Append(ObservationStep{Observation: "late"})
	assert.ErrorIs(t, err, ErrTranscriptClosed)
	assert.Equal(t, 3, tr.Len())
}

func TestTranscriptRejectsTerminalInTheMiddle(t *testing.T) {
	var tr Transcript
	err := tr.Append(ResponseStep{Response: "early"}, ObservationStep{Observation: "after"})
	assert.ErrorIs(t, err, ErrTranscriptClosed)
	assert.Equal(t, 0, tr.Len())
}

func TestStepContent(t *testing.T) {
	assert.Equal(t, "Thought: x\nResponse: y", ResponseStep{Thought: "x", Response: "y"}.Content())
	assert.Equal(t, "Thought: x\nResponse (Starts With): y ...", ResponseStep{Thought: "x", Response: "y", IsStreaming: true}.Content())
	assert.Equal(t, "Observation: 5 kg", ObservationStep{Observation: "5 kg"}.Content())
	assert.Equal(t,
		"Thought: t\nAction: robot-arm-tool\nAction Input: {\"input\":\"q\"}",
		ActionStep{Thought: "t", Action: "robot-arm-tool", ActionInput: map[string]any{"input": "q"}}.Content())

	arr := ActionStepArr{
		Thoughts:     []string{"a", "b"},
		Actions:      []string{"tool-a", "tool-b"},
		ActionInputs: []map[string]any{{"input": "qa"}, {"input": "qb"}},
	}
	assert.Equal(t,
		"Thought 1: a\nAction 1: tool-a\nAction Input 1: {\"input\":\"qa\"}\n"+
			"Thought 2: b\nAction 2: tool-b\nAction Input 2: {\"input\":\"qb\"}",
		arr.Content())
}

func TestRenderedActionsParseBack(t *testing.T) {
	arr := ActionStepArr{
		Thoughts:     []string{"a", "b"},
		Actions:      []string{"tool-a", "tool-b"},
		ActionInputs: []map[string]any{{"input": "qa"}, {"input": "qb"}},
	}
	step, err := NewOutputParser(nil).Parse(arr.Content(), false)
	require.NoError(t, err)
	assert.Equal(t, arr, step)
}

func TestNewActionStepArrChecksLengths(t *testing.T) {
	_, err := NewActionStepArr([]string{"a"}, []string{"x", "y"}, []map[string]any{{}, {}})
	assert.Error(t, err)

	arr, err := NewActionStepArr([]string{"a"}, []string{"x"}, []map[string]any{{"input": "q"}})
	require.NoError(t, err)
	assert.Equal(t, []ActionStep{{Thought: "a", Action: "x", ActionInput: map[string]any{"input": "q"}}}, arr.Steps())
}

func TestRenderSystemHeader(t *testing.T) {
	out := RenderSystemHeader(AdvisorSystemHeader, []domain.ToolMetadata{
		{Name: "robot-arm-tool", Description: "Robot arm datasheets"},
		{Name: "database", Description: "SQL over devices"},
	})
	assert.NotContains(t, out, "{tool_desc}")
	assert.NotContains(t, out, "{tool_names}")
	assert.Contains(t, out, "> Tool Name: robot-arm-tool\nTool Description: Robot arm datasheets")
	assert.Contains(t, out, "(one of robot-arm-tool, database)")
	assert.True(t, strings.Index(out, "robot-arm-tool") < strings.Index(out, "> Tool Name: database"))
	assert.Contains(t, out, `{"input": "hello world"}`)
}

func TestChatMessagesRoles(t *testing.T) {
	history := []domain.Message{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAssistant, Content: "hello"}}
	steps := []Step{
		ActionStepArr{Thoughts: []string{"t"}, Actions: []string{"a"}, ActionInputs: []map[string]any{{"input": "q"}}},
		ObservationStep{Observation: "obs"},
	}
	msgs := ChatMessages("sys", history, "question", steps)
	require.Len(t, msgs, 6)
	assert.Equal(t, domain.Message{Role: domain.RoleSystem, Content: "sys"}, msgs[0])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "question"}, msgs[3])
	assert.Equal(t, domain.RoleAssistant, msgs[4].Role)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "Observation: obs"}, msgs[5])
}
