package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse is returned when model output matches no recognised shape.
	ErrParse = errors.New("reasoning: could not parse model output")
	// ErrUnsupportedFormat is returned by OutputParser.Format.
	ErrUnsupportedFormat = errors.New("reasoning: format is not supported by the output parser")
	// ErrTranscriptClosed is returned when appending after a terminal step.
	ErrTranscriptClosed = errors.New("reasoning: transcript already has a terminal step")
)

// Step is one unit of agent reasoning. The set of implementations is closed.
type Step interface {
	// Content renders the step the way it is shown back to the model.
	Content() string
	// IsDone reports whether the step terminates the turn.
	IsDone() bool
	step()
}

// ActionStep is a single tool call.
type ActionStep struct {
	Thought     string
	Action      string
	ActionInput map[string]any
}

func (s ActionStep) Content() string {
	return fmt.Sprintf("Thought: %s\nAction: %s\nAction Input: %s", s.Thought, s.Action, formatInput(s.ActionInput))
}

func (ActionStep) IsDone() bool { return false }
func (ActionStep) step()        {}

// ActionStepArr holds parallel tool calls emitted in one model reply.
// The three slices always have equal length.
type ActionStepArr struct {
	Thoughts     []string
	Actions      []string
	ActionInputs []map[string]any
}

// NewActionStepArr builds an ActionStepArr, rejecting slices of unequal length.
func NewActionStepArr(thoughts, actions []string, inputs []map[string]any) (ActionStepArr, error) {
	if len(thoughts) != len(actions) || len(actions) != len(inputs) {
		return ActionStepArr{}, fmt.Errorf("reasoning: mismatched action step lengths %d/%d/%d", len(thoughts), len(actions), len(inputs))
	}
	return ActionStepArr{Thoughts: thoughts, Actions: actions, ActionInputs: inputs}, nil
}

// Len returns the number of actions.
func (s ActionStepArr) Len() int { return len(s.Actions) }

// Steps unpacks the parallel slices into single action steps.
func (s ActionStepArr) Steps() []ActionStep {
	out := make([]ActionStep, len(s.Actions))
	for i := range s.Actions {
		out[i] = ActionStep{Thought: s.Thoughts[i], Action: s.Actions[i], ActionInput: s.ActionInputs[i]}
	}
	return out
}

func (s ActionStepArr) Content() string {
	var b strings.Builder
	for i := range s.Actions {
		if i > 0 {
			b.WriteByte('\n')
		}
		n := i + 1
		fmt.Fprintf(&b, "Thought %d: %s\nAction %d: %s\nAction Input %d: %s", n, s.Thoughts[i], n, s.Actions[i], n, formatInput(s.ActionInputs[i]))
	}
	return b.String()
}

func (ActionStepArr) IsDone() bool { return false }
func (ActionStepArr) step()        {}

// ObservationStep is the text returned by a tool dispatch.
type ObservationStep struct {
	Observation string
}

func (s ObservationStep) Content() string { return "Observation: " + s.Observation }
func (ObservationStep) IsDone() bool      { return false }
func (ObservationStep) step()             {}

// ResponseStep is the final answer of a turn.
type ResponseStep struct {
	Thought     string
	Response    string
	IsStreaming bool
}

func (s ResponseStep) Content() string {
	if s.IsStreaming {
		return fmt.Sprintf("Thought: %s\nResponse (Starts With): %s ...", s.Thought, s.Response)
	}
	return fmt.Sprintf("Thought: %s\nResponse: %s", s.Thought, s.Response)
}

func (ResponseStep) IsDone() bool { return true }
func (ResponseStep) step()        {}

// formatInput renders action input as JSON. Map keys are emitted sorted, so
// the same input always produces the same prompt text.
func formatInput(in map[string]any) string {
	if in == nil {
		return "{}"
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprint(in)
	}
	return string(data)
}
