package reasoning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// MaxActions is the highest action index the protocol allows.
const MaxActions = 5

// ImplicitThought is the thought attached to replies that skip the protocol.
const ImplicitThought = "(Implicit) I can answer without any more tools!"

var (
	thoughtMarkerRe = regexp.MustCompile(`Thought [1-5]:`)
	answerRe        = regexp.MustCompile(`(?s)Thought 1:(.*?)Answer:(.*)`)
	actionRes       = buildActionPatterns()
)

// buildActionPatterns compiles one pattern per action index. Index 1 needs
// an explicit "Thought 1:" label, later indices accept a missing label.
func buildActionPatterns() []*regexp.Regexp {
	res := make([]*regexp.Regexp, MaxActions+1)
	res[1] = regexp.MustCompile(`(?s)\s*Thought 1:(.*?)Action 1:(.*?)Action Input 1:(.*?)(?:\n|$)`)
	for k := 2; k <= MaxActions; k++ {
		res[k] = regexp.MustCompile(fmt.Sprintf(`(?s)\s*(?:Thought %d:)?(.*?)Action %d:(.*?)Action Input %d:(.*?)(?:\n|$)`, k, k, k))
	}
	return res
}

// OutputParser turns raw model text into reasoning steps.
type OutputParser struct {
	logger *slog.Logger
}

// NewOutputParser returns a parser. A nil logger uses slog.Default.
func NewOutputParser(logger *slog.Logger) *OutputParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputParser{logger: logger}
}

// Parse classifies raw into a ResponseStep or an ActionStepArr.
func (p *OutputParser) Parse(raw string, streaming bool) (Step, error) {
	hasAnswer := strings.Contains(raw, "Answer:")
	if !hasAnswer && !thoughtMarkerRe.MatchString(raw) {
		return ResponseStep{Thought: ImplicitThought, Response: raw, IsStreaming: streaming}, nil
	}

	if hasAnswer {
		m := answerRe.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("%w: answer without a preceding \"Thought 1:\"", ErrParse)
		}
		return ResponseStep{
			Thought:     strings.TrimSpace(m[1]),
			Response:    strings.TrimSpace(m[2]),
			IsStreaming: streaming,
		}, nil
	}

	var thoughts, actions []string
	var inputs []map[string]any
	offset := 0
	for k := 1; k <= MaxActions; k++ {
		marker := fmt.Sprintf("Action %d:", k)
		if !strings.Contains(raw, marker) {
			continue
		}
		thought, action, input, end, ok := matchAction(raw, offset, k)
		if !ok {
			p.logger.Debug("action marker without a matching triple", "index", k)
			continue
		}
		offset = end
		args, err := DecodeActionInput(input)
		if err != nil {
			p.logger.Warn("dropping action with undecodable input", "index", k, "action", action, "error", err)
			continue
		}
		thoughts = append(thoughts, thought)
		actions = append(actions, action)
		inputs = append(inputs, args)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("%w: no usable action found", ErrParse)
	}
	return ActionStepArr{Thoughts: thoughts, Actions: actions, ActionInputs: inputs}, nil
}

// matchAction searches for triple k starting at offset, so an unlabelled
// thought for k>1 does not swallow earlier triples. It retries from the start
// of the text when the triple appears out of order.
func matchAction(raw string, offset, k int) (thought, action, input string, end int, ok bool) {
	re := actionRes[k]
	base := offset
	loc := re.FindStringSubmatchIndex(raw[offset:])
	if loc == nil && offset > 0 {
		base = 0
		loc = re.FindStringSubmatchIndex(raw)
	}
	if loc == nil {
		return "", "", "", offset, false
	}
	group := func(i int) string {
		return strings.TrimSpace(raw[base+loc[2*i] : base+loc[2*i+1]])
	}
	return group(1), group(2), group(3), base + loc[1], true
}

// Format is not supported: formatting instructions live in the prompt template.
func (p *OutputParser) Format(string) (string, error) {
	return "", ErrUnsupportedFormat
}

// DecodeActionInput extracts the object embedded in s and decodes it, first as
// JSON and then as a Python-style literal.
func DecodeActionInput(s string) (map[string]any, error) {
	obj, err := extractObject(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	jsonErr := json.Unmarshal([]byte(obj), &out)
	if jsonErr == nil && out != nil {
		return out, nil
	}
	v, err := parseLiteral(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: action input is neither JSON (%v) nor a literal (%v)", ErrParse, jsonErr, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: action input is not an object", ErrParse)
	}
	return m, nil
}

func extractObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("%w: no object in action input %q", ErrParse, s)
	}
	return s[start : end+1], nil
}
