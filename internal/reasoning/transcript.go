package reasoning

import "strings"

// Transcript is the ordered reasoning of one turn. It only grows, and once a
// terminal step is appended nothing else can follow it.
type Transcript struct {
	steps []Step
}

// Append adds steps in order. It fails with ErrTranscriptClosed if the
// transcript is already terminated, and appends nothing in that case.
func (t *Transcript) Append(steps ...Step) error {
	closed := t.Done()
	for _, s := range steps {
		if closed {
			return ErrTranscriptClosed
		}
		closed = s.IsDone()
	}
	t.steps = append(t.steps, steps...)
	return nil
}

// Steps returns a copy of the recorded steps.
func (t *Transcript) Steps() []Step {
	out := make([]Step, len(t.steps))
	copy(out, t.steps)
	return out
}

// Len returns the number of steps.
func (t *Transcript) Len() int { return len(t.steps) }

// Done reports whether the last step is terminal.
func (t *Transcript) Done() bool {
	return len(t.steps) > 0 && t.steps[len(t.steps)-1].IsDone()
}

// Render joins the content of all steps, one block per step.
func (t *Transcript) Render() string {
	parts := make([]string, len(t.steps))
	for i, s := range t.steps {
		parts[i] = s.Content()
	}
	return strings.Join(parts, "\n")
}
