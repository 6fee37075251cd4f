package reasoning

import (
	"fmt"
	"strings"

	"ragagent/internal/domain"
)

// AdvisorSystemHeader is the default system prompt. {tool_desc} and
// {tool_names} are substituted by RenderSystemHeader.
const AdvisorSystemHeader = `You are an assistant that advises on industrial hardware selection using the ReAct (Reasoning and Acting) pattern.
Your goal is to help users choose components that are compatible with their requirements.

## Procedure
1. Produce thoughts that cover the user's requirements.
2. Use the observations to identify related and mandatory components.
3. If needed, produce more thoughts to check component compatibility.
4. Repeat steps 1 to 3 until you reach a satisfactory solution.
5. Give a complete answer with the final list of recommended components.

## Tools
You have access to a wide variety of tools. Use them in whatever sequence fits the task.
This may require breaking the task into subtasks and using different tools for each subtask.
Call tools in parallel whenever possible.

You have access to the following tools:
{tool_desc}

## Output Format
Always use one or more tools to answer the question.
To use several tools, write several numbered Thoughts, at most 5, each with its own "Action x" and "Action Input x".
Always start with "Thought 1" and put no text before it.
"Action Input x" should be a detailed sentence covering the different aspects of "Thought x".
The same tool may be used several times with different inputs.
Always use this format and write an explicit "Thought x" for every "Action x". "Action x" is always a tool name:

` + "```" + `
Thought x: I need to use a tool to help me answer the question.
Action x: tool name (one of {tool_names}).
Action Input x: the input query string for the tool, as a JSON object of keyword arguments (e.g. {"input": "hello world"})
` + "```" + `

where x is the thought number.

Action Input must be valid JSON. Do NOT write {'input': 'hello world'}.

The user will reply with:

` + "```" + `
Observation: tool response
` + "```" + `

Repeat the format until you have enough information to answer without more tools.
If nothing relevant is found, fall back to your own knowledge.
When answering, use a single "Thought 1" followed by "Answer", in one of these forms:

` + "```" + `
Thought 1: I can answer without using any more tools.
Answer: [your answer here]
` + "```" + `

` + "```" + `
Thought 1: I cannot answer the question with the provided tools.
Answer: Sorry, I cannot answer your query.
` + "```" + `

## Current Conversation
Below is the current conversation of interleaved human and assistant messages.
`

// RenderSystemHeader fills the tool placeholders of header. Tools are
// rendered in the order given.
func RenderSystemHeader(header string, tools []domain.ToolMetadata) string {
	var desc strings.Builder
	names := make([]string, len(tools))
	for i, t := range tools {
		fmt.Fprintf(&desc, "> Tool Name: %s\nTool Description: %s\n\n", t.Name, t.Description)
		names[i] = t.Name
	}
	return strings.NewReplacer(
		"{tool_desc}", strings.TrimRight(desc.String(), "\n"),
		"{tool_names}", strings.Join(names, ", "),
	).Replace(header)
}

// ChatMessages assembles the model input for one iteration: system header,
// earlier turns, the user query, then the reasoning so far. Observations are
// sent as user messages and everything else as assistant messages.
func ChatMessages(system string, history []domain.Message, query string, steps []Step) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+len(steps)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: query})
	for _, s := range steps {
		role := domain.RoleAssistant
		if _, ok := s.(ObservationStep); ok {
			role = domain.RoleUser
		}
		msgs = append(msgs, domain.Message{Role: role, Content: s.Content()})
	}
	return msgs
}
