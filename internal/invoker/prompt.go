package invoker

import (
	"encoding/json"

	"github.com/rgould/conductor/internal/tools"
)

const basePrompt = `You are an autonomous agent with a set of tools available to help you complete the user's task.

RULES:
- You may only take actions by emitting tool calls in the format below.
- Think through the task step by step before acting.
- Never fabricate file contents or command results. Use tools to get real data.
- Stop when the task is complete or no further tool calls are useful.

TOOL CALL FORMAT:
To invoke a tool, include a block of this exact form in your response:

<tool_call>
{"tool": "<tool_name>", "parameters": {"<name>": <value>}}
</tool_call>

You may emit more than one block per response; each is executed in order and
its result is returned to you before your next turn. When the task is
complete, respond with no tool-call block and state your final answer as
plain text.
`

// buildSystemPrompt assembles base instructions plus the tool catalogue.
// Schemas go in as JSON so the agent has exact parameter names and types;
// prose descriptions alone are not reliable for structured output from
// smaller models.
func buildSystemPrompt(registry *tools.Registry) string {
	schema, err := json.MarshalIndent(registry.PromptSchema(), "", "  ")
	if err != nil {
		schema = []byte("[]")
	}
	return basePrompt + "\nAVAILABLE TOOLS:\n" + string(schema) + "\n"
}
