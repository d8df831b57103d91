package invoker

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// toolCallRE extracts <tool_call>...</tool_call> blocks. (?s) so the JSON
// body can span multiple lines.
var toolCallRE = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// Call is one tool-call request extracted from a model response.
type Call struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// ParseToolCalls extracts every tool-call block from a model response; a
// response may carry zero, one, or many. Malformed blocks are returned as
// errors rather than dropped so the caller can feed them back to the model
// for self-correction.
func ParseToolCalls(text string) ([]Call, []error) {
	matches := toolCallRE.FindAllStringSubmatch(text, -1)
	var calls []Call
	var malformed []error
	for _, m := range matches {
		var call Call
		if err := json.Unmarshal([]byte(m[1]), &call); err != nil {
			malformed = append(malformed, fmt.Errorf("invalid tool call JSON: %w", err))
			continue
		}
		if call.Tool == "" {
			malformed = append(malformed, fmt.Errorf(`tool call is missing the "tool" field`))
			continue
		}
		if call.Parameters == nil {
			call.Parameters = map[string]any{}
		}
		calls = append(calls, call)
	}
	return calls, malformed
}
