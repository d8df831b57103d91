package tools

import (
	"log"
	"regexp"
)

// Secret-looking patterns masked out of tool results before they re-enter
// the model conversation. Pattern-based and best-effort; the allowlists in
// the individual tools are the real boundary.
var secretPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{10,}\b`), "[API_KEY_MASKED]"},
	{regexp.MustCompile(`\bpk_[A-Za-z0-9_-]{10,}\b`), "[API_KEY_MASKED]"},
	{regexp.MustCompile(`\bBearer\s+[A-Za-z0-9_.-]{10,}\b`), "[BEARER_TOKEN_MASKED]"},
	{regexp.MustCompile(`(?s)-----BEGIN (?:RSA )?PRIVATE KEY-----.*?-----END (?:RSA )?PRIVATE KEY-----`), "[PRIVATE_KEY_MASKED]"},
}

// ScreenResult masks secret-looking strings anywhere in a tool result.
func ScreenResult(result map[string]any) map[string]any {
	masked, changed := screenValue(result)
	if changed {
		log.Printf("tools: masked secret-looking content in tool output")
	}
	out, _ := masked.(map[string]any)
	if out == nil {
		return result
	}
	return out
}

func screenValue(v any) (any, bool) {
	switch val := v.(type) {
	case string:
		masked := val
		for _, p := range secretPatterns {
			masked = p.re.ReplaceAllString(masked, p.replacement)
		}
		return masked, masked != val
	case map[string]any:
		out := make(map[string]any, len(val))
		changed := false
		for k, inner := range val {
			m, c := screenValue(inner)
			out[k] = m
			changed = changed || c
		}
		return out, changed
	case []any:
		out := make([]any, len(val))
		changed := false
		for i, inner := range val {
			m, c := screenValue(inner)
			out[i] = m
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}
