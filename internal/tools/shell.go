package tools

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// shellTimeout bounds a single shell_run invocation so a hung command
// cannot stall the dispatch loop indefinitely.
const shellTimeout = 2 * time.Minute

// NewShellRunTool returns a shell_run tool limited to commands whose first
// word appears in allowlist.
func NewShellRunTool(allowlist []string) Tool {
	t, _ := NewTool(
		"shell_run",
		"Run a shell command. Only commands whose executable is on the configured allowlist may run.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The command line to execute."},
				"workdir": map[string]any{"type": "string", "description": "Working directory, optional."},
			},
			"required":             []string{"command"},
			"additionalProperties": false,
		},
		RiskHigh,
		[]string{"task_agent", "dev_agent"},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			command, _ := params["command"].(string)
			fields := strings.Fields(command)
			if len(fields) == 0 {
				return nil, fmt.Errorf("empty command")
			}
			if !slices.Contains(allowlist, fields[0]) {
				return nil, fmt.Errorf("command %q is not on the shell allowlist", fields[0])
			}

			runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
			defer cancel()
			cmd := exec.CommandContext(runCtx, "sh", "-c", command)
			if workdir, ok := params["workdir"].(string); ok && workdir != "" {
				cmd.Dir = workdir
			}
			out, err := cmd.CombinedOutput()
			result := map[string]any{
				"command": command,
				"output":  string(out),
			}
			if err != nil {
				if runCtx.Err() == context.DeadlineExceeded {
					return nil, fmt.Errorf("command timed out after %s", shellTimeout)
				}
				result["exit_error"] = err.Error()
			}
			return result, nil
		},
	)
	return t
}
