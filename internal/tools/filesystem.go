package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// pathAllowed reports whether path resolves to within one of allowed.
// Symlinks are resolved before comparison so a link cannot escape the
// sandbox; a plain string-prefix check would miss that.
func pathAllowed(path string, allowed []string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// Nonexistent targets (e.g. a file about to be written) resolve
		// against their parent directory instead.
		parent, err2 := filepath.EvalSymlinks(filepath.Dir(path))
		if err2 != nil {
			abs, err3 := filepath.Abs(path)
			if err3 != nil {
				return false
			}
			resolved = abs
		} else {
			resolved = filepath.Join(parent, filepath.Base(path))
		}
	}
	for _, a := range allowed {
		base, err := filepath.Abs(a)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(base, resolved)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true
		}
	}
	return false
}

// NewReadFileTool returns a read_file tool restricted to allowedPaths.
func NewReadFileTool(allowedPaths []string) Tool {
	t, _ := NewTool(
		"read_file",
		"Read the full text content of a file. Only paths within the configured allowed_read list are accessible.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path to the file to read."},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
		RiskLow,
		[]string{"task_agent", "dev_agent"},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			path, _ := params["path"].(string)
			if !pathAllowed(path, allowedPaths) {
				return nil, fmt.Errorf("path not in allowed_read list: %q", path)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %q: %w", path, err)
			}
			return map[string]any{"path": path, "content": string(content)}, nil
		},
	)
	return t
}

// NewWriteFileTool returns a write_file tool restricted to allowedPaths.
func NewWriteFileTool(allowedPaths []string) Tool {
	t, _ := NewTool(
		"write_file",
		"Write text content to a file, creating it if absent. Only paths within the configured allowed_write list are accessible.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path to the file to write."},
				"content": map[string]any{"type": "string", "description": "Full file content to write."},
			},
			"required":             []string{"path", "content"},
			"additionalProperties": false,
		},
		RiskMedium,
		[]string{"task_agent", "dev_agent"},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			path, _ := params["path"].(string)
			content, _ := params["content"].(string)
			if !pathAllowed(path, allowedPaths) {
				return nil, fmt.Errorf("path not in allowed_write list: %q", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create parent dir for %q: %w", path, err)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return nil, fmt.Errorf("write %q: %w", path, err)
			}
			return map[string]any{"path": path, "bytes_written": len(content)}, nil
		},
	)
	return t
}

// NewListDirectoryTool returns a list_directory tool restricted to allowedPaths.
func NewListDirectoryTool(allowedPaths []string) Tool {
	t, _ := NewTool(
		"list_directory",
		"List the entries of a directory. Only paths within the configured allowed_read list are accessible.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory to list."},
			},
			"required":             []string{"path"},
			"additionalProperties": false,
		},
		RiskLow,
		[]string{"task_agent", "dev_agent"},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			path, _ := params["path"].(string)
			if !pathAllowed(path, allowedPaths) {
				return nil, fmt.Errorf("path not in allowed_read list: %q", path)
			}
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("list %q: %w", path, err)
			}
			names := make([]any, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			return map[string]any{"path": path, "entries": names}, nil
		},
	)
	return t
}
