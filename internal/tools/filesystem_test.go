package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestReadFileRespectsAllowlist(t *testing.T) {
	allowed := t.TempDir()
	forbidden := t.TempDir()

	inside := filepath.Join(allowed, "ok.txt")
	if err := os.WriteFile(inside, []byte("hello"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	outside := filepath.Join(forbidden, "no.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tool := NewReadFileTool([]string{allowed})

	result, err := tool.Execute(context.Background(), map[string]any{"path": inside})
	if err != nil {
		t.Fatalf("read inside allowlist: %v", err)
	}
	if result["content"] != "hello" {
		t.Errorf("content = %v, want hello", result["content"])
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"path": outside}); err == nil {
		t.Error("expected denial for path outside allowlist")
	}

	// Traversal out of the sandbox must not work either.
	sneaky := filepath.Join(allowed, "..", filepath.Base(forbidden), "no.txt")
	if _, err := tool.Execute(context.Background(), map[string]any{"path": sneaky}); err == nil {
		t.Error("expected denial for traversal path")
	}
}

func TestWriteFileCreatesWithinAllowlist(t *testing.T) {
	allowed := t.TempDir()
	tool := NewWriteFileTool([]string{allowed})

	target := filepath.Join(allowed, "sub", "new.txt")
	result, err := tool.Execute(context.Background(), map[string]any{"path": target, "content": "data"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if result["bytes_written"] != 4 {
		t.Errorf("bytes_written = %v, want 4", result["bytes_written"])
	}
	got, err := os.ReadFile(target)
	if err != nil || string(got) != "data" {
		t.Errorf("file content = %q/%v, want data", got, err)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"path": "/etc/motd", "content": "x"}); err == nil {
		t.Error("expected denial for write outside allowlist")
	}
}

func TestListDirectory(t *testing.T) {
	allowed := t.TempDir()
	if err := os.WriteFile(filepath.Join(allowed, "a.txt"), nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.Mkdir(filepath.Join(allowed, "sub"), 0o755); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tool := NewListDirectoryTool([]string{allowed})
	result, err := tool.Execute(context.Background(), map[string]any{"path": allowed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries := result["entries"].([]any)
	if len(entries) != 2 {
		t.Errorf("entries = %v, want 2", entries)
	}
}

func TestShellRunAllowlist(t *testing.T) {
	tool := NewShellRunTool([]string{"echo"})

	result, err := tool.Execute(context.Background(), map[string]any{"command": "echo hi"})
	if err != nil {
		t.Fatalf("allowed command: %v", err)
	}
	if result["output"] != "hi\n" {
		t.Errorf("output = %q, want hi", result["output"])
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"command": "rm -rf /"}); err == nil {
		t.Error("expected denial for command off the allowlist")
	}
}
