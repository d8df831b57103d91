package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a minimal config pointing at a sqlite db inside a
// temp dir and returns the config path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
database:
  driver: sqlite
  path: %s
models:
  list:
    - name: main
      model: claude-sonnet-4-5
      base_url: http://127.0.0.1:9

`, filepath.Join(dir, "conductor.db"))
	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestDBInitPushAndStatus(t *testing.T) {
	configPath := writeTestConfig(t)

	out, err := run(t, "db", "init", "-c", configPath)
	if err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	if !strings.Contains(out, "initialized successfully") {
		t.Errorf("db init output: %s", out)
	}

	out, err = run(t, "push", "-c", configPath, "water", "the", "plants")
	if err != nil {
		t.Fatalf("push: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Queued event evt_") {
		t.Errorf("push output: %s", out)
	}

	// Same message within the hour dedups.
	out, err = run(t, "push", "-c", configPath, "water the plants")
	if err != nil {
		t.Fatalf("duplicate push: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Duplicate of event evt_") {
		t.Errorf("duplicate push output: %s", out)
	}

	out, err = run(t, "status", "-c", configPath)
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "pending") || !strings.Contains(out, "evt_") {
		t.Errorf("status output: %s", out)
	}
}

func TestPushRejectsMissingConfig(t *testing.T) {
	if _, err := run(t, "push", "-c", "/nonexistent/conductor.yaml", "hi"); err == nil {
		t.Error("expected error for missing config file")
	}
}
