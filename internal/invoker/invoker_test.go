package invoker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rgould/conductor/internal/approval"
	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/history"
	"github.com/rgould/conductor/internal/llm"
	"github.com/rgould/conductor/internal/models"
	"github.com/rgould/conductor/internal/tools"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = gdb.AutoMigrate(&models.Invocation{}, &models.ToolCall{}, &models.Approval{},
		&models.Project{}, &models.HistoryEntry{})
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gdb
}

// scriptedModel plays back canned responses in order and records every
// message list it was called with.
type scriptedModel struct {
	script []llm.Response
	err    error // returned once the script is exhausted
	calls  [][]llm.Message
}

func (m *scriptedModel) Complete(ctx context.Context, messages []llm.Message) (llm.Response, error) {
	m.calls = append(m.calls, append([]llm.Message(nil), messages...))
	if len(m.script) == 0 {
		if m.err != nil {
			return llm.Response{}, m.err
		}
		return llm.Response{Content: "out of script"}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next, nil
}

type stubGate struct {
	approve  bool
	requests []approval.Request
}

func (g *stubGate) RequestApproval(ctx context.Context, req approval.Request) (string, bool, error) {
	g.requests = append(g.requests, req)
	return "appr_stub", g.approve, nil
}

func echoRegistry(t *testing.T, risk string) *tools.Registry {
	t.Helper()
	return echoRegistryFn(t, risk, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"echo": params["text"]}, nil
	})
}

func echoRegistryFn(t *testing.T, risk string, fn tools.ExecuteFunc) *tools.Registry {
	t.Helper()
	tool, err := tools.NewTool("echo", "Echo text back.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}, risk, []string{"task_agent"}, fn)
	if err != nil {
		t.Fatalf("new tool: %v", err)
	}
	reg := tools.NewRegistry()
	reg.Register(tool)
	return reg
}

func baseOptions(model llm.Model, reg *tools.Registry) Options {
	return Options{
		Task:             "do the thing",
		AgentType:        "task_agent",
		ModelName:        "test-model",
		Model:            model,
		Registry:         reg,
		MaxIterations:    10,
		MaxContinuations: 3,
		Context:          config.ContextConfig{RecentBufferTokens: 1000},
	}
}

func prodInvoker(t *testing.T, gdb *gorm.DB, gate approval.Gate) *Invoker {
	t.Helper()
	policy, err := approval.ForName("production")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return New(gdb, gate, policy)
}

func toolCall(name, paramsJSON string) string {
	return fmt.Sprintf("<tool_call>\n{\"tool\": %q, \"parameters\": %s}\n</tool_call>", name, paramsJSON)
}

func TestParseToolCallsExtractsAllBlocks(t *testing.T) {
	text := "thinking...\n" + toolCall("a", `{"x": 1}`) + "\nmore\n" + toolCall("b", `{}`)
	calls, malformed := ParseToolCalls(text)
	if len(malformed) != 0 {
		t.Fatalf("malformed = %v", malformed)
	}
	if len(calls) != 2 || calls[0].Tool != "a" || calls[1].Tool != "b" {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Parameters["x"] != float64(1) {
		t.Errorf("parameters not decoded: %+v", calls[0].Parameters)
	}
}

func TestParseToolCallsReportsMalformed(t *testing.T) {
	calls, malformed := ParseToolCalls(`<tool_call>{"tool": }</tool_call>`)
	if len(calls) != 0 || len(malformed) != 1 {
		t.Fatalf("calls = %v, malformed = %v", calls, malformed)
	}
	calls, malformed = ParseToolCalls(`<tool_call>{"parameters": {}}</tool_call>`)
	if len(calls) != 0 || len(malformed) != 1 {
		t.Fatalf("missing tool name: calls = %v, malformed = %v", calls, malformed)
	}
}

func TestPlainResponseFinishesDone(t *testing.T) {
	gdb := openTestDB(t)
	model := &scriptedModel{script: []llm.Response{{Content: "all finished"}}}
	inv := prodInvoker(t, gdb, &stubGate{})

	res, err := inv.Invoke(context.Background(), baseOptions(model, echoRegistry(t, tools.RiskLow)))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone || res.Response != "all finished" {
		t.Errorf("result = %+v", res)
	}
	if len(res.ToolCalls) != 0 {
		t.Errorf("tool calls = %+v, want none", res.ToolCalls)
	}

	var row models.Invocation
	if err := gdb.First(&row, "id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("invocation row: %v", err)
	}
	if row.Status != models.InvocationDone || row.FinishedAt == nil {
		t.Errorf("row = %+v, want terminal done", row)
	}
	if !strings.Contains(row.Context, "do the thing") {
		t.Error("persisted context should include the task")
	}
}

func TestLowRiskToolExecutesAndFeedsBack(t *testing.T) {
	gdb := openTestDB(t)
	if err := history.EnsureProject(gdb, "p1", "P1"); err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	model := &scriptedModel{script: []llm.Response{
		{Content: "let me check\n" + toolCall("echo", `{"text": "hi"}`)},
		{Content: "the echo said hi"},
	}}
	inv := prodInvoker(t, gdb, &stubGate{})
	opts := baseOptions(model, echoRegistry(t, tools.RiskLow))
	opts.ProjectID = "p1"

	res, err := inv.Invoke(context.Background(), opts)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone || res.Response != "the echo said hi" {
		t.Errorf("result = %+v", res)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Result["echo"] != "hi" {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}

	var tc models.ToolCall
	if err := gdb.First(&tc, "invocation_id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("tool call row: %v", err)
	}
	if tc.Status != models.ToolCallExecuted || tc.ExecutedAt == nil {
		t.Errorf("tool call row = %+v, want executed", tc)
	}

	// Second model turn must see the result wrapped as feedback.
	second := model.calls[1]
	last := second[len(second)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "<tool_result>") {
		t.Errorf("feedback message = %+v", last)
	}

	var historyRows int64
	gdb.Model(&models.HistoryEntry{}).Where("project_id = ?", "p1").Count(&historyRows)
	if historyRows != 2 {
		t.Errorf("history rows = %d, want task and response", historyRows)
	}
}

func TestHighRiskDenialFeedsBackAndAudits(t *testing.T) {
	gdb := openTestDB(t)
	gate := &stubGate{approve: false}
	executed := false
	reg := echoRegistryFn(t, tools.RiskHigh, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		executed = true
		return map[string]any{}, nil
	})
	model := &scriptedModel{script: []llm.Response{
		{Content: toolCall("echo", `{"text": "dangerous"}`)},
		{Content: "understood, stopping"},
	}}
	inv := prodInvoker(t, gdb, gate)

	res, err := inv.Invoke(context.Background(), baseOptions(model, reg))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone {
		t.Errorf("status = %q, denial must not fail the invocation", res.Status)
	}
	if executed {
		t.Fatal("denied tool must not execute")
	}
	if len(gate.requests) != 1 || gate.requests[0].ToolName != "echo" {
		t.Fatalf("gate requests = %+v", gate.requests)
	}

	var tc models.ToolCall
	if err := gdb.First(&tc, "invocation_id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("tool call row: %v", err)
	}
	if tc.Status != models.ToolCallDenied {
		t.Errorf("status = %q, want denied", tc.Status)
	}
	if tc.ApprovalID == nil || *tc.ApprovalID != "appr_stub" {
		t.Errorf("approval id = %v, want appr_stub", tc.ApprovalID)
	}

	second := model.calls[1]
	last := second[len(second)-1]
	if !strings.Contains(last.Content, "denied") {
		t.Errorf("model should see the denial, got %q", last.Content)
	}
}

func TestApprovedRecordedBeforeExecution(t *testing.T) {
	gdb := openTestDB(t)
	var statusAtExecution string
	reg := echoRegistryFn(t, tools.RiskHigh, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		var tc models.ToolCall
		if err := gdb.First(&tc).Error; err != nil {
			return nil, err
		}
		statusAtExecution = tc.Status
		return map[string]any{}, nil
	})
	model := &scriptedModel{script: []llm.Response{
		{Content: toolCall("echo", `{"text": "x"}`)},
		{Content: "done"},
	}}
	inv := prodInvoker(t, gdb, &stubGate{approve: true})

	if _, err := inv.Invoke(context.Background(), baseOptions(model, reg)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if statusAtExecution != models.ToolCallApproved {
		t.Errorf("status at execution = %q, want approved", statusAtExecution)
	}
}

func TestUnknownToolFeedsBack(t *testing.T) {
	gdb := openTestDB(t)
	model := &scriptedModel{script: []llm.Response{
		{Content: toolCall("no_such_tool", `{}`)},
		{Content: "giving up"},
	}}
	inv := prodInvoker(t, gdb, &stubGate{})

	res, err := inv.Invoke(context.Background(), baseOptions(model, echoRegistry(t, tools.RiskLow)))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone {
		t.Errorf("status = %q", res.Status)
	}

	var tc models.ToolCall
	if err := gdb.First(&tc, "invocation_id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("tool call row: %v", err)
	}
	if tc.Status != models.ToolCallFailed || tc.RiskLevel != "unknown" {
		t.Errorf("row = %+v, want failed with unknown risk", tc)
	}
	second := model.calls[1]
	if !strings.Contains(second[len(second)-1].Content, "unknown tool") {
		t.Error("model should see the unknown-tool error")
	}
}

func TestInvalidParametersFeedBackWithoutGating(t *testing.T) {
	gdb := openTestDB(t)
	gate := &stubGate{approve: true}
	model := &scriptedModel{script: []llm.Response{
		{Content: toolCall("echo", `{"text": 42}`)},
		{Content: "fixed nothing, stopping"},
	}}
	inv := prodInvoker(t, gdb, gate)

	res, err := inv.Invoke(context.Background(), baseOptions(model, echoRegistry(t, tools.RiskHigh)))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(gate.requests) != 0 {
		t.Error("invalid parameters must be rejected before the gate")
	}
	var tc models.ToolCall
	if err := gdb.First(&tc, "invocation_id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("tool call row: %v", err)
	}
	if tc.Status != models.ToolCallFailed {
		t.Errorf("status = %q, want failed", tc.Status)
	}
}

func TestMalformedToolCallFeedsBack(t *testing.T) {
	gdb := openTestDB(t)
	model := &scriptedModel{script: []llm.Response{
		{Content: "<tool_call>{\"tool\": }</tool_call>"},
		{Content: "sorry, stopping"},
	}}
	inv := prodInvoker(t, gdb, &stubGate{})

	res, err := inv.Invoke(context.Background(), baseOptions(model, echoRegistry(t, tools.RiskLow)))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone {
		t.Errorf("status = %q", res.Status)
	}
	var count int64
	gdb.Model(&models.ToolCall{}).Count(&count)
	if count != 0 {
		t.Errorf("tool call rows = %d, malformed blocks must not create rows", count)
	}
	second := model.calls[1]
	if !strings.Contains(second[len(second)-1].Content, "invalid tool call JSON") {
		t.Error("model should see the parse error")
	}
}

func TestIterationCapEndsDone(t *testing.T) {
	gdb := openTestDB(t)
	loop := toolCall("echo", `{"text": "again"}`)
	model := &scriptedModel{script: []llm.Response{
		{Content: loop}, {Content: loop}, {Content: loop}, {Content: loop},
	}}
	inv := prodInvoker(t, gdb, &stubGate{})
	opts := baseOptions(model, echoRegistry(t, tools.RiskLow))
	opts.MaxIterations = 3

	res, err := inv.Invoke(context.Background(), opts)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !res.CapReached {
		t.Fatal("cap should be reported")
	}
	if res.Status != models.InvocationDone {
		t.Errorf("status = %q, cap is not a failure", res.Status)
	}
	if len(res.ToolCalls) != 3 {
		t.Errorf("tool calls = %d, want one per iteration", len(res.ToolCalls))
	}
	if len(model.calls) != 3 {
		t.Errorf("model calls = %d, want exactly the cap", len(model.calls))
	}

	var row models.Invocation
	gdb.First(&row, "id = ?", res.InvocationID)
	if row.Status != models.InvocationDone || row.FinishedAt == nil {
		t.Errorf("row = %+v, want terminal done with partial history", row)
	}
}

func TestTruncatedResponsesAreStitched(t *testing.T) {
	gdb := openTestDB(t)
	model := &scriptedModel{script: []llm.Response{
		{Content: "first half, ", Truncated: true},
		{Content: "second half"},
	}}
	inv := prodInvoker(t, gdb, &stubGate{})
	opts := baseOptions(model, echoRegistry(t, tools.RiskLow))
	// Continuations must not consume outer budget.
	opts.MaxIterations = 1

	res, err := inv.Invoke(context.Background(), opts)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != models.InvocationDone {
		t.Errorf("status = %q", res.Status)
	}
	if res.Response != "first half, second half" {
		t.Errorf("response = %q, want stitched halves", res.Response)
	}
	cont := model.calls[1]
	if !strings.Contains(cont[len(cont)-1].Content, "Continue exactly where you left off") {
		t.Error("continuation call should carry the continue instruction")
	}
}

func TestProviderErrorFailsInvocation(t *testing.T) {
	gdb := openTestDB(t)
	model := &scriptedModel{err: fmt.Errorf("boom: %w", llm.ErrProvider)}
	inv := prodInvoker(t, gdb, &stubGate{})

	res, err := inv.Invoke(context.Background(), baseOptions(model, echoRegistry(t, tools.RiskLow)))
	if !errors.Is(err, llm.ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	if res.Status != models.InvocationFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}

	var row models.Invocation
	if err := gdb.First(&row, "id = ?", res.InvocationID).Error; err != nil {
		t.Fatalf("invocation row: %v", err)
	}
	if row.Status != models.InvocationFailed || row.FinishedAt == nil {
		t.Errorf("row = %+v, want terminal failed", row)
	}
}
