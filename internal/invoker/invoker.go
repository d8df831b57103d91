// Package invoker drives the invocation state machine: the iterative
// model/tool conversation for one event, with every transition written to
// the audit tables as it happens.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rgould/conductor/internal/approval"
	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/history"
	"github.com/rgould/conductor/internal/llm"
	"github.com/rgould/conductor/internal/models"
	"github.com/rgould/conductor/internal/tools"
	"gorm.io/gorm"
)

// ToolCallSummary is one entry of the ordered tool-call log persisted on
// the invocation row at the terminal write.
type ToolCallSummary struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Result     map[string]any `json:"result"`
}

// Result summarises one finished invocation.
type Result struct {
	InvocationID string
	Status       string
	Response     string
	ToolCalls    []ToolCallSummary
	CapReached   bool
}

// Options carries the per-invocation inputs: the task, the agent identity,
// and the collaborators resolved for this agent type.
type Options struct {
	Task      string
	AgentType string
	ProjectID string
	EventID   string
	ModelName string

	Model    llm.Model
	Registry *tools.Registry

	MaxIterations    int
	MaxContinuations int
	Context          config.ContextConfig
}

// Invoker holds the dependencies shared across invocations.
type Invoker struct {
	DB     *gorm.DB
	Gate   approval.Gate
	Policy approval.Policy
}

// New builds an Invoker.
func New(gdb *gorm.DB, gate approval.Gate, policy approval.Policy) *Invoker {
	return &Invoker{DB: gdb, Gate: gate, Policy: policy}
}

// Invoke runs one invocation to completion. The invocation always ends in a
// terminal row state: done when the model stops on its own or the iteration
// cap fires, failed only on provider or storage failure. Errors arising from
// model output (bad JSON, unknown tools, invalid parameters, denials) are
// fed back into the conversation instead of returned.
func (inv *Invoker) Invoke(ctx context.Context, opts Options) (Result, error) {
	invocationID := newID("inv")

	messages := []llm.Message{{Role: "system", Content: buildSystemPrompt(opts.Registry)}}
	if opts.ProjectID != "" {
		ctxBlock, err := history.Assemble(inv.DB, opts.ProjectID, opts.Context)
		if err != nil {
			return Result{}, fmt.Errorf("invoker: assemble context: %w", err)
		}
		if ctxBlock != "" {
			messages = append(messages, llm.Message{Role: "user", Content: ctxBlock})
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: opts.Task})

	row := models.Invocation{
		ID:        invocationID,
		AgentType: opts.AgentType,
		Model:     opts.ModelName,
		Context:   marshalMessages(messages),
		Status:    models.InvocationRunning,
		StartedAt: time.Now().UTC(),
	}
	if opts.EventID != "" {
		row.EventID = &opts.EventID
	}
	if opts.ProjectID != "" {
		row.ProjectID = &opts.ProjectID
	}
	if err := inv.DB.Create(&row).Error; err != nil {
		return Result{}, fmt.Errorf("invoker: record invocation: %w", err)
	}

	res := Result{InvocationID: invocationID, Status: models.InvocationFailed}
	var invokeErr error

	for iteration := 0; ; iteration++ {
		if iteration >= opts.MaxIterations {
			// Hitting the cap is not a failure. The invocation ends done
			// with its partial tool-call history intact.
			res.CapReached = true
			res.Status = models.InvocationDone
			res.Response = fmt.Sprintf("Iteration cap (%d) reached before the task finished.", opts.MaxIterations)
			log.Printf("invoker: %s hit iteration cap (%d)", invocationID, opts.MaxIterations)
			break
		}

		text, err := inv.completeFull(ctx, opts, messages)
		if err != nil {
			invokeErr = err
			break
		}
		messages = append(messages, llm.Message{Role: "assistant", Content: text})

		calls, malformed := ParseToolCalls(text)
		if len(calls) == 0 && len(malformed) == 0 {
			// No tool call emitted, agent has finished.
			res.Response = text
			res.Status = models.InvocationDone
			break
		}

		for _, perr := range malformed {
			messages = append(messages, llm.Message{Role: "user", Content: errorFeedback(perr.Error())})
		}
		for _, call := range calls {
			tcID, result := inv.runToolCall(ctx, invocationID, opts, call)
			res.ToolCalls = append(res.ToolCalls, ToolCallSummary{
				ID:         tcID,
				Tool:       call.Tool,
				Parameters: call.Parameters,
				Result:     result,
			})
			messages = append(messages, llm.Message{Role: "user", Content: resultFeedback(result)})
		}
	}

	// Persist the task and response to project history so the next
	// invocation sees what happened this time. Skipped on provider failure:
	// there is no response worth remembering.
	if opts.ProjectID != "" && invokeErr == nil {
		if err := history.Append(inv.DB, opts.ProjectID, "user", opts.Task); err != nil {
			log.Printf("invoker: %v", err)
		}
		if err := history.Append(inv.DB, opts.ProjectID, "agent", res.Response); err != nil {
			log.Printf("invoker: %v", err)
		}
		err := history.MaybeSummarise(ctx, inv.DB, opts.ProjectID, opts.Context,
			func(sctx context.Context, prompt string) (string, error) {
				resp, err := opts.Model.Complete(sctx, []llm.Message{{Role: "user", Content: prompt}})
				return resp.Content, err
			})
		if err != nil {
			log.Printf("invoker: %v", err)
		}
	}

	finished := time.Now().UTC()
	toolCallsJSON, _ := json.Marshal(res.ToolCalls)
	err := inv.DB.Model(&models.Invocation{}).Where("id = ?", invocationID).
		Updates(map[string]interface{}{
			"context":     marshalMessages(messages),
			"response":    res.Response,
			"tool_calls":  string(toolCallsJSON),
			"status":      res.Status,
			"finished_at": finished,
		}).Error
	if err != nil {
		return res, fmt.Errorf("invoker: finish invocation %s: %w", invocationID, err)
	}
	return res, invokeErr
}

// completeFull runs the inner continuation loop: while a response stops on a
// length limit rather than a natural stop, the call is re-issued asking the
// model to continue, up to the continuation cap. Continuations never consume
// outer-loop iteration budget.
func (inv *Invoker) completeFull(ctx context.Context, opts Options, messages []llm.Message) (string, error) {
	resp, err := opts.Model.Complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("invoker: model call: %w", err)
	}
	if !resp.Truncated {
		return resp.Content, nil
	}

	full := resp.Content
	cont := append([]llm.Message(nil), messages...)
	for n := 0; n < opts.MaxContinuations && resp.Truncated; n++ {
		cont = append(cont,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: "Your previous response was cut off by a length limit. Continue exactly where you left off, without repeating anything."},
		)
		resp, err = opts.Model.Complete(ctx, cont)
		if err != nil {
			return "", fmt.Errorf("invoker: continuation call: %w", err)
		}
		full += resp.Content
	}
	if resp.Truncated {
		log.Printf("invoker: response still truncated after %d continuations", opts.MaxContinuations)
	}
	return full, nil
}

// runToolCall resolves, gates, executes, and audits a single tool call. It
// never returns an error: every failure mode becomes a result map the model
// sees as feedback. The ToolCall row is written before any gating or
// execution and updated at every transition, so a crash mid-call leaves an
// accurate partial audit trail.
func (inv *Invoker) runToolCall(ctx context.Context, invocationID string, opts Options, call Call) (string, map[string]any) {
	tcID := newID("tc")
	params, _ := json.Marshal(call.Parameters)

	tool, err := opts.Registry.Get(call.Tool)
	if err != nil {
		result := map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Tool)}
		row := models.ToolCall{
			ID:           tcID,
			InvocationID: invocationID,
			ToolName:     call.Tool,
			Parameters:   string(params),
			RiskLevel:    "unknown",
			Result:       mustJSON(result),
			Status:       models.ToolCallFailed,
			CreatedAt:    time.Now().UTC(),
		}
		if dbErr := inv.DB.Create(&row).Error; dbErr != nil {
			log.Printf("invoker: record tool call %s: %v", tcID, dbErr)
		}
		return tcID, result
	}

	row := models.ToolCall{
		ID:           tcID,
		InvocationID: invocationID,
		ToolName:     call.Tool,
		Parameters:   string(params),
		RiskLevel:    tool.RiskLevel,
		Status:       models.ToolCallPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := inv.DB.Create(&row).Error; err != nil {
		return tcID, map[string]any{"error": fmt.Sprintf("record tool call: %v", err)}
	}

	// Validate before gating: a human should never be asked to approve
	// parameters that would be rejected anyway.
	if err := tools.ValidateParams(tool.Schema, call.Parameters); err != nil {
		result := map[string]any{"error": err.Error()}
		inv.updateToolCall(tcID, models.ToolCallFailed, result, false)
		return tcID, result
	}

	decision := inv.Policy.Decide(tool.RiskLevel)
	if decision.RequireHuman {
		approvalID, approved, err := inv.Gate.RequestApproval(ctx, approval.Request{
			ToolCallID: tcID,
			ToolName:   call.Tool,
			Parameters: call.Parameters,
			RiskLevel:  tool.RiskLevel,
			AgentType:  opts.AgentType,
			ProjectID:  opts.ProjectID,
		})
		if err != nil {
			result := map[string]any{"error": fmt.Sprintf("approval gate: %v", err)}
			inv.updateToolCall(tcID, models.ToolCallFailed, result, false)
			return tcID, result
		}
		if dbErr := inv.DB.Model(&models.ToolCall{}).Where("id = ?", tcID).
			Update("approval_id", approvalID).Error; dbErr != nil {
			log.Printf("invoker: link approval %s to %s: %v", approvalID, tcID, dbErr)
		}
		if !approved {
			result := map[string]any{"error": fmt.Sprintf("tool call %q denied by approval gate", call.Tool)}
			inv.updateToolCall(tcID, models.ToolCallDenied, result, false)
			return tcID, result
		}
	} else if decision.LogAuto {
		log.Printf("invoker: auto-approving %s-risk tool %s (%s)", tool.RiskLevel, call.Tool, tcID)
	}

	// The approved transition is recorded before execution in every case,
	// whether the approval was human or policy-implied.
	if err := inv.DB.Model(&models.ToolCall{}).Where("id = ?", tcID).
		Update("status", models.ToolCallApproved).Error; err != nil {
		result := map[string]any{"error": fmt.Sprintf("record approval: %v", err)}
		inv.updateToolCall(tcID, models.ToolCallFailed, result, false)
		return tcID, result
	}

	result, err := tool.Execute(ctx, call.Parameters)
	if err != nil {
		result = map[string]any{"error": err.Error()}
		inv.updateToolCall(tcID, models.ToolCallFailed, result, true)
		return tcID, result
	}
	if result == nil {
		result = map[string]any{}
	}
	inv.updateToolCall(tcID, models.ToolCallExecuted, result, true)
	return tcID, result
}

func (inv *Invoker) updateToolCall(tcID, status string, result map[string]any, executed bool) {
	updates := map[string]interface{}{
		"status": status,
		"result": mustJSON(result),
	}
	if executed {
		updates["executed_at"] = time.Now().UTC()
	}
	if err := inv.DB.Model(&models.ToolCall{}).Where("id = ?", tcID).Updates(updates).Error; err != nil {
		log.Printf("invoker: update tool call %s: %v", tcID, err)
	}
}

func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func marshalMessages(messages []llm.Message) string {
	raw, err := json.Marshal(messages)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func mustJSON(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(raw)
}

// resultFeedback wraps a tool result so the model can reason about it
// before deciding what to do next.
func resultFeedback(result map[string]any) string {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"error": %q}`, err.Error()))
	}
	return "<tool_result>\n" + string(raw) + "\n</tool_result>"
}

func errorFeedback(detail string) string {
	return resultFeedback(map[string]any{"error": detail})
}
