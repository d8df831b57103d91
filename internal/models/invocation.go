package models

import "time"

// Invocation statuses.
const (
	InvocationRunning = "running"
	InvocationDone    = "done"
	InvocationFailed  = "failed"
)

// ToolCall statuses. A tool call must carry an approved (or policy
// auto-approved) record before it may ever be marked executed; the audit
// guarantee of the whole system rests on that ordering.
const (
	ToolCallPending  = "pending"
	ToolCallApproved = "approved"
	ToolCallDenied   = "denied"
	ToolCallExecuted = "executed"
	ToolCallFailed   = "failed"
)

// Invocation records one full model-conversation cycle triggered by an event.
// Immutable once finished except for the single terminal write.
type Invocation struct {
	ID         string  `gorm:"primaryKey;size:32"`
	EventID    *string `gorm:"size:32;index"` // nil for directly-triggered invocations
	AgentType  string  `gorm:"size:32;not null"`
	ProjectID  *string `gorm:"size:64"`
	Model      string  `gorm:"size:64"`
	Context    string  `gorm:"type:text"` // full assembled message list, JSON
	Response   string  `gorm:"type:text"` // raw final model text
	ToolCalls  string  `gorm:"type:text"` // ordered tool-call summary, JSON
	Status     string  `gorm:"size:16;default:running;index"`
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ToolCall records one requested side effect within an invocation. Rows are
// written before execution and updated at every transition so a crash
// mid-call still leaves an accurate partial audit trail.
type ToolCall struct {
	ID           string `gorm:"primaryKey;size:32"`
	InvocationID string `gorm:"size:32;not null;index"`
	ToolName     string `gorm:"size:64;not null"`
	Parameters   string `gorm:"type:text"` // JSON
	RiskLevel    string `gorm:"size:8"`    // low, medium, high
	ApprovalID   *string `gorm:"size:32"`
	Result       string `gorm:"type:text"` // JSON, empty until executed
	Status       string `gorm:"size:16;default:pending;index"`
	CreatedAt    time.Time
	ExecutedAt   *time.Time
}
