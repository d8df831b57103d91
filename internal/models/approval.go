package models

import "time"

// Approval responses.
const (
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// Approval is a human-authorization record for one tool call. The row is
// inserted before the human is ever prompted, so an interrupted wait still
// leaves an audit trail of what was requested.
type Approval struct {
	ID          string `gorm:"primaryKey;size:32"`
	ToolCallID  string `gorm:"size:32;not null;index"`
	Prompt      string `gorm:"type:text"` // the human-readable request text
	Response    string `gorm:"size:16"`   // approved, denied, or empty while unset
	CreatedAt   time.Time
	RespondedAt *time.Time
}
