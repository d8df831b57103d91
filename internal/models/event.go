// Package models defines the GORM models for Conductor's durable store.
package models

import "time"

// Event lifecycle statuses.
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventDone       = "done"
	EventFailed     = "failed"
)

// Event is a unit of inbound work. Its ID is a deterministic fingerprint of
// (source, content, creation hour), so producers reporting the same logical
// event within the same hour collapse onto one row.
type Event struct {
	ID          string `gorm:"primaryKey;size:32"`
	Source      string `gorm:"size:32;not null;index"`
	Type        string `gorm:"size:32;not null"`
	ProjectID   *string `gorm:"size:64"`
	Priority    int    `gorm:"default:5;index"`
	Payload     string `gorm:"type:text"` // JSON, opaque to the queue
	Status      string `gorm:"size:16;default:pending;index"`
	Reason      string `gorm:"type:text"` // failure reason, empty otherwise
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
