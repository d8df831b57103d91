package models

import "time"

// Project groups invocations and conversation history under one workstream.
type Project struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Brief     string `gorm:"type:text"` // hand-written standing context
	Summary   string `gorm:"type:text"` // model-maintained rollup of old history
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HistoryEntry is one turn of a project's conversation history.
type HistoryEntry struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"size:64;not null;index"`
	Role      string `gorm:"size:16;not null"` // "user" or "agent"
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
}
