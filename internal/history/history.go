// Package history manages three-tier project context: a hand-written brief,
// a model-maintained summary of old conversation, and a recent history
// buffer. It assembles the context block injected into prompts and
// compresses the buffer into the summary when it overflows.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompleteFunc asks a model for one completion. Injected so this package
// does not depend on any provider client.
type CompleteFunc func(ctx context.Context, prompt string) (string, error)

// countTokens approximates one token per four characters. Accurate enough
// for budget decisions without a tokenizer dependency.
func countTokens(text string) int {
	return len(text) / 4
}

// EnsureProject guarantees a row exists for projectID. Idempotent: safe to
// call before every invocation, never overwrites an existing name, brief,
// or summary.
func EnsureProject(gdb *gorm.DB, projectID, name string) error {
	now := time.Now().UTC()
	project := models.Project{ID: projectID, Name: name, CreatedAt: now, UpdatedAt: now}
	result := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&project)
	if result.Error != nil {
		return fmt.Errorf("history: ensure project %s: %w", projectID, result.Error)
	}
	return nil
}

// Append inserts one history row. Called twice after each invocation: the
// user task and the agent response.
func Append(gdb *gorm.DB, projectID, role, content string) error {
	entry := models.HistoryEntry{
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := gdb.Create(&entry).Error; err != nil {
		return fmt.Errorf("history: append to %s: %w", projectID, err)
	}
	return nil
}

// Assemble builds the context block injected between the system prompt and
// the task. Returns "" when the project does not exist or every tier is
// empty, so the caller can skip injection entirely.
//
// Recent history is collected newest-first until the token budget is spent,
// then reversed to chronological order so the prompt reads naturally.
func Assemble(gdb *gorm.DB, projectID string, cfg config.ContextConfig) (string, error) {
	var project models.Project
	result := gdb.Limit(1).Find(&project, "id = ?", projectID)
	if result.Error != nil {
		return "", fmt.Errorf("history: load project %s: %w", projectID, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", nil
	}

	var rows []models.HistoryEntry
	if err := gdb.Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return "", fmt.Errorf("history: load history for %s: %w", projectID, err)
	}

	budget := cfg.RecentBufferTokens
	var recent []models.HistoryEntry
	for _, row := range rows {
		if budget <= 0 {
			break
		}
		recent = append(recent, row)
		budget -= countTokens(fmt.Sprintf("[%s] %s", strings.ToUpper(row.Role), row.Content))
	}
	// Reverse to oldest-first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	if project.Brief == "" && project.Summary == "" && len(recent) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("=== PROJECT CONTEXT ===\n\n")
	b.WriteString("[BRIEF]\n")
	b.WriteString(orNone(project.Brief) + "\n\n")
	b.WriteString("[SUMMARY]\n")
	b.WriteString(orNone(project.Summary) + "\n\n")
	b.WriteString("[RECENT HISTORY]\n")
	for _, row := range recent {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(row.Role), row.Content)
	}
	b.WriteString("=== END CONTEXT ===")
	return b.String(), nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// MaybeSummarise compresses old history into the project summary when the
// buffer is over budget. Walks rows oldest-first, accumulating tokens until
// the remainder fits the recent budget; everything before that split is
// summarised into projects.summary and removed from the buffer. Within
// budget it does nothing: short-lived projects never pay for a model call.
func MaybeSummarise(ctx context.Context, gdb *gorm.DB, projectID string, cfg config.ContextConfig, complete CompleteFunc) error {
	var rows []models.HistoryEntry
	if err := gdb.Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return fmt.Errorf("history: load history for %s: %w", projectID, err)
	}
	if len(rows) == 0 {
		return nil
	}

	total := 0
	for _, row := range rows {
		total += countTokens(row.Content)
	}
	if total <= cfg.RecentBufferTokens {
		return nil
	}

	target := total - cfg.RecentBufferTokens
	accumulated := 0
	split := 0
	for i, row := range rows {
		accumulated += countTokens(row.Content)
		if accumulated >= target {
			split = i + 1
			break
		}
	}
	if split == 0 {
		split = 1
	}
	toSummarise := rows[:split]

	var project models.Project
	if err := gdb.First(&project, "id = ?", projectID).Error; err != nil {
		return fmt.Errorf("history: load project %s: %w", projectID, err)
	}

	var historyText strings.Builder
	for _, row := range toSummarise {
		fmt.Fprintf(&historyText, "[%s] %s\n", strings.ToUpper(row.Role), row.Content)
	}
	prompt := fmt.Sprintf(
		"You are a context compressor. Produce a concise summary of the conversation history below, incorporating any existing summary.\n\n"+
			"Existing summary:\n%s\n\nNew history to incorporate:\n%s\n"+
			"Write a dense, factual summary. Preserve key decisions, outcomes, and open questions. Omit pleasantries and repetition. Output only the summary.",
		orNone(project.Summary), historyText.String(),
	)

	summary, err := complete(ctx, prompt)
	if err != nil {
		return fmt.Errorf("history: summarise %s: %w", projectID, err)
	}

	ids := make([]uint, 0, len(toSummarise))
	for _, row := range toSummarise {
		ids = append(ids, row.ID)
	}
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.HistoryEntry{}, ids).Error; err != nil {
			return fmt.Errorf("history: trim summarised rows: %w", err)
		}
		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).
			Updates(map[string]interface{}{"summary": summary, "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("history: store summary: %w", err)
		}
		return nil
	})
}
