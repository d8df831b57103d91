// Package queue implements the persistent event queue.
//
// Events flow pending → processing → done | failed. The queue is the sole
// coordination point between producers and the dispatch loop. It survives
// process restarts; any processing rows orphaned by a crash are reset to
// pending by ResetStale, which the daemon calls at startup.
//
// Only one consumer (the dispatch loop) may call DequeueNext, Complete, or
// Fail. The store does not enforce this; it is a system design constraint.
// Push is safe from any number of concurrent producers because the
// fingerprint-based ID makes it idempotent.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rgould/conductor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound reports a terminal transition on an event that is not in the
// processing state. That indicates a broken invariant elsewhere, never a
// routine condition.
var ErrNotFound = errors.New("queue: event not processing")

// Envelope is a validated event entering the queue. Producers construct it
// so malformed events are rejected at the producer boundary rather than
// reaching the router with bad data.
type Envelope struct {
	Source    string
	Type      string
	Payload   map[string]any
	ProjectID string // empty means the default project
	Priority  int    // 1 (most urgent) to 10; 0 takes the default of 5
}

func (e *Envelope) validate() error {
	if e.Source == "" {
		return fmt.Errorf("queue: envelope source is required")
	}
	if e.Type == "" {
		return fmt.Errorf("queue: envelope type is required")
	}
	if e.Priority == 0 {
		e.Priority = 5
	}
	if e.Priority < 1 || e.Priority > 10 {
		return fmt.Errorf("queue: envelope priority %d out of range 1-10", e.Priority)
	}
	return nil
}

// Push inserts a new pending event, deduplicated by fingerprint. A duplicate
// push within the same hour is a silent no-op: the existing ID is returned
// with created=false, never an error.
func Push(gdb *gorm.DB, env Envelope) (id string, created bool, err error) {
	if err := env.validate(); err != nil {
		return "", false, err
	}
	id, err = Fingerprint(env.Source, env.Type, env.Payload, time.Now())
	if err != nil {
		return "", false, err
	}
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return "", false, fmt.Errorf("queue: marshal payload: %w", err)
	}

	ev := models.Event{
		ID:        id,
		Source:    env.Source,
		Type:      env.Type,
		Priority:  env.Priority,
		Payload:   string(payload),
		Status:    models.EventPending,
		CreatedAt: time.Now().UTC(),
	}
	if env.ProjectID != "" {
		ev.ProjectID = &env.ProjectID
	}

	result := gdb.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
	if result.Error != nil {
		return "", false, fmt.Errorf("queue: push event: %w", result.Error)
	}
	return id, result.RowsAffected > 0, nil
}

// DequeueNext returns the pending event with the lowest priority value,
// tie-broken by earliest creation, after marking it processing. Returns
// (nil, nil) when the queue is empty.
//
// The read and the status write are deliberately two separate statements:
// the gap between "selected" and "marked processing" leaves a window in
// which an external actor can still intervene before the event is committed
// to processing. Do not collapse this into one atomic UPDATE. The store's
// single-writer discipline makes the split safe with a single consumer.
func DequeueNext(gdb *gorm.DB) (*models.Event, error) {
	var ev models.Event
	result := gdb.Where("status = ?", models.EventPending).
		Order("priority ASC, created_at ASC").
		Limit(1).
		Find(&ev)
	if result.Error != nil {
		return nil, fmt.Errorf("queue: select next event: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	update := gdb.Model(&models.Event{}).
		Where("id = ? AND status = ?", ev.ID, models.EventPending).
		Update("status", models.EventProcessing)
	if update.Error != nil {
		return nil, fmt.Errorf("queue: mark %s processing: %w", ev.ID, update.Error)
	}
	if update.RowsAffected == 0 {
		// Something claimed the window between select and update. Treat the
		// queue as momentarily empty; the next poll re-selects.
		return nil, nil
	}
	ev.Status = models.EventProcessing
	return &ev, nil
}

// Complete marks a processing event done.
func Complete(gdb *gorm.DB, eventID string) error {
	return finish(gdb, eventID, models.EventDone, "")
}

// Fail marks a processing event failed with a reason.
func Fail(gdb *gorm.DB, eventID, reason string) error {
	return finish(gdb, eventID, models.EventFailed, reason)
}

func finish(gdb *gorm.DB, eventID, status, reason string) error {
	now := time.Now().UTC()
	result := gdb.Model(&models.Event{}).
		Where("id = ? AND status = ?", eventID, models.EventProcessing).
		Updates(map[string]interface{}{
			"status":       status,
			"reason":       reason,
			"processed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("queue: mark %s %s: %w", eventID, status, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: mark %s %s: %w", eventID, status, ErrNotFound)
	}
	return nil
}

// ResetStale resets every processing event back to pending and returns the
// count recovered. Called once at startup: with a single consumer, any
// processing row at boot was necessarily orphaned by a crash. Downstream
// task semantics must be re-runnable for this to be safe.
func ResetStale(gdb *gorm.DB) (int64, error) {
	result := gdb.Model(&models.Event{}).
		Where("status = ?", models.EventProcessing).
		Update("status", models.EventPending)
	if result.Error != nil {
		return 0, fmt.Errorf("queue: reset stale events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Get retrieves one event by ID.
func Get(gdb *gorm.DB, eventID string) (*models.Event, error) {
	var ev models.Event
	if err := gdb.First(&ev, "id = ?", eventID).Error; err != nil {
		return nil, fmt.Errorf("queue: get event %s: %w", eventID, err)
	}
	return &ev, nil
}

// Stats reports row counts per status.
func Stats(gdb *gorm.DB) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := gdb.Model(&models.Event{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue: stats: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
