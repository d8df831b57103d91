// Package producer hosts the event producers: concurrent units that only
// ever push onto the queue. Fingerprint dedup makes pushes idempotent, so
// producers never coordinate with the dispatch loop or each other.
package producer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/queue"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Timer pushes a tick event on a cron schedule. The minute key in the
// payload gives each minute its own fingerprint, so a restart within the
// same minute cannot queue a duplicate tick.
type Timer struct {
	DB        *gorm.DB
	Schedule  cron.Schedule
	ProjectID string
}

// NewTimer parses the configured schedule and builds a Timer.
func NewTimer(gdb *gorm.DB, cfg config.TimerConfig) (*Timer, error) {
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("producer: parse timer schedule %q: %w", cfg.Schedule, err)
	}
	return &Timer{DB: gdb, Schedule: sched, ProjectID: cfg.ProjectID}, nil
}

// Run fires ticks until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) {
	log.Printf("producer: timer started")
	for {
		next := t.Schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			log.Printf("producer: timer stopped")
			return
		case <-time.After(time.Until(next)):
		}
		t.fire(next)
	}
}

// fire pushes one tick. Push failures are logged, never fatal: a missed
// tick is low-value and the next one is at most a schedule period away.
func (t *Timer) fire(at time.Time) {
	id, created, err := queue.Push(t.DB, queue.Envelope{
		Source:    "timer",
		Type:      "tick",
		Payload:   map[string]any{"minute": at.UTC().Format("2006-01-02T15:04")},
		ProjectID: t.ProjectID,
		Priority:  8,
	})
	if err != nil {
		log.Printf("producer: push tick: %v", err)
		return
	}
	if created {
		log.Printf("producer: tick %s queued", id)
	}
}
