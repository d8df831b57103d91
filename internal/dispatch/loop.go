// Package dispatch runs the single-consumer event loop: dequeue, route,
// invoke, mark terminal. It is the only component allowed to call
// DequeueNext, Complete, or Fail, which keeps at most one invocation in
// flight system-wide.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/history"
	"github.com/rgould/conductor/internal/invoker"
	"github.com/rgould/conductor/internal/llm"
	"github.com/rgould/conductor/internal/models"
	"github.com/rgould/conductor/internal/queue"
	"github.com/rgould/conductor/internal/router"
	"github.com/rgould/conductor/internal/tools"
	"gorm.io/gorm"
)

// AgentInvoker runs one invocation. Satisfied by *invoker.Invoker.
type AgentInvoker interface {
	Invoke(ctx context.Context, opts invoker.Options) (invoker.Result, error)
}

// ModelResolver maps a router model key to a usable model client and its
// configured name.
type ModelResolver func(key string) (llm.Model, string, error)

// Loop is the dispatch loop with its collaborators.
type Loop struct {
	DB       *gorm.DB
	Router   *router.Router
	Invoker  AgentInvoker
	Config   *config.Config
	Registry *tools.Registry
	ModelFor ModelResolver
	Waiters  *Waiters

	// Poll bounds the wait between queue checks when no work is pending.
	Poll time.Duration
}

// Run processes events until ctx is cancelled. Shutdown is observed only at
// iteration boundaries: an in-flight event is always carried to a terminal
// state before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	poll := l.Poll
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	log.Printf("dispatch: loop started (poll %s)", poll)

	for {
		select {
		case <-ctx.Done():
			log.Printf("dispatch: shutting down")
			return nil
		default:
		}

		ev, err := queue.DequeueNext(l.DB)
		if err != nil {
			log.Printf("dispatch: dequeue: %v", err)
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}
		if ev == nil {
			if !sleep(ctx, poll) {
				return nil
			}
			continue
		}

		l.process(ctx, ev)
	}
}

// process carries one claimed event to a terminal state. Infrastructure
// failures mark the event failed; they never crash the loop.
func (l *Loop) process(ctx context.Context, ev *models.Event) {
	decision, err := l.Router.Route(ev)
	if err != nil {
		if errors.Is(err, router.ErrUnroutable) {
			l.fail(ev.ID, fmt.Sprintf("unroutable: %s/%s", ev.Source, ev.Type))
		} else {
			l.fail(ev.ID, err.Error())
		}
		return
	}

	projectID := l.Config.Projects.DefaultID
	if ev.ProjectID != nil && *ev.ProjectID != "" {
		projectID = *ev.ProjectID
	}
	if err := history.EnsureProject(l.DB, projectID, l.Config.Projects.DefaultName); err != nil {
		log.Printf("dispatch: %v", err)
	}

	model, modelName, err := l.ModelFor(decision.ModelKey)
	if err != nil {
		l.fail(ev.ID, fmt.Sprintf("resolve model %q: %v", decision.ModelKey, err))
		return
	}

	agentCfg := l.Config.AgentFor(decision.AgentType)
	res, err := l.Invoker.Invoke(ctx, invoker.Options{
		Task:             decision.Task,
		AgentType:        decision.AgentType,
		ProjectID:        projectID,
		EventID:          ev.ID,
		ModelName:        modelName,
		Model:            model,
		Registry:         l.Registry.ForAgent(decision.AgentType, agentCfg.Tools),
		MaxIterations:    agentCfg.MaxIterations,
		MaxContinuations: agentCfg.MaxContinuations,
		Context:          l.Config.Context,
	})
	if err != nil {
		log.Printf("dispatch: invocation for event %s: %v", ev.ID, err)
		l.fail(ev.ID, err.Error())
		return
	}

	if err := queue.Complete(l.DB, ev.ID); err != nil {
		// Completing a claimed event must never fail; a NotFound here means
		// the processing invariant broke somewhere else.
		log.Printf("dispatch: INTEGRITY: complete event %s: %v", ev.ID, err)
		return
	}
	log.Printf("dispatch: event %s done (invocation %s, %d tool calls)",
		ev.ID, res.InvocationID, len(res.ToolCalls))
	l.notify(Outcome{EventID: ev.ID, Status: models.EventDone, Response: res.Response})
}

func (l *Loop) fail(eventID, reason string) {
	if err := queue.Fail(l.DB, eventID, reason); err != nil {
		log.Printf("dispatch: INTEGRITY: fail event %s: %v", eventID, err)
		return
	}
	log.Printf("dispatch: event %s failed: %s", eventID, reason)
	l.notify(Outcome{EventID: eventID, Status: models.EventFailed, Reason: reason})
}

func (l *Loop) notify(out Outcome) {
	if l.Waiters != nil {
		l.Waiters.Notify(out)
	}
}

// sleep waits for d or cancellation; reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
