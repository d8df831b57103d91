// Package router maps inbound events to agent tasks with an ordered rule
// list. The first full match wins; an event matching no rule is unroutable
// and the caller marks it failed without crashing the loop.
package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rgould/conductor/internal/models"
)

// ErrUnroutable reports an event no rule matches.
var ErrUnroutable = errors.New("router: no rule matched")

// Rule matches events by source and type. Empty source or type matches any.
type Rule struct {
	Source    string
	Type      string
	AgentType string
	ModelKey  string // key into the configured model list, or "default"
	Task      string // fixed task text for payload-less events like ticks
}

// Decision is the routing result for one event. The task text comes from
// the payload's "message" field unless the rule carries a fixed task;
// clients never choose the agent or model.
type Decision struct {
	AgentType string
	ModelKey  string
	Task      string
}

// Router holds the ordered rule list.
type Router struct {
	rules []Rule
}

// New returns a Router over rules, evaluated in order.
func New(rules []Rule) *Router {
	return &Router{rules: rules}
}

// DefaultRules covers the built-in producers: direct user messages,
// messages injected by the HTTP listener, and timer ticks, which carry a
// fixed heartbeat task instead of payload text.
func DefaultRules() []Rule {
	return []Rule{
		{Source: "user", Type: "message", AgentType: "task_agent", ModelKey: "default"},
		{Source: "http", Type: "message", AgentType: "task_agent", ModelKey: "default"},
		{Source: "timer", Type: "tick", AgentType: "task_agent", ModelKey: "default",
			Task: "Scheduled heartbeat tick. Check whether anything needs attention; if not, reply OK with no tool calls."},
	}
}

// Route matches ev against the rules and returns a Decision, or
// ErrUnroutable when nothing matches.
func (r *Router) Route(ev *models.Event) (Decision, error) {
	for _, rule := range r.rules {
		if rule.Source != "" && rule.Source != ev.Source {
			continue
		}
		if rule.Type != "" && rule.Type != ev.Type {
			continue
		}

		task := rule.Task
		if task == "" {
			var payload map[string]any
			if ev.Payload != "" {
				// A payload that fails to parse still routes; the agent
				// just receives an empty task and responds accordingly.
				_ = json.Unmarshal([]byte(ev.Payload), &payload)
			}
			task, _ = payload["message"].(string)
		}

		return Decision{
			AgentType: rule.AgentType,
			ModelKey:  rule.ModelKey,
			Task:      task,
		}, nil
	}
	return Decision{}, fmt.Errorf("router: event source=%q type=%q: %w", ev.Source, ev.Type, ErrUnroutable)
}
