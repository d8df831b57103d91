package router

import (
	"errors"
	"testing"

	"github.com/rgould/conductor/internal/models"
)

func TestRouteFirstMatchWins(t *testing.T) {
	r := New([]Rule{
		{Source: "user", Type: "message", AgentType: "task_agent", ModelKey: "default"},
		{Source: "", Type: "message", AgentType: "fallback_agent", ModelKey: "cheap"},
	})

	dec, err := r.Route(&models.Event{
		Source:  "user",
		Type:    "message",
		Payload: `{"message":"do the thing"}`,
	})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.AgentType != "task_agent" {
		t.Errorf("agent = %q, want task_agent (rule order)", dec.AgentType)
	}
	if dec.Task != "do the thing" {
		t.Errorf("task = %q, want payload message", dec.Task)
	}
}

func TestRouteWildcardSource(t *testing.T) {
	r := New([]Rule{{Type: "message", AgentType: "task_agent", ModelKey: "default"}})
	dec, err := r.Route(&models.Event{Source: "email", Type: "message", Payload: `{"message":"hi"}`})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.AgentType != "task_agent" {
		t.Errorf("agent = %q, want task_agent", dec.AgentType)
	}
}

func TestRouteTimerTickGetsFixedTask(t *testing.T) {
	r := New(DefaultRules())
	dec, err := r.Route(&models.Event{Source: "timer", Type: "tick", Payload: `{"minute":"2026-03-01T10:30"}`})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.AgentType != "task_agent" || dec.Task == "" {
		t.Errorf("decision = %+v, want fixed heartbeat task", dec)
	}
}

func TestRouteUnroutable(t *testing.T) {
	r := New(DefaultRules())
	_, err := r.Route(&models.Event{Source: "mystery", Type: "blob"})
	if !errors.Is(err, ErrUnroutable) {
		t.Fatalf("err = %v, want ErrUnroutable", err)
	}
}

func TestRouteMalformedPayloadStillRoutes(t *testing.T) {
	r := New(DefaultRules())
	dec, err := r.Route(&models.Event{Source: "user", Type: "message", Payload: "not json"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.Task != "" {
		t.Errorf("task = %q, want empty for unparseable payload", dec.Task)
	}
}
