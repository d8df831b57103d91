// Package tools defines the tool contract and the registry that is the sole
// dispatch point for tool execution. Parameters are validated against the
// declared schema before any tool runs; this is the last line of defence
// before a side effect reaches the system.
package tools

import (
	"context"
	"fmt"
	"slices"
)

// Risk levels. Low and medium may auto-approve depending on policy; high
// always requires an explicit human decision.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// ExecuteFunc performs the side effect. Implementations must not assume
// clean input beyond what the declared schema guarantees.
type ExecuteFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Tool declares a callable capability exposed to agents.
type Tool struct {
	Name          string
	Description   string
	Schema        map[string]any // JSON Schema, injected into agent prompts
	RiskLevel     string
	AllowedAgents []string
	execute       ExecuteFunc
}

// NewTool builds a Tool, rejecting incomplete declarations.
func NewTool(name, description string, schema map[string]any, riskLevel string, allowedAgents []string, fn ExecuteFunc) (Tool, error) {
	if name == "" {
		return Tool{}, fmt.Errorf("tools: name is required")
	}
	if fn == nil {
		return Tool{}, fmt.Errorf("tools: %s: execute func is required", name)
	}
	switch riskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return Tool{}, fmt.Errorf("tools: %s: risk level %q is not low/medium/high", name, riskLevel)
	}
	return Tool{
		Name:          name,
		Description:   description,
		Schema:        schema,
		RiskLevel:     riskLevel,
		AllowedAgents: allowedAgents,
		execute:       fn,
	}, nil
}

// Execute validates params against the schema and runs the tool. Validation
// always happens here; never call the underlying func directly.
func (t Tool) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := ValidateParams(t.Schema, params); err != nil {
		return nil, fmt.Errorf("tools: %s: %w", t.Name, err)
	}
	result, err := t.execute(ctx, params)
	if err != nil {
		return nil, err
	}
	return ScreenResult(result), nil
}

// AllowsAgent reports whether agentType may use this tool. An empty
// allowlist means any agent.
func (t Tool) AllowsAgent(agentType string) bool {
	return len(t.AllowedAgents) == 0 || slices.Contains(t.AllowedAgents, agentType)
}

// Registry holds every tool available to agents.
type Registry struct {
	tools []Tool // insertion order, for stable prompt schemas
	index map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if i, ok := r.index[t.Name]; ok {
		r.tools[i] = t
		return
	}
	r.index[t.Name] = len(r.tools)
	r.tools = append(r.tools, t)
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	i, ok := r.index[name]
	if !ok {
		return Tool{}, fmt.Errorf("tools: unknown tool %q", name)
	}
	return r.tools[i], nil
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	return slices.Clone(r.tools)
}

// ForAgent returns the subset of tools agentType may use, further filtered
// to names when names is non-empty.
func (r *Registry) ForAgent(agentType string, names []string) *Registry {
	sub := NewRegistry()
	for _, t := range r.tools {
		if !t.AllowsAgent(agentType) {
			continue
		}
		if len(names) > 0 && !slices.Contains(names, t.Name) {
			continue
		}
		sub.Register(t)
	}
	return sub
}

// PromptSchema returns tool descriptions suitable for injection into agent
// prompts.
func (r *Registry) PromptSchema() []map[string]any {
	out := make([]map[string]any, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Schema,
			"risk_level":  t.RiskLevel,
		})
	}
	return out
}
