// Package config provides YAML-based configuration loading for Conductor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Conductor configuration, loaded from conductor.yaml.
type Config struct {
	Database DatabaseConfig         `yaml:"database"`
	Dispatch DispatchConfig         `yaml:"dispatch"`
	Models   ModelsConfig           `yaml:"models"`
	Agents   map[string]AgentConfig `yaml:"agents"`
	Approval ApprovalConfig         `yaml:"approval"`
	Timer    TimerConfig            `yaml:"timer"`
	Network  NetworkConfig          `yaml:"network"`
	Paths    PathsConfig            `yaml:"paths"`
	Shell    ShellConfig            `yaml:"shell"`
	Notify   NotifyConfig           `yaml:"notify"`
	GitHub   GitHubConfig           `yaml:"github"`
	Projects ProjectsConfig         `yaml:"projects"`
	Context  ContextConfig          `yaml:"context"`
}

// DatabaseConfig selects the durable store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	Path   string `yaml:"path"`   // sqlite file path
	DSN    string `yaml:"dsn"`    // mysql DSN
}

// DispatchConfig tunes the single consumer loop.
type DispatchConfig struct {
	PollMillis int `yaml:"poll_ms"` // idle wait between empty dequeues
}

// ModelsConfig names the language models available to the router.
type ModelsConfig struct {
	Default string       `yaml:"default"` // name of the default entry
	List    []ModelEntry `yaml:"list"`
}

// ModelEntry describes one provider model.
type ModelEntry struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`       // provider model identifier
	BaseURL   string `yaml:"base_url"`    // chat-completions endpoint base
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the API key
	MaxTokens int    `yaml:"max_tokens"`
}

// AgentConfig bounds one agent type's invocation behavior.
type AgentConfig struct {
	MaxIterations    int      `yaml:"max_iterations"`
	MaxContinuations int      `yaml:"max_continuations"`
	Tools            []string `yaml:"tools"` // empty means all registered tools
}

// ApprovalConfig selects the risk-to-approval policy.
type ApprovalConfig struct {
	Policy string `yaml:"policy"` // "development" or "production"
}

// TimerConfig controls the periodic tick producer.
type TimerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Schedule  string `yaml:"schedule"` // 5-field cron expression
	ProjectID string `yaml:"project_id"`
}

// NetworkConfig controls the HTTP listener.
type NetworkConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	RequireAuth    bool   `yaml:"require_auth"`
	APIKey         string `yaml:"api_key"`
	RequestTimeout int    `yaml:"request_timeout_s"` // sync completion wait
}

// PathsConfig holds the filesystem sandbox allowlists.
type PathsConfig struct {
	AllowedRead  []string `yaml:"allowed_read"`
	AllowedWrite []string `yaml:"allowed_write"`
}

// ShellConfig holds the shell tool command allowlist.
type ShellConfig struct {
	Allowlist []string `yaml:"allowlist"`
}

// NotifyConfig configures notification transports for the notify_user tool.
type NotifyConfig struct {
	Command string        `yaml:"command"` // shell template, e.g. notify-send
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig configures the Slack notification transport.
type SlackConfig struct {
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// DiscordConfig configures the Discord notification transport.
type DiscordConfig struct {
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// GitHubConfig configures the github_open_issue tool.
type GitHubConfig struct {
	TokenEnv string `yaml:"token_env"`
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
}

// ProjectsConfig names the project used when an event carries none.
type ProjectsConfig struct {
	DefaultID   string `yaml:"default_id"`
	DefaultName string `yaml:"default_name"`
}

// ContextConfig bounds project context assembly.
type ContextConfig struct {
	RecentBufferTokens   int `yaml:"recent_buffer_tokens"`
	SummaryTriggerTokens int `yaml:"summary_trigger_tokens"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveModel looks up key (or the default when key is "default" or empty)
// in the model list and returns the entry plus its API key from the
// environment.
func (c *Config) ResolveModel(key string) (ModelEntry, string, error) {
	name := key
	if name == "" || name == "default" {
		name = c.Models.Default
	}
	for _, m := range c.Models.List {
		if m.Name == name {
			apiKey := ""
			if m.APIKeyEnv != "" {
				apiKey = os.Getenv(m.APIKeyEnv)
			}
			return m, apiKey, nil
		}
	}
	return ModelEntry{}, "", fmt.Errorf("config: unknown model %q", name)
}

// AgentFor returns the agent config for agentType, filling defaults for
// unknown types so new routing rules work before tuning exists for them.
func (c *Config) AgentFor(agentType string) AgentConfig {
	if ac, ok := c.Agents[agentType]; ok {
		if ac.MaxIterations <= 0 {
			ac.MaxIterations = defaultMaxIterations
		}
		if ac.MaxContinuations <= 0 {
			ac.MaxContinuations = defaultMaxContinuations
		}
		return ac
	}
	return AgentConfig{MaxIterations: defaultMaxIterations, MaxContinuations: defaultMaxContinuations}
}

const (
	defaultMaxIterations    = 10
	defaultMaxContinuations = 3
	defaultPollMillis       = 500
)

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "./data/conductor.db"
	}
	if c.Dispatch.PollMillis <= 0 {
		c.Dispatch.PollMillis = defaultPollMillis
	}
	if c.Approval.Policy == "" {
		c.Approval.Policy = "production"
	}
	if c.Timer.Schedule == "" {
		c.Timer.Schedule = "* * * * *"
	}
	if c.Network.Addr == "" {
		c.Network.Addr = "127.0.0.1:8141"
	}
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = 300
	}
	if c.Projects.DefaultID == "" {
		c.Projects.DefaultID = "default"
	}
	if c.Projects.DefaultName == "" {
		c.Projects.DefaultName = c.Projects.DefaultID
	}
	if c.Context.RecentBufferTokens <= 0 {
		c.Context.RecentBufferTokens = 2000
	}
	if c.Context.SummaryTriggerTokens <= 0 {
		c.Context.SummaryTriggerTokens = 4000
	}
	c.Paths.AllowedRead = expandPaths(c.Paths.AllowedRead)
	c.Paths.AllowedWrite = expandPaths(c.Paths.AllowedWrite)
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Approval.Policy != "development" && c.Approval.Policy != "production" {
		errs = append(errs, fmt.Sprintf("approval.policy %q must be development or production", c.Approval.Policy))
	}
	if len(c.Models.List) == 0 {
		errs = append(errs, "at least one model is required")
	}
	if c.Models.Default == "" && len(c.Models.List) > 0 {
		c.Models.Default = c.Models.List[0].Name
	}
	names := make(map[string]bool, len(c.Models.List))
	for i, m := range c.Models.List {
		if m.Name == "" {
			errs = append(errs, fmt.Sprintf("models.list[%d].name is required", i))
		}
		if m.Model == "" {
			errs = append(errs, fmt.Sprintf("models.list[%d].model is required", i))
		}
		if names[m.Name] {
			errs = append(errs, fmt.Sprintf("models.list[%d].name %q is duplicated", i, m.Name))
		}
		names[m.Name] = true
	}
	if c.Models.Default != "" && len(c.Models.List) > 0 && !names[c.Models.Default] {
		errs = append(errs, fmt.Sprintf("models.default %q is not in models.list", c.Models.Default))
	}
	if c.Network.Enabled && c.Network.RequireAuth && c.Network.APIKey == "" {
		errs = append(errs, "network.api_key is required when require_auth is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// expandPaths resolves ~ and environment variables and absolutizes every
// entry so sandbox checks compare like with like.
func expandPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		expanded := os.ExpandEnv(p)
		if strings.HasPrefix(expanded, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
			}
		}
		if abs, err := filepath.Abs(expanded); err == nil {
			expanded = abs
		}
		out = append(out, expanded)
	}
	return out
}
