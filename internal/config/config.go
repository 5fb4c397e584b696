// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/research"
	"github.com/vinayprograms/taskloop/internal/resilience"
	"github.com/vinayprograms/taskloop/internal/state"
)

// DefaultFile is the config file LoadDefault looks for.
const DefaultFile = "taskloop.toml"

// Config represents the engine configuration.
type Config struct {
	Engine     EngineConfig     `toml:"engine"`
	HITL       HITLConfig       `toml:"hitl"`
	Plan       PlanConfig       `toml:"plan"`
	Research   ResearchConfig   `toml:"research"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Resilience ResilienceConfig `toml:"resilience"`
	LLM        LLMConfig        `toml:"llm"`       // Planner and collaborator model
	SmallLLM   LLMConfig        `toml:"small_llm"` // Optional cheap model for summaries
	Telemetry  TelemetryConfig  `toml:"telemetry"`
}

// EngineConfig holds loop limits.
type EngineConfig struct {
	MaxIterations          int    `toml:"max_iterations"`
	ConsolidationThreshold int    `toml:"consolidation_threshold"` // estimated tokens
	KeepRecent             int    `toml:"keep_recent"`             // messages kept by consolidation
	ThreadDir              string `toml:"thread_dir"`              // session logs, relative to the workspace
	MaxSteps               int    `toml:"max_steps"`               // 0 derives a budget from max_iterations
}

// HITLConfig configures human review.
type HITLConfig struct {
	Mode          string                      `toml:"mode"`   // strict|moderate|minimal
	Source        string                      `toml:"source"` // console|nats|fixed|interrupt|none
	NATSURL       string                      `toml:"nats_url"`
	SubjectPrefix string                      `toml:"subject_prefix"`
	FixedDecision string                      `toml:"fixed_decision"` // used by the fixed source
	Breakpoints   map[string]BreakpointConfig `toml:"breakpoints"`
}

// BreakpointConfig overrides one built-in breakpoint. Zero values keep the
// built-in setting.
type BreakpointConfig struct {
	TimeoutSeconds    int      `toml:"timeout_seconds"`
	DefaultOnTimeout  string   `toml:"default_on_timeout"`
	AlwaysTrigger     *bool    `toml:"always_trigger"`
	AllowSkip         *bool    `toml:"allow_skip"`
	TriggerRiskLevels []string `toml:"trigger_risk_levels"`
}

// PlanConfig configures plan persistence and refresh.
type PlanConfig struct {
	Workspace       string   `toml:"workspace"`
	Backend         string   `toml:"backend"` // file|sqlite
	RefreshEvery    int      `toml:"refresh_every"`
	SaveEvery       int      `toml:"save_every"`
	CriticalActions []string `toml:"critical_actions"`
	ResearchActions []string `toml:"research_actions"`
	Watch           bool     `toml:"watch"` // refresh after external plan edits
}

// ResearchConfig configures the reflective research loop.
type ResearchConfig struct {
	MaxDepth        int  `toml:"max_depth"`
	InitialQueries  int  `toml:"initial_queries"`
	FollowupQueries int  `toml:"followup_queries"`
	MaxResults      int  `toml:"max_results"`
	Concurrency     int  `toml:"concurrency"`
	Index           bool `toml:"index"` // keep a bleve index of findings
}

// CheckpointConfig configures per-step checkpoints.
type CheckpointConfig struct {
	Backend string `toml:"backend"` // file|bolt|none
	Path    string `toml:"path"`    // relative to the workspace
}

// ResilienceConfig configures retries and circuit breakers around actions.
type ResilienceConfig struct {
	MaxRetries      int    `toml:"max_retries"`
	MaxElapsed      string `toml:"max_elapsed"`
	BreakerFailures int    `toml:"breaker_failures"`
	BreakerTimeout  string `toml:"breaker_timeout"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	Thinking     string `toml:"thinking"`      // Thinking level: auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`   // Provider-level retries
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration (e.g. "60s")
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxIterations:          30,
			ConsolidationThreshold: 80000,
			KeepRecent:             3,
			ThreadDir:              "threads",
		},
		HITL: HITLConfig{
			Mode:          string(state.ModeModerate),
			Source:        "console",
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "taskloop.hitl",
			FixedDecision: string(hitl.Approve),
		},
		Plan: PlanConfig{
			Workspace:    ".taskloop",
			Backend:      "file",
			RefreshEvery: 10,
			SaveEvery:    2,
			Watch:        true,
		},
		Research: ResearchConfig{
			MaxDepth:        3,
			InitialQueries:  4,
			FollowupQueries: 3,
			MaxResults:      10,
			Concurrency:     4,
			Index:           true,
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Path:    "checkpoints",
		},
		Resilience: ResilienceConfig{
			MaxRetries:      3,
			MaxElapsed:      "30s",
			BreakerFailures: 5,
			BreakerTimeout:  "30s",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from taskloop.toml in the current
// directory. A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if err := envInt("MAX_ITERATIONS", &c.Engine.MaxIterations); err != nil {
		return err
	}
	if err := envInt("CONSOLIDATION_THRESHOLD", &c.Engine.ConsolidationThreshold); err != nil {
		return err
	}
	if err := envInt("DEEP_RESEARCH_MAX_DEPTH", &c.Research.MaxDepth); err != nil {
		return err
	}
	if v := os.Getenv("HITL_MODE"); v != "" {
		c.HITL.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("TASKLOOP_WORKSPACE"); v != "" {
		c.Plan.Workspace = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if !state.HITLMode(c.HITL.Mode).Valid() {
		return fmt.Errorf("hitl.mode: unknown mode %q", c.HITL.Mode)
	}
	switch c.HITL.Source {
	case "console", "nats", "fixed", "interrupt", "none":
	default:
		return fmt.Errorf("hitl.source: unknown source %q", c.HITL.Source)
	}
	if c.HITL.Source == "fixed" && !hitl.Action(c.HITL.FixedDecision).Valid() {
		return fmt.Errorf("hitl.fixed_decision: unknown decision %q", c.HITL.FixedDecision)
	}
	switch c.Plan.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("plan.backend: unknown backend %q", c.Plan.Backend)
	}
	switch c.Checkpoint.Backend {
	case "file", "bolt", "none":
	default:
		return fmt.Errorf("checkpoint.backend: unknown backend %q", c.Checkpoint.Backend)
	}
	if c.Engine.MaxIterations <= 0 {
		return fmt.Errorf("engine.max_iterations must be positive")
	}
	if _, err := c.ResilienceSettings(); err != nil {
		return err
	}
	if _, err := c.BreakpointSettings(); err != nil {
		return err
	}
	return nil
}

// HITLMode returns the configured mode.
func (c *Config) HITLMode() state.HITLMode {
	return state.HITLMode(c.HITL.Mode)
}

// WorkspacePath resolves a path relative to the plan workspace.
func (c *Config) WorkspacePath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.Plan.Workspace, rel)
}

// PlanPolicy builds the refresh and save policy.
func (c *Config) PlanPolicy() *plan.Policy {
	return plan.NewPolicy(c.Plan.RefreshEvery, c.Plan.SaveEvery, c.Plan.CriticalActions, c.Plan.ResearchActions)
}

// ResearchSettings returns the research loop limits.
func (c *Config) ResearchSettings() research.Config {
	return research.Config{
		MaxDepth:        c.Research.MaxDepth,
		InitialQueries:  c.Research.InitialQueries,
		FollowupQueries: c.Research.FollowupQueries,
		MaxResults:      c.Research.MaxResults,
		Concurrency:     c.Research.Concurrency,
	}
}

// ResilienceSettings converts the retry and breaker section.
func (c *Config) ResilienceSettings() (resilience.Config, error) {
	rc := resilience.DefaultConfig()
	rc.MaxRetries = c.Resilience.MaxRetries
	if c.Resilience.BreakerFailures > 0 {
		rc.BreakerFailures = c.Resilience.BreakerFailures
	}
	if c.Resilience.MaxElapsed != "" {
		d, err := time.ParseDuration(c.Resilience.MaxElapsed)
		if err != nil {
			return rc, fmt.Errorf("resilience.max_elapsed: %w", err)
		}
		rc.MaxElapsedTime = d
	}
	if c.Resilience.BreakerTimeout != "" {
		d, err := time.ParseDuration(c.Resilience.BreakerTimeout)
		if err != nil {
			return rc, fmt.Errorf("resilience.breaker_timeout: %w", err)
		}
		rc.BreakerTimeout = d
	}
	return rc, nil
}

// BreakpointSettings merges the configured overrides into the built-in
// breakpoints. Overrides for unknown types add new breakpoints.
func (c *Config) BreakpointSettings() (map[string]hitl.BreakpointConfig, error) {
	out := hitl.DefaultBreakpoints()
	for name, o := range c.HITL.Breakpoints {
		bp, ok := out[name]
		if !ok {
			bp = hitl.BreakpointConfig{Type: name, DefaultOnTimeout: hitl.Approve, TimeoutSeconds: 300}
		}
		if o.TimeoutSeconds > 0 {
			bp.TimeoutSeconds = o.TimeoutSeconds
		}
		if o.DefaultOnTimeout != "" {
			a := hitl.Action(o.DefaultOnTimeout)
			if !a.TimeoutDefault() {
				return nil, fmt.Errorf("hitl.breakpoints.%s.default_on_timeout: %q is not approve, reject or skip", name, o.DefaultOnTimeout)
			}
			bp.DefaultOnTimeout = a
		}
		if o.AlwaysTrigger != nil {
			bp.AlwaysTrigger = *o.AlwaysTrigger
		}
		if o.AllowSkip != nil {
			bp.AllowSkip = *o.AllowSkip
		}
		if len(o.TriggerRiskLevels) > 0 {
			levels := make([]state.RiskLevel, 0, len(o.TriggerRiskLevels))
			for _, l := range o.TriggerRiskLevels {
				levels = append(levels, state.RiskLevel(strings.ToLower(l)))
			}
			bp.TriggerRiskLevels = levels
		}
		out[name] = bp
	}
	return out, nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
