package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/state"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.Engine.MaxIterations != 30 || cfg.Engine.ConsolidationThreshold != 80000 || cfg.Engine.KeepRecent != 3 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.HITLMode() != state.ModeModerate {
		t.Errorf("expected moderate mode, got %s", cfg.HITL.Mode)
	}
	if cfg.Plan.RefreshEvery != 10 || cfg.Plan.SaveEvery != 2 || !cfg.Plan.Watch {
		t.Errorf("plan defaults = %+v", cfg.Plan)
	}
	if cfg.Research.MaxDepth != 3 || cfg.Research.InitialQueries != 4 || cfg.Research.FollowupQueries != 3 {
		t.Errorf("research defaults = %+v", cfg.Research)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskloop.toml")
	content := `
[engine]
max_iterations = 12

[hitl]
mode = "strict"
source = "fixed"
fixed_decision = "reject"

[hitl.breakpoints.bash_command]
timeout_seconds = 5
default_on_timeout = "approve"
trigger_risk_levels = ["HIGH", "critical"]

[plan]
backend = "sqlite"
research_actions = ["search", "arxiv"]

[checkpoint]
backend = "bolt"

[resilience]
max_elapsed = "2s"
breaker_timeout = "1m"

[llm]
provider = "anthropic"
model = "claude-sonnet"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if cfg.Engine.MaxIterations != 12 || cfg.Engine.KeepRecent != 3 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.HITLMode() != state.ModeStrict || cfg.HITL.FixedDecision != "reject" {
		t.Errorf("hitl = %+v", cfg.HITL)
	}
	if cfg.Plan.Backend != "sqlite" || cfg.Checkpoint.Backend != "bolt" {
		t.Errorf("backends = %s %s", cfg.Plan.Backend, cfg.Checkpoint.Backend)
	}

	pol := cfg.PlanPolicy()
	if !pol.IsResearch("arxiv") || pol.IsResearch("browser") {
		t.Error("research_actions not applied")
	}

	bps, err := cfg.BreakpointSettings()
	if err != nil {
		t.Fatal(err)
	}
	bash := bps[hitl.BreakpointBashCommand]
	if bash.TimeoutSeconds != 5 || bash.DefaultOnTimeout != hitl.Approve || !bash.CommandType {
		t.Errorf("bash breakpoint = %+v", bash)
	}
	if len(bash.TriggerRiskLevels) != 2 || bash.TriggerRiskLevels[0] != state.RiskHigh {
		t.Errorf("risk levels = %v", bash.TriggerRiskLevels)
	}
	if !bps[hitl.BreakpointPlan].AllowSkip {
		t.Error("plan breakpoint lost its defaults")
	}

	rc, err := cfg.ResilienceSettings()
	if err != nil {
		t.Fatal(err)
	}
	if rc.MaxElapsedTime != 2*time.Second || rc.BreakerTimeout != time.Minute || rc.MaxRetries != 3 {
		t.Errorf("resilience = %+v", rc)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[engine\nmax_iterations = "), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"mode", func(c *Config) { c.HITL.Mode = "paranoid" }},
		{"source", func(c *Config) { c.HITL.Source = "slack" }},
		{"fixed decision", func(c *Config) { c.HITL.Source = "fixed"; c.HITL.FixedDecision = "maybe" }},
		{"plan backend", func(c *Config) { c.Plan.Backend = "redis" }},
		{"checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "s3" }},
		{"iterations", func(c *Config) { c.Engine.MaxIterations = 0 }},
		{"duration", func(c *Config) { c.Resilience.MaxElapsed = "soon" }},
		{"breakpoint default", func(c *Config) {
			c.HITL.Breakpoints = map[string]BreakpointConfig{"plan": {DefaultOnTimeout: "later"}}
		}},
		{"breakpoint modify default", func(c *Config) {
			c.HITL.Breakpoints = map[string]BreakpointConfig{"bash_command": {DefaultOnTimeout: "modify"}}
		}},
		{"breakpoint quit default", func(c *Config) {
			c.HITL.Breakpoints = map[string]BreakpointConfig{"plan": {DefaultOnTimeout: "quit"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "7")
	t.Setenv("CONSOLIDATION_THRESHOLD", "1000")
	t.Setenv("HITL_MODE", "Minimal")
	t.Setenv("DEEP_RESEARCH_MAX_DEPTH", "5")
	t.Setenv("TASKLOOP_WORKSPACE", "/tmp/ws")

	cfg := New()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.MaxIterations != 7 || cfg.Engine.ConsolidationThreshold != 1000 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.HITLMode() != state.ModeMinimal || cfg.Research.MaxDepth != 5 {
		t.Errorf("mode %s depth %d", cfg.HITL.Mode, cfg.Research.MaxDepth)
	}
	if cfg.WorkspacePath("plans") != filepath.Join("/tmp/ws", "plans") {
		t.Errorf("workspace path = %s", cfg.WorkspacePath("plans"))
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	t.Setenv("MAX_ITERATIONS", "many")
	if err := New().ApplyEnv(); err == nil {
		t.Error("expected error for non-numeric MAX_ITERATIONS")
	}
}

func TestBreakpointSettings_NewType(t *testing.T) {
	cfg := New()
	yes := true
	cfg.HITL.Breakpoints = map[string]BreakpointConfig{"deploy": {AlwaysTrigger: &yes}}
	bps, err := cfg.BreakpointSettings()
	if err != nil {
		t.Fatal(err)
	}
	if bp, ok := bps["deploy"]; !ok || !bp.AlwaysTrigger || bp.Type != "deploy" {
		t.Errorf("deploy breakpoint = %+v", bp)
	}
}

func TestDefaultAPIKeyEnv(t *testing.T) {
	if DefaultAPIKeyEnv("anthropic") != "ANTHROPIC_API_KEY" || DefaultAPIKeyEnv("unknown") != "" {
		t.Error("unexpected default env names")
	}
}
