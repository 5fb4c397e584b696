// Package main provides runtime wiring for tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/policy"
	"github.com/vinayprograms/agentkit/security"
	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/agentkit/tools"
	"github.com/vinayprograms/taskloop/internal/checkpoint"
	"github.com/vinayprograms/taskloop/internal/collab"
	"github.com/vinayprograms/taskloop/internal/config"
	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/memory"
	"github.com/vinayprograms/taskloop/internal/plan"
	"github.com/vinayprograms/taskloop/internal/research"
	"github.com/vinayprograms/taskloop/internal/resilience"
	"github.com/vinayprograms/taskloop/internal/session"
	"github.com/vinayprograms/taskloop/internal/state"
	"github.com/vinayprograms/taskloop/internal/workflow"
)

// toolAction binds a planner action to a registry tool. The payload is
// passed under argKey unless it is a JSON object.
type toolAction struct {
	action string
	tool   string
	argKey string
}

var toolActions = []toolAction{
	{"bash", "bash", "command"},
	{"search", "web_search", "query"},
	{"browser", "web_fetch", "url"},
	{"crawl", "web_fetch", "url"},
	{"edit", "edit", "path"},
	{"document", "write", "path"},
}

// runtime holds the components of one task run.
type runtime struct {
	cfg   *config.Config
	pol   *policy.Policy
	creds *credentials.Credentials

	// Components
	provider llm.Provider
	smallLLM llm.Provider
	registry *tools.Registry
	telem    telemetry.Exporter
	console  *hitl.ConsoleSource
	nc       *nats.Conn
	index    *memory.FindingsIndex
	breakers *resilience.Registry
	cp       checkpoint.Checkpointer
	cpOpen   bool

	// Cleanup
	closers []func()
}

// loadConfig loads the config file and applies environment and CLI
// overrides to it.
func loadConfig(g *Globals) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if g.Config != "" {
		cfg, err = config.LoadFile(g.Config)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if g.Workspace != "" {
		cfg.Plan.Workspace = g.Workspace
	}
	if !filepath.IsAbs(cfg.Plan.Workspace) {
		cfg.Plan.Workspace, _ = filepath.Abs(cfg.Plan.Workspace)
	}
	return cfg, nil
}

// loadPolicy loads the tool policy, falling back to the default policy.
func loadPolicy(g *Globals, cfg *config.Config) (*policy.Policy, error) {
	path := g.Policy
	if path == "" {
		path = cfg.WorkspacePath("policy.toml")
	}
	pol, err := policy.LoadFile(path)
	if os.IsNotExist(err) && g.Policy == "" {
		pol, err = policy.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}
	if pol.Workspace == "" {
		pol.Workspace, _ = os.Getwd()
	}

	if pol.Security != nil {
		if len(pol.Security.ExtraPatterns) > 0 {
			if err := security.RegisterCustomPatterns(pol.Security.ExtraPatterns); err != nil {
				fmt.Fprintf(os.Stderr, "warning: invalid security pattern in policy: %v\n", err)
			}
		}
		if len(pol.Security.ExtraKeywords) > 0 {
			security.RegisterCustomKeywords(pol.Security.ExtraKeywords)
		}
	}
	return pol, nil
}

// newRuntime creates a runtime and its workspace.
func newRuntime(cfg *config.Config, pol *policy.Policy, creds *credentials.Credentials) (*runtime, error) {
	if err := os.MkdirAll(cfg.Plan.Workspace, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	return &runtime{cfg: cfg, pol: pol, creds: creds}, nil
}

// setup initializes the model and tool components.
func (rt *runtime) setup() error {
	if err := rt.createProvider(); err != nil {
		return err
	}
	rt.createSmallLLM()
	rt.setupRegistry()
	if err := rt.setupTelemetry(); err != nil {
		return err
	}
	if err := rt.setupIndex(); err != nil {
		return err
	}
	rc, err := rt.cfg.ResilienceSettings()
	if err != nil {
		return err
	}
	rt.breakers = resilience.NewRegistry(rc)
	return nil
}

func (rt *runtime) apiKey(provider string) string {
	if rt.creds == nil {
		return os.Getenv(config.DefaultAPIKeyEnv(provider))
	}
	return rt.creds.GetAPIKey(provider)
}

// createProvider creates the main LLM provider.
func (rt *runtime) createProvider() error {
	llmProvider := rt.cfg.LLM.Provider
	if llmProvider == "" {
		llmProvider = llm.InferProviderFromModel(rt.cfg.LLM.Model)
	}
	if llmProvider == "" && rt.cfg.LLM.Model == "" {
		return fmt.Errorf("LLM model not configured")
	}

	var err error
	rt.provider, err = llm.NewProvider(llm.ProviderConfig{
		Provider:    llmProvider,
		Model:       rt.cfg.LLM.Model,
		APIKey:      rt.apiKey(llmProvider),
		MaxTokens:   rt.cfg.LLM.MaxTokens,
		BaseURL:     rt.cfg.LLM.BaseURL,
		Thinking:    llm.ThinkingConfig{Level: llm.ThinkingLevel(rt.cfg.LLM.Thinking)},
		RetryConfig: parseRetryConfig(rt.cfg.LLM.MaxRetries, rt.cfg.LLM.RetryBackoff),
	})
	if err != nil {
		return fmt.Errorf("creating LLM provider: %w", err)
	}
	return nil
}

// createSmallLLM creates the small LLM used for summaries.
func (rt *runtime) createSmallLLM() {
	if rt.cfg.SmallLLM.Model == "" {
		return
	}
	smallProvider := rt.cfg.SmallLLM.Provider
	if smallProvider == "" {
		smallProvider = llm.InferProviderFromModel(rt.cfg.SmallLLM.Model)
	}
	var err error
	rt.smallLLM, err = llm.NewProvider(llm.ProviderConfig{
		Provider:  smallProvider,
		Model:     rt.cfg.SmallLLM.Model,
		APIKey:    rt.apiKey(smallProvider),
		MaxTokens: rt.cfg.SmallLLM.MaxTokens,
		BaseURL:   rt.cfg.SmallLLM.BaseURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: small_llm disabled: %v\n", err)
		rt.smallLLM = nil
	}
}

// summaryModel returns the model for summaries: the small LLM when set.
func (rt *runtime) summaryModel() *collab.Model {
	if rt.smallLLM != nil {
		return collab.NewModel(rt.smallLLM)
	}
	return collab.NewModel(rt.provider)
}

// setupRegistry creates and configures the tool registry.
func (rt *runtime) setupRegistry() {
	rt.registry = tools.NewRegistry(rt.pol)
	rt.setupBashChecker()
	if rt.smallLLM != nil {
		rt.registry.SetSummarizer(llm.NewSummarizer(rt.smallLLM))
	}
	rt.registry.SetCredentials(rt.creds)
}

// setupBashChecker configures bash security with fail-close defaults.
func (rt *runtime) setupBashChecker() {
	bashPolicy := rt.pol.GetToolPolicy("bash")
	allowedDirs := bashPolicy.AllowedDirs
	if len(allowedDirs) == 0 {
		if rt.pol.Workspace != "" {
			allowedDirs = []string{rt.pol.Workspace}
		} else if cwd, err := os.Getwd(); err == nil {
			allowedDirs = []string{cwd}
		} else {
			allowedDirs = []string{"."}
		}
		fmt.Fprintf(os.Stderr, "⚠️  No allowed_dirs configured for bash - defaulting to: %v (fail-close)\n", allowedDirs)
	}
	bashChecker := policy.NewBashChecker(rt.pol.Workspace, allowedDirs, bashPolicy.Denylist)
	rt.registry.SetBashChecker(bashChecker)
}

// setupTelemetry creates the telemetry exporter.
func (rt *runtime) setupTelemetry() error {
	var err error
	if rt.cfg.Telemetry.Enabled {
		rt.telem, err = telemetry.NewExporter(rt.cfg.Telemetry.Protocol, rt.cfg.Telemetry.Endpoint)
		if err != nil {
			return fmt.Errorf("creating telemetry exporter: %w", err)
		}
	} else {
		rt.telem = telemetry.NewNoopExporter()
	}
	rt.addCloser(func() { rt.telem.Close() })
	return nil
}

// setupIndex opens the findings index when enabled.
func (rt *runtime) setupIndex() error {
	if !rt.cfg.Research.Index {
		return nil
	}
	var err error
	rt.index, err = memory.NewFindingsIndex(rt.cfg.WorkspacePath("index"))
	if err != nil {
		return fmt.Errorf("opening findings index: %w", err)
	}
	rt.addCloser(func() { rt.index.Close() })
	return nil
}

// lookup resolves registry tools for the collaborators.
func (rt *runtime) lookup() collab.ToolLookup {
	return collab.RegistryLookup(rt.registry)
}

// actions returns the planner actions backed by available tools.
func (rt *runtime) actions() map[string]workflow.Action {
	out := make(map[string]workflow.Action)
	for _, ta := range toolActions {
		if !rt.registry.Has(ta.tool) {
			continue
		}
		out[ta.action] = collab.NewToolAction(rt.lookup(), ta.tool, ta.argKey)
	}
	if rt.console != nil {
		out["ask"] = collab.NewAskAction(rt.console)
	}
	return out
}

// researchController builds the reflective research loop.
func (rt *runtime) researchController() (*research.Controller, error) {
	model := collab.NewModel(rt.provider)
	deps := research.Deps{
		Planner:    collab.NewQueryPlanner(model),
		Searcher:   collab.NewToolSearcher(rt.lookup(), "web_search"),
		Summarizer: collab.NewSourceSummarizer(rt.summaryModel()),
		Reflector:  collab.NewReflector(model),
		Writer:     collab.NewWriter(model),
	}
	if rt.index != nil {
		deps.Index = rt.index
	}
	return research.New(rt.cfg.ResearchSettings(), deps)
}

// openPlanStore opens the configured plan store.
func openPlanStore(ctx context.Context, cfg *config.Config, onClose func(func())) (plan.Store, error) {
	if cfg.Plan.Backend == "sqlite" {
		s, err := plan.NewSQLiteStore(ctx, cfg.WorkspacePath("plans.db"))
		if err != nil {
			return nil, err
		}
		onClose(func() { s.Close() })
		return s, nil
	}
	return plan.NewFileStore(cfg.WorkspacePath("plans"))
}

// planManager creates the manager for a thread, with a watcher on file
// backed plans.
func (rt *runtime) planManager(ctx context.Context, thread string) (*plan.Manager, *plan.Watcher, error) {
	store, err := openPlanStore(ctx, rt.cfg, rt.addCloser)
	if err != nil {
		return nil, nil, err
	}
	mgr := plan.NewManager(thread, store, nil)
	if rt.index != nil {
		mgr.SetIndexer(rt.index)
	}
	fs, ok := store.(*plan.FileStore)
	if !ok || !rt.cfg.Plan.Watch {
		return mgr, nil, nil
	}
	w, err := plan.Watch(fs.Path(thread))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: plan watcher disabled: %v\n", err)
		return mgr, nil, nil
	}
	rt.addCloser(func() { w.Close() })
	return mgr, w, nil
}

// gate creates the breakpoint gate for the configured source. It returns
// nil when human review is disabled.
func (rt *runtime) gate(plans *plan.Manager) (*hitl.Gate, error) {
	if rt.cfg.HITL.Source == "none" {
		return nil, nil
	}
	bps, err := rt.cfg.BreakpointSettings()
	if err != nil {
		return nil, err
	}

	var source hitl.DecisionSource
	switch rt.cfg.HITL.Source {
	case "console":
		source = rt.consoleSource()
	case "nats":
		nc, err := rt.natsConn(rt.cfg.HITL.NATSURL)
		if err != nil {
			return nil, err
		}
		source = hitl.NewNATSSource(nc, rt.cfg.HITL.SubjectPrefix)
	case "fixed":
		source = hitl.FixedSource{Decision: hitl.Decision{Action: hitl.Action(rt.cfg.HITL.FixedDecision)}}
	case "interrupt":
		// No source: the task pauses and is resumed with --decision.
	}

	g := hitl.NewGate(bps, source)
	g.Details = func(ctx context.Context, breakpoint string, s state.TaskState) string {
		if breakpoint != hitl.BreakpointPlan {
			return ""
		}
		snap, err := plans.Refresh(ctx)
		if err != nil {
			return ""
		}
		return plan.RefreshMessage(snap)
	}
	return g, nil
}

// consoleSource returns the shared stdin source.
func (rt *runtime) consoleSource() *hitl.ConsoleSource {
	if rt.console == nil {
		rt.console = hitl.NewConsoleSource(os.Stdin, os.Stderr)
	}
	return rt.console
}

// natsConn connects to NATS once per runtime.
func (rt *runtime) natsConn(url string) (*nats.Conn, error) {
	if rt.nc != nil {
		return rt.nc, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("taskloop"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	rt.nc = nc
	rt.addCloser(func() { nc.Drain() })
	return nc, nil
}

// checkpointer opens the configured checkpoint store once per runtime.
func (rt *runtime) checkpointer() (checkpoint.Checkpointer, error) {
	if rt.cpOpen {
		return rt.cp, nil
	}
	cp, err := rt.openCheckpointer()
	if err != nil {
		return nil, err
	}
	rt.cp, rt.cpOpen = cp, true
	return cp, nil
}

func (rt *runtime) openCheckpointer() (checkpoint.Checkpointer, error) {
	dir := rt.cfg.WorkspacePath(rt.cfg.Checkpoint.Path)
	switch rt.cfg.Checkpoint.Backend {
	case "none":
		return nil, nil
	case "bolt":
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
		s, err := checkpoint.OpenBolt(filepath.Join(dir, "checkpoints.db"))
		if err != nil {
			return nil, err
		}
		rt.addCloser(func() { s.Close() })
		return s, nil
	default:
		return checkpoint.NewFileStore(dir)
	}
}

// sessions opens the session log manager.
func (rt *runtime) sessions() (*session.Manager, error) {
	store, err := session.NewFileStore(rt.cfg.WorkspacePath(rt.cfg.Engine.ThreadDir))
	if err != nil {
		return nil, err
	}
	return session.NewManager(store), nil
}

// cleanup runs closers in reverse order.
func (rt *runtime) cleanup() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// addCloser registers a cleanup function.
func (rt *runtime) addCloser(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// parseRetryConfig builds provider retry settings from config values.
func parseRetryConfig(maxRetries int, backoffStr string) llm.RetryConfig {
	cfg := llm.RetryConfig{
		MaxRetries: maxRetries,
	}
	if backoffStr != "" {
		if d, err := time.ParseDuration(backoffStr); err == nil {
			cfg.MaxBackoff = d
		}
	}
	return cfg
}
