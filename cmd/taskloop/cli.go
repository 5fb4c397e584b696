// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// Globals are flags shared by every command.
type Globals struct {
	Config    string `help:"Config file path (default: ./taskloop.toml)"`
	Workspace string `help:"Workspace directory (overrides config)"`
	Policy    string `help:"Tool policy file path (default: <workspace>/policy.toml)"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" help:"Run a task until it completes, pauses or hits the iteration cap"`
	Plan     PlanCmd     `cmd:"" help:"Inspect or edit a stored plan"`
	Research ResearchCmd `cmd:"" help:"Run the research loop on a topic and print the report"`
	Approve  ApproveCmd  `cmd:"" help:"Answer breakpoints published over NATS"`
	Replay   ReplayCmd   `cmd:"" help:"Print the recorded timeline of a thread"`
	Version  VersionCmd  `cmd:"" help:"Show version information"`
}

// RunCmd executes a task.
type RunCmd struct {
	Query         string `arg:"" optional:"" help:"Task to perform (omit with --resume)"`
	Phases        string `help:"YAML file with the plan phases"`
	Thread        string `short:"t" help:"Thread ID (default: generated)"`
	Resume        bool   `help:"Resume the thread from its latest checkpoint"`
	Decision      string `help:"Decision for the pending breakpoint when resuming (approve, reject, modify, skip, quit)"`
	Feedback      string `help:"Feedback or modification text sent with --decision"`
	HITLMode      string `name:"hitl-mode" help:"Review mode: strict, moderate or minimal"`
	MaxIterations int    `help:"Iteration cap (overrides config)"`
}

// PlanCmd groups plan subcommands.
type PlanCmd struct {
	Init     PlanInitCmd     `cmd:"" help:"Create a plan for a thread"`
	Show     PlanShowCmd     `cmd:"" help:"Print the stored plan"`
	Phase    PlanPhaseCmd    `cmd:"" help:"Mark a phase complete or incomplete"`
	LogError PlanLogErrorCmd `cmd:"" name:"log-error" help:"Append an entry to the plan error log"`
}

// PlanInitCmd creates a plan.
type PlanInitCmd struct {
	Goal   string `arg:"" help:"Goal of the plan"`
	Phases string `help:"YAML file with the plan phases"`
	Thread string `short:"t" default:"default" help:"Thread ID"`
}

// PlanShowCmd prints a plan.
type PlanShowCmd struct {
	Thread string `short:"t" default:"default" help:"Thread ID"`
	JSON   bool   `help:"Print the snapshot as JSON"`
}

// PlanPhaseCmd updates a phase.
type PlanPhaseCmd struct {
	Index      int    `arg:"" help:"Phase number (from 1)"`
	Incomplete bool   `help:"Mark the phase incomplete instead"`
	Thread     string `short:"t" default:"default" help:"Thread ID"`
}

// PlanLogErrorCmd logs an error.
type PlanLogErrorCmd struct {
	Description string `arg:"" help:"What went wrong"`
	Resolution  string `help:"How it was resolved"`
	Thread      string `short:"t" default:"default" help:"Thread ID"`
}

// ResearchCmd runs the research loop alone.
type ResearchCmd struct {
	Topic    string `arg:"" help:"Research topic"`
	MaxDepth int    `help:"Reflection depth (overrides config)"`
}

// ApproveCmd serves NATS decision requests from the console.
type ApproveCmd struct {
	URL    string `help:"NATS server URL (overrides config)"`
	Prefix string `help:"Subject prefix (overrides config)"`
}

// ReplayCmd renders a thread's session log.
type ReplayCmd struct {
	Thread     string `arg:"" help:"Thread ID or path to a .jsonl session file"`
	Verbose    int    `short:"v" type:"counter" help:"Show more detail (-v, -vv)"`
	MaxContent int    `default:"51200" help:"Truncate event content to this many bytes (0 = unlimited)"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
