// Package main provides the research and approve commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/vinayprograms/taskloop/internal/hitl"
	"github.com/vinayprograms/taskloop/internal/research"
)

// Run researches a topic and prints the report.
func (c *ResearchCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if c.MaxDepth > 0 {
		cfg.Research.MaxDepth = c.MaxDepth
	}
	pol, err := loadPolicy(g, cfg)
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, pol, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setup(); err != nil {
		return err
	}
	if !rt.registry.Has("web_search") {
		return fmt.Errorf("web_search tool is not enabled by the policy")
	}

	ctrl, err := rt.researchController()
	if err != nil {
		return err
	}
	ctrl.OnStep = func(node string, s research.State) {
		fmt.Fprintf(os.Stderr, "%s %s\n", nodeStyle.Render("▶ "+node),
			dimStyle.Render(fmt.Sprintf("(depth %d/%d, %d findings)", s.Depth, s.MaxDepth, len(s.Findings))))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := ctrl.Run(ctx, c.Topic)
	if err != nil {
		return err
	}
	fmt.Println(out.Report)
	return nil
}

// Run answers breakpoint requests published by remote tasks until
// interrupted.
func (c *ApproveCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	url := cfg.HITL.NATSURL
	if c.URL != "" {
		url = c.URL
	}
	prefix := cfg.HITL.SubjectPrefix
	if c.Prefix != "" {
		prefix = c.Prefix
	}

	rt := &runtime{cfg: cfg}
	defer rt.cleanup()
	nc, err := rt.natsConn(url)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	console := rt.consoleSource()
	sub, err := hitl.Serve(nc, prefix, func(req hitl.Request) hitl.Decision {
		return answer(ctx, console, req)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", hitl.Subject(prefix, "*"), err)
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "Waiting for breakpoints on %s (Ctrl-C to stop)\n", hitl.Subject(prefix, "*"))
	<-ctx.Done()
	return nil
}

// answer prompts for one remote request within its timeout. A request left
// unanswered is rejected; the requesting gate has applied its own default
// by then.
func answer(ctx context.Context, src hitl.DecisionSource, req hitl.Request) hitl.Decision {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	d, err := src.Prompt(ctx, req)
	if err != nil {
		return hitl.Decision{Action: hitl.Reject, Feedback: err.Error()}
	}
	return d
}
