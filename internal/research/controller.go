package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/taskloop/internal/graph"
	"github.com/vinayprograms/taskloop/internal/memory"
	"golang.org/x/sync/errgroup"
)

// Node names of the research graph.
const (
	NodePlanQueries = "plan_queries"
	NodeGather      = "gather"
	NodeReflect     = "reflect"
	NodeFinalize    = "finalize"
)

// NoDataGap is the knowledge gap reported when reflection has nothing to
// assess.
const NoDataGap = "No research data available - need to search first"

// Config holds research loop limits.
type Config struct {
	MaxDepth        int
	InitialQueries  int
	FollowupQueries int
	MaxResults      int
	// Concurrency bounds parallel searches in one gather step.
	Concurrency int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxDepth:        3,
		InitialQueries:  4,
		FollowupQueries: 3,
		MaxResults:      10,
		Concurrency:     4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.InitialQueries <= 0 {
		c.InitialQueries = d.InitialQueries
	}
	if c.FollowupQueries <= 0 {
		c.FollowupQueries = d.FollowupQueries
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// Deps are the controller's collaborators. Index is optional.
type Deps struct {
	Planner    QueryPlanner
	Searcher   Searcher
	Summarizer Summarizer
	Reflector  Reflector
	Writer     Writer
	Index      memory.Index
}

// Controller runs the research loop on a private graph.
type Controller struct {
	cfg    Config
	deps   Deps
	graph  *graph.Graph[State, Update]
	logger *logging.Logger

	// OnStep is called after each research node.
	OnStep func(node string, s State)
}

// New builds a controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("research: searcher is required")
	}
	c := &Controller{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logging.New().WithComponent("research"),
	}
	g := graph.New[State, Update]("research")
	nodes := []struct {
		name string
		fn   graph.NodeFunc[State, Update]
	}{
		{NodePlanQueries, c.planQueries},
		{NodeGather, c.gather},
		{NodeReflect, c.reflect},
		{NodeFinalize, c.finalize},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, err
		}
	}
	if err := g.SetEntry(NodePlanQueries); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodePlanQueries, NodeGather); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeGather, NodeReflect); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdge(NodeReflect, "after_reflect", AfterReflect,
		graph.Targets(NodePlanQueries, NodeFinalize)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeFinalize, graph.End); err != nil {
		return nil, err
	}
	c.graph = g
	return c, nil
}

// Config returns the effective limits.
func (c *Controller) Config() Config { return c.cfg }

// Graph returns the controller's private graph.
func (c *Controller) Graph() *graph.Graph[State, Update] { return c.graph }

// AfterReflect loops only while reflection recommends it, depth remains and
// gaps are known.
func AfterReflect(s State) string {
	if s.Depth >= s.MaxDepth {
		return NodeFinalize
	}
	if !s.ShouldContinue || len(s.KnowledgeGaps) == 0 {
		return NodeFinalize
	}
	return NodePlanQueries
}

// Run researches topic from depth 0 and returns the final state.
func (c *Controller) Run(ctx context.Context, topic string) (State, error) {
	s := State{Topic: topic, MaxDepth: c.cfg.MaxDepth}
	runner := &graph.Runner[State, Update]{
		Graph:    c.graph,
		Merge:    Apply,
		MaxSteps: 3*c.cfg.MaxDepth + 1,
		OnStep:   c.OnStep,
	}
	start := time.Now()
	c.logger.Info("research started", map[string]interface{}{
		"topic":     topic,
		"max_depth": c.cfg.MaxDepth,
	})
	out, err := runner.Run(ctx, s)
	if err != nil {
		return out, fmt.Errorf("research: %w", err)
	}
	c.logger.Info("research complete", map[string]interface{}{
		"cycles":   out.Depth,
		"findings": len(out.Findings),
		"duration": time.Since(start).String(),
	})
	return out, nil
}

func (c *Controller) planQueries(ctx context.Context, s State) (Update, error) {
	count := c.cfg.InitialQueries
	if s.Depth > 0 {
		count = c.cfg.FollowupQueries
	}
	req := QueryRequest{Topic: s.Topic, Depth: s.Depth, Count: count, Gaps: s.KnowledgeGaps}
	if c.deps.Index != nil {
		req.Known = c.known(ctx, s.Topic)
	}

	var queries []string
	if c.deps.Planner != nil {
		q, err := c.deps.Planner.PlanQueries(ctx, req)
		if err != nil {
			c.logger.Warn("query planning failed, using fallback", map[string]interface{}{"error": err.Error()})
		} else {
			queries = q
		}
	}
	queries = cleanQueries(queries, count)
	if len(queries) == 0 {
		queries = fallbackQueries(s, count)
	}
	queries = c.skipCovered(ctx, queries)

	return Update{
		Queries:  queries,
		Messages: []string{fmt.Sprintf("[RESEARCH PLAN] Cycle %d: %d queries", s.Depth+1, len(queries))},
	}, nil
}

func (c *Controller) known(ctx context.Context, topic string) []string {
	hits, err := c.deps.Index.Search(ctx, topic, memory.SearchOpts{Limit: 5})
	if err != nil {
		c.logger.Warn("findings lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	var out []string
	for _, h := range hits {
		label := h.Title
		if label == "" {
			label = truncate(h.Content, 120)
		}
		out = append(out, label)
	}
	return out
}

// skipCovered drops queries already researched in an earlier run. At least
// one query is always kept.
func (c *Controller) skipCovered(ctx context.Context, queries []string) []string {
	if c.deps.Index == nil || len(queries) == 0 {
		return queries
	}
	var out []string
	for _, q := range queries {
		seen, err := c.deps.Index.HasQuery(ctx, q)
		if err == nil && seen {
			c.logger.Debug("skipping covered query", map[string]interface{}{"query": q})
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return queries[:1]
	}
	return out
}

func cleanQueries(queries []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

func fallbackQueries(s State, count int) []string {
	if s.Depth == 0 || len(s.KnowledgeGaps) == 0 {
		return []string{s.Topic}
	}
	var out []string
	for _, g := range s.KnowledgeGaps {
		out = append(out, s.Topic+" "+g)
		if len(out) == count {
			break
		}
	}
	return out
}

type queryResult struct {
	query   string
	sources []Source
	sums    []Summary
}

func (c *Controller) gather(ctx context.Context, s State) (Update, error) {
	if len(s.Queries) == 0 {
		return Update{Messages: []string{"[SEARCH] No queries provided"}}, nil
	}

	results := make([]queryResult, len(s.Queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, q := range s.Queries {
		g.Go(func() error {
			sources, err := c.deps.Searcher.Search(gctx, q, c.cfg.MaxResults)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("search failed", map[string]interface{}{"query": q, "error": err.Error()})
				return nil
			}
			sums := make([]Summary, len(sources))
			for j, src := range sources {
				sums[j] = c.summarize(gctx, s.Topic, q, src)
			}
			results[i] = queryResult{query: q, sources: sources, sums: sums}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Update{}, err
	}

	next := len(s.Findings) + 1
	total := 0
	var found []Finding
	for _, r := range results {
		total += len(r.sources)
		for j, src := range r.sources {
			sum := r.sums[j]
			if strings.EqualFold(sum.Relevance, "low") {
				continue
			}
			f := Finding{
				Content:     sum.Content,
				SourceTitle: src.Title,
				SourceURL:   src.URL,
				SourceIndex: next,
			}
			next++
			found = append(found, f)
			c.index(ctx, s.Topic, r.query, f)
		}
	}

	msg := fmt.Sprintf("[SEARCH COMPLETE] Cycle %d: %d queries, %d results, %d new findings, %d total",
		s.Depth+1, len(s.Queries), total, len(found), len(s.Findings)+len(found))
	c.logger.Info("gather complete", map[string]interface{}{
		"cycle":    s.Depth + 1,
		"results":  total,
		"findings": len(found),
	})
	return Update{Findings: found, Messages: []string{msg}}, nil
}

func (c *Controller) summarize(ctx context.Context, topic, query string, src Source) Summary {
	if c.deps.Summarizer != nil {
		sum, err := c.deps.Summarizer.SummarizeSource(ctx, topic, query, src)
		if err == nil && strings.TrimSpace(sum.Content) != "" {
			return sum
		}
		if err != nil {
			c.logger.Warn("summarization failed, using snippet", map[string]interface{}{
				"url":   src.URL,
				"error": err.Error(),
			})
		}
	}
	return Summary{Content: truncate(src.Snippet, 300), SourceType: "unknown", Relevance: "unknown"}
}

func (c *Controller) index(ctx context.Context, topic, query string, f Finding) {
	if c.deps.Index == nil {
		return
	}
	_, err := c.deps.Index.Add(ctx, memory.Finding{
		Ref:     topic,
		Query:   query,
		Content: f.Content,
		Title:   f.SourceTitle,
		URL:     f.SourceURL,
		Kind:    "summary",
	})
	if err != nil {
		c.logger.Warn("failed to index finding", map[string]interface{}{"error": err.Error()})
	}
}

func (c *Controller) reflect(ctx context.Context, s State) (Update, error) {
	depth := s.Depth + 1
	atMax := depth >= s.MaxDepth

	if len(s.Findings) == 0 {
		cont := !atMax
		return Update{
			Depth:          &depth,
			KnowledgeGaps:  []string{NoDataGap},
			ShouldContinue: &cont,
			Messages:       []string{"[REFLECTION] No findings available"},
		}, nil
	}

	stop := false
	if c.deps.Reflector == nil {
		return Update{
			Depth:          &depth,
			KnowledgeGaps:  []string{},
			ShouldContinue: &stop,
			Messages:       []string{fmt.Sprintf("[REFLECTION] Cycle %d/%d: no reflector, writing report", depth, s.MaxDepth)},
		}, nil
	}

	r, err := c.deps.Reflector.Reflect(ctx, ReflectRequest{
		Topic:        s.Topic,
		Cycle:        depth,
		MaxDepth:     s.MaxDepth,
		Findings:     s.Findings,
		PreviousGaps: s.KnowledgeGaps,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Update{}, ctx.Err()
		}
		c.logger.Error("reflection failed", map[string]interface{}{"error": err.Error()})
		return Update{
			Depth:          &depth,
			ShouldContinue: &stop,
			Messages:       []string{fmt.Sprintf("[REFLECTION FAILED] %v - proceeding to report", err)},
		}, nil
	}

	cont := r.Continue && !atMax
	gaps := r.Gaps
	if gaps == nil {
		gaps = []string{}
	}
	decision := "WRITE REPORT"
	if cont {
		decision = "CONTINUE RESEARCH"
	}
	c.logger.Info("reflection complete", map[string]interface{}{
		"cycle":    depth,
		"gaps":     len(gaps),
		"continue": cont,
	})
	return Update{
		Depth:          &depth,
		KnowledgeGaps:  gaps,
		ShouldContinue: &cont,
		Messages: []string{fmt.Sprintf("[REFLECTION] Cycle %d/%d: %d covered, %d gaps, %s. %s",
			depth, s.MaxDepth, len(r.WellCovered), len(gaps), decision, truncate(r.Reasoning, 200))},
	}, nil
}

func (c *Controller) finalize(ctx context.Context, s State) (Update, error) {
	var report string
	if c.deps.Writer != nil && len(s.Findings) > 0 {
		r, err := c.deps.Writer.WriteReport(ctx, s.Topic, s.Findings)
		if err != nil {
			if ctx.Err() != nil {
				return Update{}, ctx.Err()
			}
			c.logger.Warn("report writing failed, using outline", map[string]interface{}{"error": err.Error()})
		} else {
			report = r
		}
	}
	if strings.TrimSpace(report) == "" {
		report = Outline(s.Topic, s.Findings, s.KnowledgeGaps)
	}
	return Update{
		Report:   &report,
		Messages: []string{fmt.Sprintf("[REPORT] %d words, %d sources", len(strings.Fields(report)), len(s.Findings))},
	}, nil
}

// Outline renders findings as a plain Markdown report.
func Outline(topic string, findings []Finding, gaps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research: %s\n\n", topic)
	if len(findings) == 0 {
		b.WriteString("No findings were gathered.\n")
	} else {
		b.WriteString("## Findings\n\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s [%d]\n", strings.TrimSpace(f.Content), f.SourceIndex)
		}
		b.WriteString("\n## Sources\n\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "[%d] %s - %s\n", f.SourceIndex, f.SourceTitle, f.SourceURL)
		}
	}
	if len(gaps) > 0 {
		b.WriteString("\n## Open questions\n\n")
		for _, g := range gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
