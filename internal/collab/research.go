package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/taskloop/internal/research"
)

const queriesSystem = `You plan web search queries for a research task.
Queries are short, specific and distinct from each other. Avoid topics already covered.

Reply with one JSON object:
{"queries": ["<query>", ...]}`

// QueryPlanner proposes search queries.
type QueryPlanner struct {
	model *Model
}

// NewQueryPlanner creates a query planner.
func NewQueryPlanner(m *Model) *QueryPlanner {
	return &QueryPlanner{model: m}
}

// PlanQueries returns up to req.Count queries.
func (q *QueryPlanner) PlanQueries(ctx context.Context, req research.QueryRequest) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "TOPIC: %s\nCYCLE: %d\nNUMBER OF QUERIES: %d\n", req.Topic, req.Depth+1, req.Count)
	if len(req.Gaps) > 0 {
		b.WriteString("\nKNOWLEDGE GAPS TO FILL:\n")
		for _, g := range req.Gaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if len(req.Known) > 0 {
		b.WriteString("\nALREADY COVERED:\n")
		for _, k := range req.Known {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}

	var out struct {
		Queries []string `json:"queries"`
	}
	err := q.model.structured(ctx, "queries", queriesSystem, b.String(), &out, func() error {
		if len(out.Queries) == 0 {
			return invalid("queries", "no queries")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if req.Count > 0 && len(out.Queries) > req.Count {
		out.Queries = out.Queries[:req.Count]
	}
	return out.Queries, nil
}

const sourceSystem = `You summarize one search result against a research topic in at most 300 words.

Reply with one JSON object:
{"summary": "<summary>", "source_type": "academic|news|blog|marketing|official|unknown",
 "relevance": "high|medium|low"}`

// SourceSummarizer condenses search results.
type SourceSummarizer struct {
	model *Model
}

// NewSourceSummarizer creates a source summarizer.
func NewSourceSummarizer(m *Model) *SourceSummarizer {
	return &SourceSummarizer{model: m}
}

// SummarizeSource condenses src for topic.
func (s *SourceSummarizer) SummarizeSource(ctx context.Context, topic, query string, src research.Source) (research.Summary, error) {
	prompt := fmt.Sprintf("TOPIC: %s\nQUERY: %s\nTITLE: %s\nURL: %s\n\nCONTENT:\n%s",
		topic, query, src.Title, src.URL, truncate(src.Snippet, 4000))
	var out research.Summary
	err := s.model.structured(ctx, "source summary", sourceSystem, prompt, &out, func() error {
		if strings.TrimSpace(out.Content) == "" {
			return invalid("source summary", "summary is empty")
		}
		out.Relevance = strings.ToLower(strings.TrimSpace(out.Relevance))
		switch out.Relevance {
		case "high", "medium", "low":
		case "":
			out.Relevance = "medium"
		default:
			return invalid("source summary", "unknown relevance %q", out.Relevance)
		}
		return nil
	})
	return out, err
}

const reflectSystem = `You review research findings, list what is well covered and what is missing,
and decide whether another search cycle is worth it.

Reply with one JSON object:
{"well_covered_aspects": ["..."], "knowledge_gaps": ["..."], "should_continue": true|false,
 "reasoning": "<why>"}`

// Reflector assesses research coverage.
type Reflector struct {
	model *Model
}

// NewReflector creates a reflector.
func NewReflector(m *Model) *Reflector {
	return &Reflector{model: m}
}

// Reflect returns the assessment of req.Findings.
func (r *Reflector) Reflect(ctx context.Context, req research.ReflectRequest) (research.Reflection, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "TOPIC: %s\nCYCLE: %d of %d\n\nFINDINGS:\n", req.Topic, req.Cycle, req.MaxDepth)
	for _, f := range req.Findings {
		fmt.Fprintf(&b, "[%d] %s: %s\n", f.SourceIndex, f.SourceTitle, truncate(f.Content, 600))
	}
	if len(req.PreviousGaps) > 0 {
		b.WriteString("\nGAPS FROM THE LAST CYCLE:\n")
		for _, g := range req.PreviousGaps {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	var out research.Reflection
	err := r.model.structured(ctx, "reflection", reflectSystem, b.String(), &out, nil)
	return out, err
}

const reportSystem = `You write a structured markdown research report from numbered findings.
Cite sources inline as [n] and end with a "Sources" list of the cited entries.`

// Writer produces research reports.
type Writer struct {
	model *Model
}

// NewWriter creates a report writer.
func NewWriter(m *Model) *Writer {
	return &Writer{model: m}
}

// WriteReport writes the report for topic.
func (w *Writer) WriteReport(ctx context.Context, topic string, findings []research.Finding) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "TOPIC: %s\n\nFINDINGS:\n", topic)
	for _, f := range findings {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", f.SourceIndex, f.SourceTitle, f.SourceURL, f.Content)
	}
	out, err := w.model.Text(ctx, reportSystem, b.String())
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if out == "" {
		return "", invalid("report", "empty report")
	}
	return out, nil
}
