package research

import "context"

// Source is one raw search result.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Summary is a source condensed against the research topic.
type Summary struct {
	Content    string `json:"summary"`
	SourceType string `json:"source_type,omitempty"`
	Relevance  string `json:"relevance,omitempty"` // high | medium | low
}

// QueryRequest asks for the next batch of search queries.
type QueryRequest struct {
	Topic string
	Depth int
	Count int
	Gaps  []string
	Known []string // titles of findings indexed by earlier research
}

// ReflectRequest asks for an assessment of the findings so far.
type ReflectRequest struct {
	Topic        string
	Cycle        int // 1-based cycle being assessed
	MaxDepth     int
	Findings     []Finding
	PreviousGaps []string
}

// Reflection is the reflector's assessment.
type Reflection struct {
	WellCovered []string `json:"well_covered_aspects"`
	Gaps        []string `json:"knowledge_gaps"`
	Continue    bool     `json:"should_continue"`
	Reasoning   string   `json:"reasoning"`
}

// QueryPlanner produces search queries.
type QueryPlanner interface {
	PlanQueries(ctx context.Context, req QueryRequest) ([]string, error)
}

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Source, error)
}

// Summarizer condenses a source.
type Summarizer interface {
	SummarizeSource(ctx context.Context, topic, query string, src Source) (Summary, error)
}

// Reflector assesses coverage and recommends whether to continue.
type Reflector interface {
	Reflect(ctx context.Context, req ReflectRequest) (Reflection, error)
}

// Writer produces the final report.
type Writer interface {
	WriteReport(ctx context.Context, topic string, findings []Finding) (string, error)
}
