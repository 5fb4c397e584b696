// Package research implements the bounded reflective research loop: plan
// queries, gather and summarize, reflect, then loop or finalize.
package research

// Finding is one summarized source.
type Finding struct {
	Content     string `json:"content"`
	SourceTitle string `json:"source_title"`
	SourceURL   string `json:"source_url"`
	SourceIndex int    `json:"source_index"`
}

// State is the research loop's private state.
type State struct {
	Topic          string    `json:"topic"`
	Depth          int       `json:"depth"`
	MaxDepth       int       `json:"max_depth"`
	Queries        []string  `json:"queries"`
	Findings       []Finding `json:"findings"`
	KnowledgeGaps  []string  `json:"knowledge_gaps"`
	ShouldContinue bool      `json:"should_continue"`
	Report         string    `json:"report,omitempty"`
	Messages       []string  `json:"messages,omitempty"`
}

// Update is a partial research state. Queries and KnowledgeGaps replace when
// non-nil; Findings and Messages append.
type Update struct {
	Depth          *int
	Queries        []string
	Findings       []Finding
	KnowledgeGaps  []string
	ShouldContinue *bool
	Report         *string
	Messages       []string
}

// Apply merges u into s without modifying s.
func Apply(s State, u Update) State {
	out := s
	out.Findings = append(append([]Finding(nil), s.Findings...), u.Findings...)
	out.Messages = append(append([]string(nil), s.Messages...), u.Messages...)
	if u.Depth != nil {
		out.Depth = *u.Depth
	}
	if u.Queries != nil {
		out.Queries = append([]string(nil), u.Queries...)
	}
	if u.KnowledgeGaps != nil {
		out.KnowledgeGaps = append([]string(nil), u.KnowledgeGaps...)
	}
	if u.ShouldContinue != nil {
		out.ShouldContinue = *u.ShouldContinue
	}
	if u.Report != nil {
		out.Report = *u.Report
	}
	return out
}
