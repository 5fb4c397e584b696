package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vinayprograms/agentkit/tools"
	"github.com/vinayprograms/taskloop/internal/research"
	"github.com/vinayprograms/taskloop/internal/workflow"
)

// Tool is the part of an agentkit tool the adapters call.
type Tool interface {
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolLookup finds a tool by name. It returns nil for unknown tools.
type ToolLookup func(name string) Tool

// RegistryLookup looks tools up in an agentkit registry.
func RegistryLookup(r *tools.Registry) ToolLookup {
	return func(name string) Tool {
		if !r.Has(name) {
			return nil
		}
		return r.Get(name)
	}
}

// ToolAction runs one registry tool with the action payload as its main
// argument. A payload holding a JSON object is passed through as the full
// argument map.
type ToolAction struct {
	lookup ToolLookup
	tool   string
	argKey string
}

// NewToolAction creates an action calling tool with the payload under argKey.
func NewToolAction(lookup ToolLookup, tool, argKey string) *ToolAction {
	return &ToolAction{lookup: lookup, tool: tool, argKey: argKey}
}

// Execute runs the tool. Tool errors are reported as a failed result so the
// planner can react to them.
func (a *ToolAction) Execute(ctx context.Context, payload string) (workflow.Result, error) {
	t := a.lookup(a.tool)
	if t == nil {
		return workflow.Result{Output: fmt.Sprintf("tool %s is not available", a.tool)}, nil
	}
	res, err := t.Execute(ctx, toolArgs(payload, a.argKey))
	if err != nil {
		if ctx.Err() != nil {
			return workflow.Result{}, ctx.Err()
		}
		return workflow.Result{Output: err.Error()}, nil
	}
	return workflow.Result{Output: formatResult(res), Success: true}, nil
}

func toolArgs(payload, key string) map[string]interface{} {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
			return args
		}
	}
	return map[string]interface{}{key: trimmed}
}

func formatResult(v interface{}) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// ToolSearcher runs research searches through a search tool.
type ToolSearcher struct {
	lookup ToolLookup
	tool   string
}

// NewToolSearcher creates a searcher over tool (usually web_search).
func NewToolSearcher(lookup ToolLookup, tool string) *ToolSearcher {
	return &ToolSearcher{lookup: lookup, tool: tool}
}

// Search returns up to maxResults sources for query.
func (s *ToolSearcher) Search(ctx context.Context, query string, maxResults int) ([]research.Source, error) {
	t := s.lookup(s.tool)
	if t == nil {
		return nil, fmt.Errorf("search tool %s is not available", s.tool)
	}
	res, err := t.Execute(ctx, map[string]interface{}{"query": query})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	sources := ParseSources(res)
	if len(sources) == 0 {
		if text := strings.TrimSpace(formatResult(res)); text != "" {
			sources = []research.Source{{Title: query, Snippet: text}}
		}
	}
	if maxResults > 0 && len(sources) > maxResults {
		sources = sources[:maxResults]
	}
	return sources, nil
}

var (
	urlRe    = regexp.MustCompile(`https?://[^\s<>"'()\[\]]+`)
	bulletRe = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*])\s*`)
)

// ParseSources reads search results from a structured value, a JSON
// string or plain text blocks.
func ParseSources(v interface{}) []research.Source {
	switch r := v.(type) {
	case string:
		var decoded interface{}
		if err := json.Unmarshal([]byte(r), &decoded); err == nil {
			if out := sourcesFromValue(decoded); len(out) > 0 {
				return out
			}
		}
		return sourcesFromText(r)
	case []byte:
		return ParseSources(string(r))
	}
	// Round-trip typed results into generic JSON values.
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}
	return sourcesFromValue(decoded)
}

func sourcesFromValue(v interface{}) []research.Source {
	switch r := v.(type) {
	case []interface{}:
		var out []research.Source
		for _, item := range r {
			if m, ok := item.(map[string]interface{}); ok {
				if src, ok := sourceFromMap(m); ok {
					out = append(out, src)
				}
			}
		}
		return out
	case map[string]interface{}:
		for _, key := range []string{"results", "items", "data", "organic"} {
			if list, ok := r[key]; ok {
				return sourcesFromValue(list)
			}
		}
		if src, ok := sourceFromMap(r); ok {
			return []research.Source{src}
		}
	}
	return nil
}

func sourceFromMap(m map[string]interface{}) (research.Source, bool) {
	src := research.Source{
		Title:   firstString(m, "title", "name"),
		URL:     firstString(m, "url", "link", "href"),
		Snippet: firstString(m, "snippet", "content", "description", "text", "body"),
	}
	return src, src.URL != "" || src.Snippet != ""
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// sourcesFromText splits text into blank-line separated blocks and keeps the
// ones carrying a URL.
func sourcesFromText(text string) []research.Source {
	var out []research.Source
	for _, block := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		block = strings.TrimSpace(block)
		link := urlRe.FindString(block)
		if link == "" {
			continue
		}
		link = strings.TrimRight(link, ".,;:")
		var title string
		var rest []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			clean := strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
			for _, p := range []string{"Title:", "URL:", "Snippet:"} {
				clean = strings.TrimSpace(strings.TrimPrefix(clean, p))
			}
			switch {
			case clean == "" || clean == link:
			case title == "" && !strings.Contains(line, link):
				title = clean
			case !strings.Contains(line, link):
				rest = append(rest, clean)
			}
		}
		if title == "" {
			title = link
		}
		out = append(out, research.Source{Title: title, URL: link, Snippet: strings.Join(rest, " ")})
	}
	return out
}

// Asker puts a free-form question to a human.
// *hitl.ConsoleSource implements it.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// AskAction is the ask-human action.
type AskAction struct {
	asker Asker
}

// NewAskAction creates an ask-human action.
func NewAskAction(a Asker) *AskAction {
	return &AskAction{asker: a}
}

// Execute asks the question in payload and returns the answer.
func (a *AskAction) Execute(ctx context.Context, payload string) (workflow.Result, error) {
	answer, err := a.asker.Ask(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			return workflow.Result{}, ctx.Err()
		}
		return workflow.Result{Output: "no answer: " + err.Error()}, nil
	}
	if answer == "" {
		return workflow.Result{Output: "the user gave no answer"}, nil
	}
	return workflow.Result{Output: "User answered: " + answer, Success: true}, nil
}
