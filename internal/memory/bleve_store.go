package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"
	"github.com/vinayprograms/taskloop/internal/plan"
)

// FindingsIndex implements Index using Bleve for BM25 search.
type FindingsIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	now   func() time.Time
}

// findingDocument is the indexed form of a Finding.
type findingDocument struct {
	Ref       string    `json:"ref"`
	Query     string    `json:"query"`
	QueryKey  string    `json:"query_key"`
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFindingsIndex opens the index under dir, creating it if needed.
func NewFindingsIndex(dir string) (*FindingsIndex, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	indexPath := filepath.Join(dir, "findings.bleve")

	var index bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); os.IsNotExist(statErr) {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create bleve index: %w", err)
		}
	} else {
		index, err = bleve.Open(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open bleve index: %w", err)
		}
	}
	return &FindingsIndex{index: index, now: time.Now}, nil
}

// NewMemFindingsIndex creates an index that lives only in memory.
func NewMemFindingsIndex() (*FindingsIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &FindingsIndex{index: index, now: time.Now}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	keyword := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("query", text)
	doc.AddFieldMappingsAt("query_key", keyword)
	doc.AddFieldMappingsAt("ref", keyword)
	doc.AddFieldMappingsAt("url", keyword)
	doc.AddFieldMappingsAt("kind", keyword)
	doc.AddFieldMappingsAt("created_at", bleve.NewDateTimeFieldMapping())

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

func queryKey(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Add indexes one finding and returns its id.
func (s *FindingsIndex) Add(ctx context.Context, f Finding) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(f)
}

func (s *FindingsIndex) add(f Finding) (string, error) {
	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := f.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	doc := findingDocument{
		Ref:       f.Ref,
		Query:     f.Query,
		QueryKey:  queryKey(f.Query),
		Content:   f.Content,
		Title:     f.Title,
		URL:       f.URL,
		Kind:      f.Kind,
		CreatedAt: created,
	}
	if err := s.index.Index(id, doc); err != nil {
		return "", fmt.Errorf("failed to index finding: %w", err)
	}
	return id, nil
}

// IndexFindings indexes a saved findings record: each discovery and each
// source becomes its own document.
func (s *FindingsIndex) IndexFindings(ctx context.Context, ref string, f plan.Findings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]Finding, 0, len(f.Discoveries)+len(f.Sources))
	for _, d := range f.Discoveries {
		batch = append(batch, Finding{Ref: ref, Query: f.Query, Content: d, Kind: "discovery", CreatedAt: f.Timestamp})
	}
	for i, src := range f.Sources {
		var link string
		if i < len(f.Links) {
			link = f.Links[i]
		}
		batch = append(batch, Finding{Ref: ref, Query: f.Query, Content: src, Title: src, URL: link, Kind: "source", CreatedAt: f.Timestamp})
	}
	for _, item := range batch {
		if _, err := s.add(item); err != nil {
			return err
		}
	}
	return nil
}

// Search runs a full-text search over finding content, titles and queries.
func (s *FindingsIndex) Search(ctx context.Context, text string, opts SearchOpts) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var q query.Query = bleve.NewMatchQuery(text)
	if opts.Ref != "" {
		ref := bleve.NewTermQuery(opts.Ref)
		ref.SetField("ref")
		q = bleve.NewConjunctionQuery(q, ref)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []Hit
	for _, h := range res.Hits {
		score := float32(h.Score)
		if score > 1 {
			score = 1 - (1 / (1 + score))
		}
		if score < opts.MinScore {
			continue
		}
		hits = append(hits, Hit{Finding: hitFinding(h.ID, h.Fields), Score: score})
	}
	return hits, nil
}

func hitFinding(id string, fields map[string]interface{}) Finding {
	str := func(k string) string {
		v, _ := fields[k].(string)
		return v
	}
	f := Finding{
		ID:      id,
		Ref:     str("ref"),
		Query:   str("query"),
		Content: str("content"),
		Title:   str("title"),
		URL:     str("url"),
		Kind:    str("kind"),
	}
	if ts := str("created_at"); ts != "" {
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return f
}

// HasQuery reports whether findings for the same query were indexed before.
func (s *FindingsIndex) HasQuery(ctx context.Context, text string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := queryKey(text)
	if key == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := bleve.NewTermQuery(key)
	q.SetField("query_key")
	req := bleve.NewSearchRequest(q)
	req.Size = 1
	res, err := s.index.Search(req)
	if err != nil {
		return false, fmt.Errorf("search failed: %w", err)
	}
	return res.Total > 0, nil
}

// Count returns the number of indexed documents.
func (s *FindingsIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close closes the index.
func (s *FindingsIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
