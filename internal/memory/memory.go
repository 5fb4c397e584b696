// Package memory provides a full-text index over research findings so later
// research can see what is already known.
package memory

import (
	"context"
	"time"
)

// Finding is one indexed piece of research.
type Finding struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`   // plan reference or research thread
	Query     string    `json:"query"` // query that produced it
	Content   string    `json:"content"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	Kind      string    `json:"kind"` // "discovery" | "source" | "summary"
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a search result with its relevance score.
type Hit struct {
	Finding
	Score float32 `json:"score"` // normalized 0-1
}

// SearchOpts configures a search.
type SearchOpts struct {
	Limit    int     // max results, default 10
	MinScore float32 // minimum normalized score
	Ref      string  // restrict to one plan reference
}

// Index is the interface for findings storage.
type Index interface {
	Add(ctx context.Context, f Finding) (string, error)
	Search(ctx context.Context, query string, opts SearchOpts) ([]Hit, error)
	HasQuery(ctx context.Context, query string) (bool, error)
	Count() (uint64, error)
	Close() error
}
