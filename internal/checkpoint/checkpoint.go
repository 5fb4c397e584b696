// Package checkpoint persists task state after every executor step so an
// interrupted or paused thread can be continued.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/taskloop/internal/state"
)

// ErrNotFound is returned when a thread has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Record is the state of a thread after one step.
type Record struct {
	ThreadID  string          `json:"thread_id"`
	Step      int             `json:"step"`
	Node      string          `json:"node,omitempty"` // node that produced the state
	Next      string          `json:"next"`           // node to run on resume
	State     state.TaskState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
}

// Checkpointer stores records. Latest returns ErrNotFound for unknown threads.
type Checkpointer interface {
	Save(ctx context.Context, r Record) error
	Latest(ctx context.Context, threadID string) (*Record, error)
}

// FileStore keeps one JSON file per step under a directory per thread.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) threadDir(threadID string) string {
	return filepath.Join(s.dir, threadID)
}

// Save writes r to <dir>/<thread>/<step>.json.
func (s *FileStore) Save(ctx context.Context, r Record) error {
	if r.ThreadID == "" {
		return fmt.Errorf("checkpoint: thread id is required")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.threadDir(r.ThreadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%06d.json", r.Step))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Latest loads the highest step recorded for threadID.
func (s *FileStore) Latest(ctx context.Context, threadID string) (*Record, error) {
	steps, err := s.steps(threadID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	return s.load(threadID, steps[len(steps)-1])
}

// History returns every record of threadID in step order.
func (s *FileStore) History(ctx context.Context, threadID string) ([]Record, error) {
	steps, err := s.steps(threadID)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, step := range steps {
		r, err := s.load(threadID, step)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *FileStore) steps(threadID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.threadDir(threadID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var steps []int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		steps = append(steps, n)
	}
	sort.Ints(steps)
	return steps, nil
}

func (s *FileStore) load(threadID string, step int) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.threadDir(threadID), fmt.Sprintf("%06d.json", step)))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("checkpoint %s/%d: %w", threadID, step, err)
	}
	return &r, nil
}
