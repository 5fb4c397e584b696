package plan

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists plan records.
type Store interface {
	Read(ctx context.Context, ref string) (*Plan, error)
	Write(ctx context.Context, ref string, p *Plan) error
}

// FindingsStore persists findings separately from the plan, append only.
type FindingsStore interface {
	AppendFindings(ctx context.Context, ref string, f Findings) error
	ReadFindings(ctx context.Context, ref string) ([]Findings, error)
}

// FileStore keeps one JSON plan file and one JSONL findings file per
// reference in a workspace directory.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plan directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the plan file path for ref.
func (s *FileStore) Path(ref string) string {
	return filepath.Join(s.dir, ref+".plan.json")
}

func (s *FileStore) findingsPath(ref string) string {
	return filepath.Join(s.dir, ref+".findings.jsonl")
}

// Read loads the plan for ref.
func (s *FileStore) Read(ctx context.Context, ref string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", ref, err)
	}
	return &p, nil
}

// Write replaces the plan for ref. The file is swapped in atomically.
func (s *FileStore) Write(ctx context.Context, ref string, p *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	path := s.Path(ref)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write plan: %w", err)
	}
	return nil
}

// AppendFindings appends one findings record.
func (s *FileStore) AppendFindings(ctx context.Context, ref string, f Findings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}
	file, err := os.OpenFile(s.findingsPath(ref), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open findings file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write findings: %w", err)
	}
	return nil
}

// ReadFindings returns all findings saved for ref, oldest first.
func (s *FileStore) ReadFindings(ctx context.Context, ref string) ([]Findings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	file, err := os.Open(s.findingsPath(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open findings file: %w", err)
	}
	defer file.Close()

	var out []Findings
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Findings
		if err := json.Unmarshal(line, &f); err != nil {
			return nil, fmt.Errorf("failed to parse findings: %w", err)
		}
		out = append(out, f)
	}
	return out, scanner.Err()
}
