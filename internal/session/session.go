// Package session records the forensic event log of a task thread.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status constants for sessions. They mirror the executor exit statuses.
const (
	StatusRunning       = "running"
	StatusPaused        = "paused"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusHaltedOnLimit = "halted_on_limit"
)

// Event types for the session log.
const (
	EventWorkflowStart = "workflow_start"
	EventWorkflowEnd   = "workflow_end"
	EventNodeStart     = "node_start"
	EventNodeEnd       = "node_end"
	EventRoute         = "route"

	EventBreakpoint   = "breakpoint"   // a human was asked
	EventIntervention = "intervention" // a human decision was applied
	EventCheckpoint   = "checkpoint"
	EventError        = "error"
)

// Session is the event log of one thread.
type Session struct {
	ID        string    `json:"id"` // thread id
	Query     string    `json:"query"`
	Status    string    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Events    []Event   `json:"events"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	seqCounter uint64
	mu         sync.Mutex
}

// Event is a single entry in the session log.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links the start and end events of one node run.
	CorrelationID string `json:"corr_id,omitempty"`

	Step      int    `json:"step,omitempty"`
	Iteration int    `json:"iteration,omitempty"`
	Node      string `json:"node,omitempty"`
	Next      string `json:"next,omitempty"` // route target

	Content    string `json:"content,omitempty"`
	Breakpoint string `json:"breakpoint,omitempty"`
	Decision   string `json:"decision,omitempty"`
	Risk       string `json:"risk,omitempty"`

	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// New creates a running session for a thread.
func New(threadID, query string) *Session {
	now := time.Now()
	return &Session{
		ID:        threadID,
		Query:     query,
		Status:    StatusRunning,
		Events:    []Event{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) nextSeqID() uint64 {
	return atomic.AddUint64(&s.seqCounter, 1)
}

// CurrentSeqID returns the last sequence ID used, or 0 for an empty log.
func (s *Session) CurrentSeqID() uint64 {
	return atomic.LoadUint64(&s.seqCounter)
}

// AddEvent appends an event with automatic sequencing.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.SeqID = s.nextSeqID()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// Finish records the exit status.
func (s *Session) Finish(status, result, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.Result = result
	s.Error = errMsg
	s.UpdatedAt = time.Now()
}

// StartCorrelation returns a new correlation ID.
func StartCorrelation() string {
	return uuid.New().String()[:8]
}

// Store persists sessions.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// Manager owns session lifecycle over a store.
type Manager struct {
	store Store
	mu    sync.Mutex
}

// NewManager creates a session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create starts and saves a session for threadID. An empty id gets a fresh
// one.
func (m *Manager) Create(threadID, query string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threadID == "" {
		threadID = uuid.New().String()
	}
	sess := New(threadID, query)
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Open loads the session for threadID, or creates it when none exists.
func (m *Manager) Open(threadID, query string) (*Session, error) {
	if sess, err := m.store.Load(threadID); err == nil {
		sess.Status = StatusRunning
		return sess, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	return m.Create(threadID, query)
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	return m.store.Load(id)
}

// Update saves changes to a session.
func (m *Manager) Update(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess.mu.Lock()
	sess.UpdatedAt = time.Now()
	sess.mu.Unlock()
	return m.store.Save(sess)
}

// JSONL record types.
const (
	RecordTypeHeader = "header" // session metadata, first line
	RecordTypeEvent  = "event"
	RecordTypeFooter = "footer" // exit status, last line
)

// JSONLRecord is one line of a session file.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// Header
	ID        string    `json:"id,omitempty"`
	Query     string    `json:"query,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	*Event `json:",omitempty"`

	// Footer. The session error is "failure" since "error" is the event's.
	Status    string    `json:"status,omitempty"`
	Result    string    `json:"result,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FileStore writes each session as <dir>/<id>.jsonl.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-based store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file for a session.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save writes the session through a temporary file.
func (s *FileStore) Save(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var buf bytes.Buffer
	header := JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         sess.ID,
		Query:      sess.Query,
		CreatedAt:  sess.CreatedAt,
	}
	if err := writeLine(&buf, header); err != nil {
		return err
	}
	for i := range sess.Events {
		evt := sess.Events[i]
		if err := writeLine(&buf, JSONLRecord{RecordType: RecordTypeEvent, Event: &evt}); err != nil {
			return err
		}
	}
	footer := JSONLRecord{
		RecordType: RecordTypeFooter,
		Status:     sess.Status,
		Result:     sess.Result,
		Failure:    sess.Error,
		UpdatedAt:  sess.UpdatedAt,
	}
	if err := writeLine(&buf, footer); err != nil {
		return err
	}

	path := s.Path(sess.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeLine(w io.Writer, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads a session from disk. A missing session returns an error
// satisfying os.IsNotExist.
func (s *FileStore) Load(id string) (*Session, error) {
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &Session{Events: []Event{}}
	// bufio.Reader has no line length limit, unlike Scanner.
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if perr := parseLine(bytes.TrimSpace(line), sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
	}
	if len(sess.Events) > 0 {
		sess.seqCounter = sess.Events[len(sess.Events)-1].SeqID
	}
	return sess, nil
}

func parseLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}
	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.Query = record.Query
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Result = record.Result
		sess.Error = record.Failure
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}
