package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
)

// Watcher notices edits to a plan file made outside the running session.
// Only the goal and the phase list count as an edit; completion flags and
// progress entries written by the session itself do not.
type Watcher struct {
	path   string
	fw     *fsnotify.Watcher
	logger *logging.Logger

	mu     sync.Mutex
	acked  string
	stale  bool
	closed chan struct{}
}

// Watch starts watching the plan file at path.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// The store replaces the file by rename, so watch the directory.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	w := &Watcher{
		path:   filepath.Clean(path),
		fw:     fw,
		logger: logging.New().WithComponent("plan-watcher"),
		closed: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.check()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plan watcher error", map[string]interface{}{"error": err.Error()})
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) check() {
	fp, err := fingerprintFile(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.acked != "" && fp != w.acked && !w.stale {
		w.stale = true
		w.logger.Info("plan edited externally", map[string]interface{}{"path": w.path})
	}
}

// Ack records the current file contents as known to the session.
func (w *Watcher) Ack() error {
	fp, err := fingerprintFile(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.acked = fp
	w.stale = false
	w.mu.Unlock()
	return nil
}

// Stale reports whether the goal or phases changed since the last Ack.
func (w *Watcher) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}

// Close stops watching.
func (w *Watcher) Close() error {
	select {
	case <-w.closed:
		return nil
	default:
		close(w.closed)
	}
	return w.fw.Close()
}

func fingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(p.Goal))
	for _, ph := range p.Phases {
		fmt.Fprintf(h, "\x00%d\x00%s\x00%s", ph.Index, ph.Name, ph.Description)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
