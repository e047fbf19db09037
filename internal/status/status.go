// Package status persists agent status snapshots as a JSON file for external
// health checks.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/api/schemas"
)

// DefaultMaxAge is how old a status file may be before it counts as stale.
const DefaultMaxAge = 300 * time.Second

// Writer implements schemas.StatusSink on top of a file. Each write lands in a
// temp file in the same directory and is renamed over the target, so readers
// never see a partial document.
type Writer struct {
	path   string
	logger *zap.Logger

	mu          sync.Mutex
	lastVersion uint64
}

// NewWriter returns a Writer for path, creating its directory if needed.
func NewWriter(path string, logger *zap.Logger) (*Writer, error) {
	if path == "" {
		return nil, &schemas.ConfigError{Field: "status.path", Reason: "must not be empty"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}
	return &Writer{path: path, logger: logger.Named("status")}, nil
}

// Path returns the file the writer maintains.
func (w *Writer) Path() string { return w.path }

// Publish writes st unless a newer snapshot has already been written.
func (w *Writer) Publish(st schemas.AgentStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if st.Version != 0 && st.Version <= w.lastVersion {
		w.logger.Debug("Dropping stale status snapshot",
			zap.Uint64("version", st.Version),
			zap.Uint64("last_version", w.lastVersion))
		return nil
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := writeAtomic(w.path, data); err != nil {
		return err
	}
	w.lastVersion = st.Version
	return nil
}

func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write status: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync status: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close status: %w", err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod status: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename status: %w", err)
	}
	return nil
}

// Read loads a status file.
func Read(path string) (schemas.AgentStatus, error) {
	var st schemas.AgentStatus
	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse status %s: %w", path, err)
	}
	return st, nil
}

// Stale reports why st should be considered unhealthy, or "" if it is fresh.
// wantRunning additionally requires the running state.
func Stale(st schemas.AgentStatus, now time.Time, maxAge time.Duration, wantRunning bool) string {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if age := now.Sub(st.UpdatedAt); age > maxAge {
		return fmt.Sprintf("status is %s old (limit %s)", age.Round(time.Second), maxAge)
	}
	if wantRunning && st.State != schemas.StateRunning {
		return fmt.Sprintf("state is %s, want %s", st.State, schemas.StateRunning)
	}
	return ""
}
