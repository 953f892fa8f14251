package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"guideflow/internal/jsonx"
)

// LogWriter mirrors a session's event stream to an append-only NDJSON file.
// There is exactly one writer per session; the file is never rewritten.
type LogWriter struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewLogWriter opens (creating parents as needed) the NDJSON log for append.
func NewLogWriter(path string) (*LogWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &LogWriter{path: path, file: file}, nil
}

// Path returns the log file path.
func (w *LogWriter) Path() string {
	return w.path
}

// Append serializes the event as one JSON line and flushes it to disk. Implements Mirror.
func (w *LogWriter) Append(evt Event) error {
	data, err := jsonx.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("event log %s is closed", w.path)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return w.file.Sync()
}

// Close closes the underlying file. Further appends fail.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
