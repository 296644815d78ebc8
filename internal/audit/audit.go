// Package audit records credential relay invocations as JSON lines.
// Entries hold invocation metadata only; relayed stream content is never
// written.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is a single invocation record.
type Entry struct {
	Timestamp string   `json:"timestamp"`
	Operation string   `json:"operation"` // "get", "store", "erase"
	Token     string   `json:"token"`     // "fill", "approve", "reject"
	Backend   string   `json:"backend"`
	Launcher  string   `json:"launcher,omitempty"`
	Args      []string `json:"args"`
	ExitCode  int      `json:"exit_code"`
	BytesIn   int64    `json:"bytes_in"`
	BytesOut  int64    `json:"bytes_out"`
	Duration  float64  `json:"duration_ms"`
	State     string   `json:"state"`
	Error     string   `json:"error,omitempty"`
}

// Logger appends entries to an audit file.
type Logger struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

// NewLogger opens (or creates) the audit file at path.
// If path is empty, audit logging is disabled.
func NewLogger(path string) (*Logger, error) {
	if path == "" {
		return &Logger{writer: nopWriteCloser{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	return &Logger{writer: file}, nil
}

// Log appends entry, stamping it with the current time if unset.
func (l *Logger) Log(entry Entry) error {
	if l == nil || l.writer == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	data = append(data, '\n')
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	return nil
}

// Close closes the audit file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		return l.writer.Close()
	}
	return nil
}

// ReadLog reads every entry from the audit file at path. Malformed lines
// are skipped; a missing file yields no entries.
func ReadLog(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var entries []Entry
	decoder := json.NewDecoder(file)
	for {
		var entry Entry
		if err := decoder.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// The decoder cannot resynchronize after a syntax error.
				break
			}
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// nopWriteCloser is a no-op io.WriteCloser for disabled audit logging.
type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
