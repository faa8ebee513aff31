package patcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FailureRecord describes one diff that could not be applied.
type FailureRecord struct {
	File        string    `json:"file"`
	Diff        string    `json:"diff"`
	FileContent string    `json:"fileContent"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// FailureLog is an append-only newline-delimited JSON file of failed patches.
type FailureLog struct {
	path string
	mu   sync.Mutex
}

// NewFailureLog returns a log appending to path. The file is created lazily.
func NewFailureLog(path string) *FailureLog {
	return &FailureLog{path: path}
}

// Path returns the location of the log file.
func (l *FailureLog) Path() string {
	return l.path
}

// Append writes one record as a single line.
func (l *FailureLog) Append(rec FailureRecord) error {
	if l == nil || l.path == "" {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode failure record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFailures loads every record from a failure log. A missing file yields none.
func ReadFailures(path string) ([]FailureRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []FailureRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec FailureRecord
		if err := dec.Decode(&rec); err != nil {
			return out, fmt.Errorf("corrupt failure log %s: %w", path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
