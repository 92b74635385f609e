// Package streaming persists trajectory steps to an append-only on-disk log
// as they happen, written synchronously under a mutex, and forwards HUD
// messages to the single registered live HUD sender on a separate goroutine
// so a slow sender never blocks the publisher.
package streaming

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/forgebench/forgebench/internal/trajectory"
)

// DiskWriter appends one JSON line per recorded step to a session-keyed
// file, then a final aggregate line on Close. Write failures go to the
// onError callback, if one was given, and never reach the caller; Close
// also returns the error from closing the file.
type DiskWriter struct {
	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	onError func(error)
}

// lineFrame discriminates the streamed lines within one session's file.
type lineFrame struct {
	Kind          string               `json:"kind"` // "session_start", "step", "session_final"
	SessionID     string               `json:"session_id,omitempty"`
	Agent         *trajectory.Agent    `json:"agent,omitempty"`
	Step          *trajectory.Step     `json:"step,omitempty"`
	FinalMetrics  *trajectory.FinalMetrics `json:"final_metrics,omitempty"`
	Notes         string               `json:"notes,omitempty"`
	SchemaVersion string               `json:"schema_version,omitempty"`
}

// NewDiskWriter opens (creating parent directories as needed) an
// append-only file at dir/<sessionID>.jsonl and writes the session_start
// framing line. onError, if non-nil, receives any write failure; it must
// not block or panic.
func NewDiskWriter(dir, sessionID string, agent trajectory.Agent, onError func(error)) (*DiskWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("streaming: create dir: %w", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("streaming: open %s: %w", path, err)
	}
	w := &DiskWriter{f: f, enc: json.NewEncoder(f), onError: onError}
	w.writeLine(lineFrame{
		Kind:          "session_start",
		SessionID:     sessionID,
		Agent:         &agent,
		SchemaVersion: trajectory.SchemaVersion,
	})
	return w, nil
}

// WriteStep appends a single step line, preserving emission order within
// this session.
func (w *DiskWriter) WriteStep(step trajectory.Step) {
	w.writeLine(lineFrame{Kind: "step", Step: &step})
}

// Close writes the terminal aggregate line and releases the file.
func (w *DiskWriter) Close(final *trajectory.FinalMetrics, status string) error {
	w.writeLine(lineFrame{Kind: "session_final", FinalMetrics: final, Notes: status})

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	if err != nil && w.onError != nil {
		w.onError(fmt.Errorf("streaming: close: %w", err))
	}
	return err
}

func (w *DiskWriter) writeLine(l lineFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return
	}
	if err := w.enc.Encode(l); err != nil && w.onError != nil {
		w.onError(fmt.Errorf("streaming: write: %w", err))
	}
}
