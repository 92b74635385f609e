package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Log manages the on-disk append-only session files under a root directory.
type Log struct {
	dir string
}

// New creates a session log rooted at dir (created lazily on first write).
func New(dir string) *Log {
	return &Log{dir: dir}
}

// Handle is the mutable, in-memory state of an active session: the last
// written UUID (for parent-chaining), running turn/usage counters, and the
// set of modified files. It carries no file handle; each log_* call opens,
// appends, and closes the file, keeping the Handle itself cheap to pass by
// value between calls.
type Handle struct {
	SessionID     string
	TaskID        string
	lastUUID      string
	turnCount     int
	usage         Usage
	filesModified map[string]struct{}
}

// StartSession begins a new session, writing the session_start entry.
func (l *Log) StartSession(taskID, model, provider, cwd, gitBranch, sessionID string) (Handle, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	h := Handle{SessionID: sessionID, TaskID: taskID, filesModified: make(map[string]struct{})}

	e := Entry{
		UUID:      uuid.NewString(),
		Type:      EntrySessionStart,
		Timestamp: time.Now(),
		Cwd:       cwd,
		Model:     model,
		Provider:  provider,
		GitBranch: gitBranch,
		TaskID:    taskID,
	}
	if err := l.append(sessionID, e); err != nil {
		return Handle{}, err
	}
	h.lastUUID = e.UUID
	return h, nil
}

// LogUserMessage appends a user message entry.
func (l *Log) LogUserMessage(h Handle, content string) (Handle, error) {
	e := Entry{
		UUID:       uuid.NewString(),
		ParentUUID: h.lastUUID,
		Type:       EntryUser,
		Timestamp:  time.Now(),
		Role:       "user",
		Content:    content,
	}
	if err := l.append(h.SessionID, e); err != nil {
		return h, err
	}
	h.lastUUID = e.UUID
	h.turnCount++
	return h, nil
}

// AssistantMessageInput bundles the optional fields of an assistant entry.
type AssistantMessageInput struct {
	Content    string
	Model      string
	MessageID  string
	Usage      *Usage
	RequestID  string
	StopReason string
}

// LogAssistantMessage appends an assistant message entry, folding any usage
// into the handle's running totals.
func (l *Log) LogAssistantMessage(h Handle, in AssistantMessageInput) (Handle, error) {
	e := Entry{
		UUID:       uuid.NewString(),
		ParentUUID: h.lastUUID,
		Type:       EntryAssistant,
		Timestamp:  time.Now(),
		Role:       "assistant",
		Content:    in.Content,
		Model:      in.Model,
		MessageID:  in.MessageID,
		Usage:      in.Usage,
		RequestID:  in.RequestID,
		StopReason: in.StopReason,
	}
	if err := l.append(h.SessionID, e); err != nil {
		return h, err
	}
	h.lastUUID = e.UUID
	h.turnCount++
	if in.Usage != nil {
		h.usage = h.usage.add(*in.Usage)
	}
	return h, nil
}

// LogToolResult appends a tool_result entry.
func (l *Log) LogToolResult(h Handle, toolUseID, content string, isError bool) (Handle, error) {
	e := Entry{
		UUID:       uuid.NewString(),
		ParentUUID: h.lastUUID,
		Type:       EntryToolResult,
		Timestamp:  time.Now(),
		ToolUseID:  toolUseID,
		Content:    content,
		IsError:    isError,
	}
	if err := l.append(h.SessionID, e); err != nil {
		return h, err
	}
	h.lastUUID = e.UUID
	return h, nil
}

// TrackFileModified is a pure handle update; it does not write to disk.
func (h Handle) TrackFileModified(path string) Handle {
	next := h
	next.filesModified = make(map[string]struct{}, len(h.filesModified)+1)
	for k := range h.filesModified {
		next.filesModified[k] = struct{}{}
	}
	next.filesModified[path] = struct{}{}
	return next
}

// EndSession writes the terminal session_end entry.
func (l *Log) EndSession(h Handle, outcome Outcome, reason string, commits []string) error {
	files := make([]string, 0, len(h.filesModified))
	for f := range h.filesModified {
		files = append(files, f)
	}
	sort.Strings(files)

	e := Entry{
		UUID:          uuid.NewString(),
		ParentUUID:    h.lastUUID,
		Type:          EntrySessionEnd,
		Timestamp:     time.Now(),
		Outcome:       outcome,
		Reason:        reason,
		TotalTurns:    h.turnCount,
		Usage:         &h.usage,
		FilesModified: files,
		Commits:       commits,
	}
	return l.append(h.SessionID, e)
}

func (l *Log) path(sessionID string) string {
	return filepath.Join(l.dir, sessionID+".jsonl")
}

func (l *Log) append(sessionID string, e Entry) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("sessionlog: mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessionlog: open: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(e)
}

// LoadSession reads a session file, decoding one entry per line. Lines that
// fail to parse are skipped (tolerant load); the rest are returned in
// order.
func (l *Log) LoadSession(sessionID string) ([]Entry, error) {
	f, err := os.Open(l.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("sessionlog: scan: %w", err)
	}
	return entries, nil
}

// RedactContent rewrites every line of a session file whose "content"
// field matches, replacing it with replacement in place. It patches the
// raw JSON line via sjson rather than a full Entry unmarshal/marshal
// round-trip, so any fields the current Entry struct doesn't know about
// (e.g. from a log written by an older version) survive untouched.
// Returns the number of lines redacted.
func (l *Log) RedactContent(sessionID string, match func(content string) bool, replacement string) (int, error) {
	path := l.path(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("sessionlog: open: %w", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	redacted := 0
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		content := gjson.Get(line, "content").String()
		if content == "" || !match(content) {
			continue
		}
		patched, err := sjson.Set(line, "content", replacement)
		if err != nil {
			return redacted, fmt.Errorf("sessionlog: redact line %d: %w", i, err)
		}
		lines[i] = patched
		redacted++
	}
	if redacted == 0 {
		return 0, nil
	}

	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return redacted, fmt.Errorf("sessionlog: write: %w", err)
	}
	return redacted, nil
}

// ListSessions returns session ids present on disk, sorted descending.
func (l *Log) ListSessions() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".jsonl"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// SearchSessions does a case-insensitive substring match over the
// concatenated user/assistant text content of every session, returning
// metadata for the matches. gjson is used to pull the "content" field out
// of each raw line without a full Entry unmarshal, so a line whose schema
// has drifted (an older writer, say) still contributes to the search
// instead of failing the whole scan.
func (l *Log) SearchSessions(term string) ([]Metadata, error) {
	ids, err := l.ListSessions()
	if err != nil {
		return nil, err
	}
	term = strings.ToLower(term)

	var hits []Metadata
	for _, id := range ids {
		f, err := os.Open(l.path(id))
		if err != nil {
			continue
		}
		matched := false
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for sc.Scan() {
			line := sc.Bytes()
			typ := gjson.GetBytes(line, "type").String()
			if typ != string(EntryUser) && typ != string(EntryAssistant) {
				continue
			}
			content := gjson.GetBytes(line, "content").String()
			if strings.Contains(strings.ToLower(content), term) {
				matched = true
				break
			}
		}
		f.Close()
		if matched {
			if meta, err := l.GetSessionMetadata(id); err == nil {
				hits = append(hits, meta)
			}
		}
	}
	return hits, nil
}

// FindSessionsByTask filters session metadata by task id.
func (l *Log) FindSessionsByTask(taskID string) ([]Metadata, error) {
	ids, err := l.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []Metadata
	for _, id := range ids {
		meta, err := l.GetSessionMetadata(id)
		if err != nil {
			continue
		}
		if meta.TaskID == taskID {
			out = append(out, meta)
		}
	}
	return out, nil
}
