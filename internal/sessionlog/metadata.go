package sessionlog

import "time"

// Metadata is the projection get_session_metadata produces: a compact view
// over a session's chain, preferring the terminal entry's aggregates when
// present.
type Metadata struct {
	SessionID        string    `json:"sessionId"`
	TaskID           string    `json:"taskId,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	EndedAt          time.Time `json:"endedAt,omitempty"`
	Outcome          Outcome   `json:"outcome,omitempty"`
	TotalTurns       int       `json:"totalTurns"`
	TotalUsage       *Usage    `json:"totalUsage,omitempty"`
	FilesModified    []string  `json:"filesModified,omitempty"`
	Commits          []string  `json:"commits,omitempty"`
	Model            string    `json:"model,omitempty"`
	Cwd              string    `json:"cwd,omitempty"`
	FirstUserMessage string    `json:"firstUserMessage,omitempty"`
}

// GetSessionMetadata loads a session and extracts its metadata projection.
func (l *Log) GetSessionMetadata(sessionID string) (Metadata, error) {
	entries, err := l.LoadSession(sessionID)
	if err != nil {
		return Metadata{}, err
	}

	meta := Metadata{SessionID: sessionID}
	turns := 0
	var usage Usage
	haveUsage := false

	for _, e := range entries {
		switch e.Type {
		case EntrySessionStart:
			meta.StartedAt = e.Timestamp
			meta.TaskID = e.TaskID
			meta.Model = e.Model
			meta.Cwd = e.Cwd
		case EntryUser:
			turns++
			if meta.FirstUserMessage == "" {
				meta.FirstUserMessage = e.Content
			}
		case EntryAssistant:
			turns++
			if e.Usage != nil {
				usage = usage.add(*e.Usage)
				haveUsage = true
			}
			if e.Model != "" {
				meta.Model = e.Model
			}
		case EntrySessionEnd:
			meta.EndedAt = e.Timestamp
			meta.Outcome = e.Outcome
			meta.TotalTurns = e.TotalTurns
			meta.FilesModified = e.FilesModified
			meta.Commits = e.Commits
			if e.Usage != nil {
				usage = *e.Usage
				haveUsage = true
			}
		}
	}

	if meta.TotalTurns == 0 {
		meta.TotalTurns = turns
	}
	if haveUsage {
		meta.TotalUsage = &usage
	}
	return meta, nil
}
