package streaming

import "sync"

// HUDMessage is the envelope published to live observers. Kind discriminates
// the HUD message surface (runStart, taskStart, taskProgress, taskOutput,
// taskComplete, runComplete, atif_step); Payload carries the kind-specific
// body and is marshaled as-is.
type HUDMessage struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// HUDSender publishes messages to a live observer. Implementations must
// treat delivery as best-effort: a dropped or failed send must not affect
// persistence or orchestration, and Send must not block its caller for long.
type HUDSender interface {
	Send(msg HUDMessage)
}

// registry holds the two pieces of process-wide state called out by the
// design: the optional global HUD sender, and the session-id -> DiskWriter
// map. Both support init-once, replace-last-writer-wins semantics;
// registration/unregistration is idempotent and safe to interleave with
// step emission.
type registry struct {
	mu      sync.RWMutex
	hud     HUDSender
	writers map[string]*DiskWriter
}

var global = &registry{writers: make(map[string]*DiskWriter)}

// RegisterHUD installs the process-wide HUD sender, replacing any previous
// one. Passing nil disables HUD delivery.
func RegisterHUD(sender HUDSender) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.hud = sender
}

// UnregisterHUD removes the current HUD sender if it is still the one
// passed in, otherwise it is a no-op (guards against a stale unregister
// racing a newer registration).
func UnregisterHUD(sender HUDSender) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.hud == sender {
		global.hud = nil
	}
}

// PublishHUD sends a message to the currently registered HUD sender, if
// any. A nil sender silently no-ops. Callers must not await delivery.
func PublishHUD(msg HUDMessage) {
	global.mu.RLock()
	sender := global.hud
	global.mu.RUnlock()
	if sender == nil {
		return
	}
	go sender.Send(msg)
}

// RegisterWriter installs (or replaces) the disk writer for a session id.
func RegisterWriter(sessionID string, w *DiskWriter) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.writers[sessionID] = w
}

// UnregisterWriter removes the disk writer entry for a session id.
func UnregisterWriter(sessionID string) {
	global.mu.Lock()
	defer global.mu.Unlock()
	delete(global.writers, sessionID)
}

// WriterFor returns the registered disk writer for a session id, if any.
func WriterFor(sessionID string) (*DiskWriter, bool) {
	global.mu.RLock()
	defer global.mu.RUnlock()
	w, ok := global.writers[sessionID]
	return w, ok
}
