package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSHUDSender publishes HUD messages over a single websocket connection,
// used for the benchmark runner's --hud-url flag. Send is fire-and-forget:
// a failed or slow write never blocks or errors the caller.
type WSHUDSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialHUD opens a websocket connection to url for HUD delivery.
func DialHUD(ctx context.Context, url string) (*WSHUDSender, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &WSHUDSender{conn: conn}, nil
}

// Send marshals msg and writes it as a single text frame. Errors are
// swallowed per the HUD surface's best-effort delivery contract.
func (s *WSHUDSender) Send(msg HUDMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	_ = s.conn.Write(ctx, websocket.MessageText, body)
}

// Close closes the underlying websocket connection.
func (s *WSHUDSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(websocket.StatusNormalClosure, "hud sender closed")
	s.conn = nil
	return err
}
