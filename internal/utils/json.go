package utils

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/websocket/v2"
)

// SafeJSONParse parses JSON safely
func SafeJSONParse(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// WSWriter serialises writes to one WebSocket connection. Fiber's websocket
// connection does not allow concurrent writers, and views are pushed from
// several listener goroutines.
type WSWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSWriter(c *websocket.Conn) *WSWriter {
	return &WSWriter{conn: c}
}

// SendJSON sends a JSON payload to the connection
func (w *WSWriter) SendJSON(payload interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(payload)
}

// LogError logs an error if it's not nil
func LogError(err error, context string) {
	if err != nil {
		slog.Error("operation failed", "context", context, "error", err)
	}
}
