package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// transport adapts a gorilla connection to registry.Transport. The hub's
// writer goroutine is the only caller of WriteFrame; gorilla allows Close
// and WriteControl concurrently with it.
type transport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (t *transport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *transport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}
