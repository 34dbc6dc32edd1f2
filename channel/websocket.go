package channel

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// webSocket adapts a *websocket.Conn to the Channel interface, sending and
// receiving one text WebSocket frame per record. Grounded in the ServeWS
// pattern used by other JSON-RPC-over-WebSocket servers in the wild, which
// upgrade an http.Handler and then relay whole messages in both directions.
type webSocket struct {
	conn *websocket.Conn

	wmu sync.Mutex // gorilla requires writes to be serialized by the caller
}

// NewWebSocket wraps an already-established WebSocket connection as a
// Channel. The caller retains responsibility for the HTTP upgrade handshake;
// see Upgrade for a convenience wrapper around that step.
func NewWebSocket(conn *websocket.Conn) Channel { return &webSocket{conn: conn} }

func (w *webSocket) Send(msg []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, msg)
}

func (w *webSocket) Recv() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (w *webSocket) Close() error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Upgrade promotes an inbound HTTP request to a WebSocket connection and
// returns a Channel wrapping it. It is meant to be called from the body of
// an http.Handler that is dedicated to serving one JSON-RPC peer per
// connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}
